package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/containerd/errdefs"
)

// ErrorClass groups API failures by how a caller should react to them.
type ErrorClass string

const (
	// ErrorClassTransient failures may succeed when retried.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassThrottled failures should be retried after backing off.
	ErrorClassThrottled ErrorClass = "throttled"

	// ErrorClassConflict failures stem from the resource's current state.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassPermanent failures will not succeed on retry.
	ErrorClassPermanent ErrorClass = "permanent"
)

// APIError is a non-2xx response from the API. It unwraps to the errdefs
// sentinel matching its status code, so errdefs.IsNotFound and friends work
// on it.
type APIError struct {
	StatusCode int
	Method     string
	URL        string
	Body       string
	Class      ErrorClass

	kind error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	msg := fmt.Sprintf("[%s] %s %s returned %d %s", e.Class, e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode))
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Unwrap returns the errdefs sentinel for the status code.
func (e *APIError) Unwrap() error {
	return e.kind
}

// IsRetryable reports whether retrying the request may succeed.
func (e *APIError) IsRetryable() bool {
	return e.Class == ErrorClassTransient || e.Class == ErrorClassThrottled
}

func newAPIError(method, url string, status int, body string) *APIError {
	class, kind := classifyStatus(status)
	return &APIError{
		StatusCode: status,
		Method:     method,
		URL:        url,
		Body:       body,
		Class:      class,
		kind:       kind,
	}
}

func classifyStatus(status int) (ErrorClass, error) {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return ErrorClassPermanent, errdefs.ErrInvalidArgument
	case http.StatusUnauthorized:
		return ErrorClassPermanent, errdefs.ErrUnauthenticated
	case http.StatusForbidden:
		return ErrorClassPermanent, errdefs.ErrPermissionDenied
	case http.StatusNotFound:
		return ErrorClassPermanent, errdefs.ErrNotFound
	case http.StatusMethodNotAllowed:
		return ErrorClassPermanent, errdefs.ErrNotImplemented
	case http.StatusConflict:
		return ErrorClassConflict, errdefs.ErrConflict
	case http.StatusTooManyRequests:
		return ErrorClassThrottled, errdefs.ErrResourceExhausted
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return ErrorClassTransient, errdefs.ErrUnavailable
	}
	if status >= 500 {
		return ErrorClassTransient, errdefs.ErrInternal
	}
	return ErrorClassPermanent, errdefs.ErrUnknown
}

// errConnectionFailed wraps transport failures. It unwraps to both the
// cause and errdefs.ErrUnavailable.
type errConnectionFailed struct {
	error
}

func (e errConnectionFailed) Unwrap() []error {
	return []error{e.error, errdefs.ErrUnavailable}
}

// IsRetryable reports whether err is worth retrying: transient or throttled
// API errors and connection failures.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsRetryable()
	}
	var connErr errConnectionFailed
	return errors.As(err, &connErr)
}

// IsErrConnectionFailed reports whether err is a transport failure.
func IsErrConnectionFailed(err error) bool {
	var connErr errConnectionFailed
	return errors.As(err, &connErr)
}
