package convergence

import (
	"errors"
	"fmt"

	"github.com/openfroyo/dockercloud/pkg/resource"
)

var (
	// ErrIncompatibleState means the resource moved to a state from which
	// the desired one can no longer be reached.
	ErrIncompatibleState = errors.New("resource reached an incompatible state")

	// ErrPollFailed means too many consecutive poll fetches failed.
	ErrPollFailed = errors.New("polling failed")

	// ErrWaitTimeout means the caller's deadline passed before the resource
	// converged. It is always joined with context.DeadlineExceeded.
	ErrWaitTimeout = errors.New("timed out waiting for resource state")

	// ErrInvalidTarget is returned for targets missing a uuid or a fetch
	// function.
	ErrInvalidTarget = errors.New("invalid wait target")
)

// WaitError describes a wait that did not reach its desired state.
type WaitError struct {
	Kind    resource.Kind
	UUID    string
	Desired resource.Fields

	// State is the last state observed, if any.
	State resource.State

	Err error
}

// Error implements the error interface.
func (e *WaitError) Error() string {
	msg := fmt.Sprintf("wait for %s %s to reach %s", e.Kind, e.UUID, e.Desired)
	if e.State != "" {
		msg += fmt.Sprintf(" (last state %q)", e.State)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *WaitError) Unwrap() error {
	return e.Err
}

// IsIncompatibleState reports whether err was caused by an incompatible
// resource state.
func IsIncompatibleState(err error) bool {
	return errors.Is(err, ErrIncompatibleState)
}

// IsTimeout reports whether err was caused by the wait deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrWaitTimeout)
}
