package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	cerrdefs "github.com/containerd/errdefs"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/openfroyo/dockercloud/pkg/resource"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func withMockClient(fn roundTripFunc) Opt {
	return WithHTTPClient(&http.Client{Transport: fn})
}

func errorMock(statusCode int, message string) roundTripFunc {
	return func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: statusCode,
			Header:     http.Header{"Content-Type": {"text/plain"}},
			Body:       io.NopCloser(strings.NewReader(message)),
			Request:    req,
		}, nil
	}
}

func jsonResponse(req *http.Request, status int, body any, header http.Header) *http.Response {
	b, _ := json.Marshal(body)
	if header == nil {
		header = http.Header{}
	}
	header.Set("Content-Type", "application/json")
	return &http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(bytes.NewReader(b)),
		Request:    req,
	}
}

func TestNewDefaults(t *testing.T) {
	c, err := New()
	assert.NilError(t, err)
	assert.Check(t, is.Equal(c.Host(), DefaultHost))
	assert.Check(t, c.Stacks != nil && c.Services != nil && c.Containers != nil && c.Actions != nil)
}

func TestNewInvalidHost(t *testing.T) {
	_, err := New(WithHost("ftp://example.com"))
	assert.Check(t, is.ErrorContains(err, "scheme must be http or https"))

	_, err = New(WithHTTPClient(nil))
	assert.Check(t, is.ErrorContains(err, "must not be nil"))
}

func TestRequestHeaders(t *testing.T) {
	c, err := New(
		WithCredentials("user", "apikey"),
		WithUserAgent("dcloud-test"),
		withMockClient(func(req *http.Request) (*http.Response, error) {
			user, key, ok := req.BasicAuth()
			if !ok || user != "user" || key != "apikey" {
				return nil, fmt.Errorf("unexpected basic auth: %q %q %v", user, key, ok)
			}
			if ua := req.Header.Get("User-Agent"); ua != "dcloud-test" {
				return nil, fmt.Errorf("unexpected user agent %q", ua)
			}
			if ct := req.Header.Get("Content-Type"); ct != "application/json" {
				return nil, fmt.Errorf("unexpected content type %q", ct)
			}
			if req.URL.Host != "cloud.docker.com" || req.URL.Path != "/api/app/v1/stack/s-1/" {
				return nil, fmt.Errorf("unexpected url %s", req.URL)
			}
			return jsonResponse(req, http.StatusOK, map[string]any{"uuid": "s-1", "state": "Running"}, nil), nil
		}),
	)
	assert.NilError(t, err)

	stack, err := c.Stacks.Get(context.Background(), "s-1")
	assert.NilError(t, err)
	assert.Check(t, is.Equal(stack.State(), resource.StateRunning))
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		status    int
		check     func(error) bool
		retryable bool
	}{
		{status: http.StatusNotFound, check: cerrdefs.IsNotFound},
		{status: http.StatusUnauthorized, check: cerrdefs.IsUnauthorized},
		{status: http.StatusForbidden, check: cerrdefs.IsPermissionDenied},
		{status: http.StatusBadRequest, check: cerrdefs.IsInvalidArgument},
		{status: http.StatusConflict, check: cerrdefs.IsConflict},
		{status: http.StatusTooManyRequests, check: cerrdefs.IsResourceExhausted, retryable: true},
		{status: http.StatusServiceUnavailable, check: cerrdefs.IsUnavailable, retryable: true},
		{status: http.StatusInternalServerError, check: cerrdefs.IsInternal, retryable: true},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			c, err := New(withMockClient(errorMock(tt.status, "boom")))
			assert.NilError(t, err)

			_, err = c.Services.Get(context.Background(), "svc")
			assert.Check(t, is.ErrorType(err, tt.check))
			assert.Check(t, is.ErrorContains(err, "boom"))
			assert.Check(t, is.Equal(IsRetryable(err), tt.retryable))

			var apiErr *APIError
			assert.Assert(t, errors.As(err, &apiErr))
			assert.Check(t, is.Equal(apiErr.StatusCode, tt.status))
			assert.Check(t, is.Equal(apiErr.URL, "/api/app/v1/service/svc/"))
		})
	}
}

func TestConnectionFailure(t *testing.T) {
	c, err := New(withMockClient(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	}))
	assert.NilError(t, err)

	_, err = c.Containers.Get(context.Background(), "c-1")
	assert.Check(t, IsErrConnectionFailed(err))
	assert.Check(t, IsRetryable(err))
	assert.Check(t, is.ErrorType(err, cerrdefs.IsUnavailable))
}

func TestContextErrorsAreNotDecorated(t *testing.T) {
	c, err := New(withMockClient(func(req *http.Request) (*http.Response, error) {
		return nil, req.Context().Err()
	}))
	assert.NilError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Stacks.Get(ctx, "s-1")
	assert.Check(t, errors.Is(err, context.Canceled))
	assert.Check(t, !IsErrConnectionFailed(err))
}

func TestRateLimitHonoursContext(t *testing.T) {
	c, err := New(
		WithRateLimit(0.001, 1),
		withMockClient(func(req *http.Request) (*http.Response, error) {
			return jsonResponse(req, http.StatusOK, map[string]any{"uuid": "s-1"}, nil), nil
		}),
	)
	assert.NilError(t, err)

	_, err = c.Stacks.Get(context.Background(), "s-1")
	assert.NilError(t, err)

	// The single token is spent; the next call cannot be served before the
	// context expires.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Stacks.Get(ctx, "s-1")
	assert.Check(t, err != nil)
}

// fakeCloud is a minimal in-memory Docker Cloud used with httptest.
type fakeCloud struct {
	mu       sync.Mutex
	requests []string
}

func (f *fakeCloud) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requests = append(f.requests, r.Method+" "+r.URL.RequestURI())
	f.mu.Unlock()

	writeJSON := func(status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/app/v1/stack/" && r.URL.Query().Get("offset") == "":
		writeJSON(http.StatusOK, map[string]any{
			"meta": map[string]any{"next": "/api/app/v1/stack/?limit=2&offset=2", "total_count": 3},
			"objects": []any{
				map[string]any{"uuid": "old", "name": "web", "state": "Terminated"},
				map[string]any{"uuid": "other", "name": "db", "state": "Running"},
			},
		})
	case r.Method == http.MethodGet && r.URL.Path == "/api/app/v1/stack/":
		writeJSON(http.StatusOK, map[string]any{
			"meta":    map[string]any{"next": nil, "total_count": 3},
			"objects": []any{map[string]any{"uuid": "live", "name": "web", "state": "Running"}},
		})
	case r.Method == http.MethodGet && r.URL.Path == "/api/app/v1/service/":
		if r.URL.Query().Get("name") != "api" {
			writeJSON(http.StatusOK, map[string]any{"meta": map[string]any{}, "objects": []any{}})
			return
		}
		writeJSON(http.StatusOK, map[string]any{
			"meta": map[string]any{},
			"objects": []any{
				map[string]any{"uuid": "svc-old", "name": "api", "state": "Terminated"},
				map[string]any{"uuid": "svc-1", "name": "api", "state": "Stopped"},
			},
		})
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/api/app/v1/service/"):
		id := resource.ExtractUUID(r.URL.Path)
		writeJSON(http.StatusOK, map[string]any{
			"uuid":       id,
			"state":      "Running",
			"containers": []any{"/api/app/v1/container/c-1/", "/api/app/v1/container/c-2/"},
		})
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/api/app/v1/container/"):
		writeJSON(http.StatusOK, map[string]any{"uuid": resource.ExtractUUID(r.URL.Path), "state": "Running"})
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/api/audit/v1/action/"):
		writeJSON(http.StatusOK, map[string]any{
			"uuid":         resource.ExtractUUID(r.URL.Path),
			"state":        "In progress",
			"resource_uri": r.URL.Path,
		})
	case r.Method == http.MethodPost && r.URL.Path == "/api/app/v1/stack/":
		var props map[string]any
		_ = json.NewDecoder(r.Body).Decode(&props)
		props["uuid"] = "new"
		props["state"] = "Not running"
		writeJSON(http.StatusCreated, props)
	case r.Method == http.MethodPatch:
		var props map[string]any
		_ = json.NewDecoder(r.Body).Decode(&props)
		props["uuid"] = resource.ExtractUUID(r.URL.Path)
		writeJSON(http.StatusOK, props)
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/stop/"):
		// No action reference.
		writeJSON(http.StatusAccepted, map[string]any{})
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/cancel/"):
		writeJSON(http.StatusOK, map[string]any{"uuid": resource.ExtractUUID(strings.TrimSuffix(r.URL.Path, "cancel/")), "state": "Canceling"})
	case r.Method == http.MethodPost || r.Method == http.MethodDelete:
		w.Header().Set(ActionURIHeader, "/api/audit/v1/action/act-1/")
		writeJSON(http.StatusAccepted, map[string]any{})
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeCloud) Requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

func newFakeCloud(t *testing.T) (*Client, *fakeCloud) {
	t.Helper()
	fake := &fakeCloud{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	c, err := New(WithHost(srv.URL), WithCredentials("u", "k"))
	assert.NilError(t, err)
	return c, fake
}

func TestStackFindByNameSkipsTerminated(t *testing.T) {
	c, _ := newFakeCloud(t)

	stack, err := c.Stacks.FindByName(context.Background(), "web")
	assert.NilError(t, err)
	assert.Check(t, is.Equal(stack.UUID(), "live"))

	missing, err := c.Stacks.FindByName(context.Background(), "nope")
	assert.NilError(t, err)
	assert.Check(t, missing == nil)

	all, err := c.Stacks.List(context.Background(), nil)
	assert.NilError(t, err)
	assert.Check(t, is.Len(all, 3))
}

func TestServiceFindByName(t *testing.T) {
	c, fake := newFakeCloud(t)

	svc, err := c.Services.FindByName(context.Background(), "api")
	assert.NilError(t, err)
	assert.Check(t, is.Equal(svc.UUID(), "svc-1"))
	assert.Check(t, is.Contains(fake.Requests(), "GET /api/app/v1/service/?name=api"))
}

func TestMutationsFollowActions(t *testing.T) {
	c, fake := newFakeCloud(t)
	ctx := context.Background()

	action, err := c.Stacks.Start(ctx, "s-1")
	assert.NilError(t, err)
	assert.Check(t, is.Equal(action.UUID(), "act-1"))

	action, err = c.Services.Redeploy(ctx, "svc-1")
	assert.NilError(t, err)
	assert.Check(t, is.Equal(action.UUID(), "act-1"))

	action, err = c.Containers.Remove(ctx, resource.Resource{"uuid": "c-1", "state": "Running"})
	assert.NilError(t, err)
	assert.Check(t, is.Equal(action.UUID(), "act-1"))

	action, err = c.Stacks.Stop(ctx, "s-1")
	assert.NilError(t, err)
	assert.Check(t, action == nil, "a response without action reference yields no action")

	reqs := fake.Requests()
	assert.Check(t, is.Contains(reqs, "POST /api/app/v1/stack/s-1/start/"))
	assert.Check(t, is.Contains(reqs, "POST /api/app/v1/service/svc-1/redeploy/"))
	assert.Check(t, is.Contains(reqs, "DELETE /api/app/v1/container/c-1/"))
	assert.Check(t, is.Contains(reqs, "GET /api/audit/v1/action/act-1/"))
}

func TestRemoveTerminatedIsNoop(t *testing.T) {
	c, fake := newFakeCloud(t)

	action, err := c.Stacks.Remove(context.Background(), resource.Resource{"uuid": "s-1", "state": "Terminated"})
	assert.NilError(t, err)
	assert.Check(t, action == nil)
	assert.Check(t, is.Len(fake.Requests(), 0))
}

func TestCreateAndUpdate(t *testing.T) {
	c, _ := newFakeCloud(t)
	ctx := context.Background()

	stack, err := c.Stacks.Create(ctx, map[string]any{"name": "web"})
	assert.NilError(t, err)
	assert.Check(t, is.Equal(stack.UUID(), "new"))
	assert.Check(t, is.Equal(stack.Name(), "web"))

	svc, err := c.Services.Update(ctx, "svc-1", map[string]any{"target_num_containers": 3})
	assert.NilError(t, err)
	assert.Check(t, is.Equal(svc.UUID(), "svc-1"))
	assert.Check(t, is.Equal(svc["target_num_containers"], float64(3)))
}

func TestChildResolution(t *testing.T) {
	c, _ := newFakeCloud(t)
	ctx := context.Background()

	services, err := c.Stacks.Services(ctx, resource.Resource{
		"services": []any{"/api/app/v1/service/a/", "/api/app/v1/service/b/"},
	})
	assert.NilError(t, err)
	assert.Assert(t, is.Len(services, 2))
	assert.Check(t, is.Equal(services[1].UUID(), "b"))

	containers, err := c.Services.Containers(ctx, services[0])
	assert.NilError(t, err)
	assert.Assert(t, is.Len(containers, 2))
	assert.Check(t, is.Equal(containers[0].UUID(), "c-1"))
}

func TestActions(t *testing.T) {
	c, _ := newFakeCloud(t)
	ctx := context.Background()

	action, err := c.Actions.Get(ctx, "a-9")
	assert.NilError(t, err)
	assert.Check(t, is.Equal(action.ResourceURI(), "/api/audit/v1/action/a-9/"))

	canceled, err := c.Actions.Cancel(ctx, "a-9")
	assert.NilError(t, err)
	assert.Check(t, is.Equal(canceled.State(), resource.StateCanceling))

	_, err = c.Actions.Get(ctx, "")
	assert.Check(t, is.ErrorContains(err, "uuid is required"))
}
