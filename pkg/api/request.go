package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/openfroyo/dockercloud/pkg/resource"
)

// get sends a GET request to the API.
func (c *Client) get(ctx context.Context, path string, query url.Values) (*http.Response, error) {
	return c.sendRequest(ctx, http.MethodGet, path, query, nil, nil)
}

// post sends a POST request with an optional JSON body.
func (c *Client) post(ctx context.Context, path string, body any) (*http.Response, error) {
	jsonBody, headers, err := prepareJSONRequest(body)
	if err != nil {
		return nil, err
	}
	return c.sendRequest(ctx, http.MethodPost, path, nil, jsonBody, headers)
}

// patch sends a PATCH request with a JSON body.
func (c *Client) patch(ctx context.Context, path string, body any) (*http.Response, error) {
	jsonBody, headers, err := prepareJSONRequest(body)
	if err != nil {
		return nil, err
	}
	return c.sendRequest(ctx, http.MethodPatch, path, nil, jsonBody, headers)
}

// delete sends a DELETE request.
func (c *Client) delete(ctx context.Context, path string) (*http.Response, error) {
	return c.sendRequest(ctx, http.MethodDelete, path, nil, nil, nil)
}

// prepareJSONRequest encodes body as JSON. A nil body, or a nil pointer,
// yields no body at all.
func prepareJSONRequest(body any) (io.Reader, http.Header, error) {
	if body == nil {
		return nil, nil, nil
	}
	if v := reflect.ValueOf(body); v.Kind() == reflect.Ptr && v.IsNil() {
		return nil, nil, nil
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, nil, fmt.Errorf("failed to encode request body: %w", err)
	}
	hdr := http.Header{}
	hdr.Set("Content-Type", "application/json")
	return &buf, hdr, nil
}

func (c *Client) buildRequest(ctx context.Context, method, path string, query url.Values, body io.Reader, headers http.Header) (*http.Request, error) {
	u := *c.host
	if strings.Contains(path, "?") {
		// Pagination links carry their own query string.
		ref, err := url.Parse(path)
		if err != nil {
			return nil, err
		}
		u.Path = ref.Path
		u.RawQuery = ref.RawQuery
	} else {
		u.Path = path
	}
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header[http.CanonicalHeaderKey(k)] = v
	}
	req.Header.Set("Accept", "application/json")
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.user != "" || c.apiKey != "" {
		req.SetBasicAuth(c.user, c.apiKey)
	}
	return req, nil
}

func (c *Client) sendRequest(ctx context.Context, method, path string, query url.Values, body io.Reader, headers http.Header) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := c.buildRequest(ctx, method, path, query, body, headers)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		c.metrics.RecordAPIRequest(method, "error", elapsed)
		// Don't decorate context errors; callers compare them directly.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, errConnectionFailed{fmt.Errorf("error during connect to %s: %w", c.host.Host, err)}
	}

	c.metrics.RecordAPIRequest(method, strconv.Itoa(resp.StatusCode), elapsed)
	c.logger.Debug().
		Str("method", method).
		Str("path", req.URL.Path).
		Int("status", resp.StatusCode).
		Dur("elapsed", elapsed).
		Msg("api request")

	if err := checkResponseErr(req, resp); err != nil {
		ensureReaderClosed(resp)
		return nil, err
	}
	return resp, nil
}

func checkResponseErr(req *http.Request, resp *http.Response) error {
	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		return nil
	}

	var body []byte
	if resp.Body != nil {
		body, _ = io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	}
	return newAPIError(req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(body)))
}

func ensureReaderClosed(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		// Drain so the transport can reuse the connection.
		_, _ = io.CopyN(io.Discard, resp.Body, 512)
		_ = resp.Body.Close()
	}
}

func decodeResource(resp *http.Response) (resource.Resource, error) {
	defer ensureReaderClosed(resp)

	var r resource.Resource
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return r, nil
}

// listPage is the envelope of list endpoints.
type listPage struct {
	Meta struct {
		Next       string `json:"next"`
		TotalCount int    `json:"total_count"`
	} `json:"meta"`
	Objects []resource.Resource `json:"objects"`
}

func decodeList(resp *http.Response) (listPage, error) {
	defer ensureReaderClosed(resp)

	var page listPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return page, fmt.Errorf("failed to decode list response: %w", err)
	}
	return page, nil
}
