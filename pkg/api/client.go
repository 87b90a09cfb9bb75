// Package api is an HTTP client for the Docker Cloud REST API.
package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/openfroyo/dockercloud/pkg/resource"
	"github.com/openfroyo/dockercloud/pkg/telemetry"
)

const (
	// DefaultHost is the Docker Cloud REST endpoint.
	DefaultHost = "https://cloud.docker.com"

	// AppPath is the prefix of the application API (stacks, services,
	// containers).
	AppPath = "/api/app/v1"

	// AuditPath is the prefix of the audit API (actions).
	AuditPath = "/api/audit/v1"

	// ActionURIHeader references the action started by a mutating call.
	ActionURIHeader = "X-DockerCloud-Action-URI"

	defaultUserAgent = "dockercloud-go"
)

// Client talks to the Docker Cloud REST API. Resource operations are
// grouped by kind: Stacks, Services, Containers and Actions.
type Client struct {
	host      *url.URL
	user      string
	apiKey    string
	userAgent string

	client    *http.Client
	limiter   *rate.Limiter
	traceOpts []otelhttp.Option

	logger  zerolog.Logger
	metrics *telemetry.Metrics

	Stacks     *StackClient
	Services   *ServiceClient
	Containers *ContainerClient
	Actions    *ActionClient
}

// Opt configures a Client.
type Opt func(*Client) error

// WithHost overrides the REST endpoint, e.g. for a proxy or a test server.
func WithHost(host string) Opt {
	return func(c *Client) error {
		u, err := url.Parse(strings.TrimRight(host, "/"))
		if err != nil {
			return fmt.Errorf("invalid host %q: %w", host, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("invalid host %q: scheme must be http or https", host)
		}
		c.host = u
		return nil
	}
}

// WithCredentials sets the username and API key used for basic auth.
func WithCredentials(user, apiKey string) Opt {
	return func(c *Client) error {
		c.user = user
		c.apiKey = apiKey
		return nil
	}
}

// WithHTTPClient replaces the underlying HTTP client. Its transport is
// still wrapped for tracing.
func WithHTTPClient(client *http.Client) Opt {
	return func(c *Client) error {
		if client == nil {
			return fmt.Errorf("http client must not be nil")
		}
		hc := *client
		c.client = &hc
		return nil
	}
}

// WithRateLimit caps the request rate. A zero limit disables limiting.
func WithRateLimit(limit float64, burst int) Opt {
	return func(c *Client) error {
		if limit <= 0 {
			c.limiter = nil
			return nil
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(limit), burst)
		return nil
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Opt {
	return func(c *Client) error {
		c.userAgent = ua
		return nil
	}
}

// WithTraceOptions passes options to the otelhttp transport.
func WithTraceOptions(opts ...otelhttp.Option) Opt {
	return func(c *Client) error {
		c.traceOpts = append(c.traceOpts, opts...)
		return nil
	}
}

// WithLogger sets the logger for request logging.
func WithLogger(logger zerolog.Logger) Opt {
	return func(c *Client) error {
		c.logger = logger.With().Str("component", "api").Logger()
		return nil
	}
}

// WithMetrics records request counts and latencies.
func WithMetrics(m *telemetry.Metrics) Opt {
	return func(c *Client) error {
		c.metrics = m
		return nil
	}
}

// New creates a client. Without options it targets DefaultHost with no
// credentials.
func New(opts ...Opt) (*Client, error) {
	host, _ := url.Parse(DefaultHost)
	c := &Client{
		host:      host,
		userAgent: defaultUserAgent,
		client:    &http.Client{},
		logger:    zerolog.Nop(),
	}

	for _, op := range opts {
		if err := op(c); err != nil {
			return nil, err
		}
	}

	base := c.client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	c.client.Transport = otelhttp.NewTransport(base, append([]otelhttp.Option{
		otelhttp.WithSpanNameFormatter(func(_ string, req *http.Request) string {
			return req.Method + " " + req.URL.Path
		}),
	}, c.traceOpts...)...)

	c.Stacks = &StackClient{resourceClient{cli: c, base: AppPath, kind: resource.KindStack}}
	c.Services = &ServiceClient{resourceClient{cli: c, base: AppPath, kind: resource.KindService}}
	c.Containers = &ContainerClient{resourceClient{cli: c, base: AppPath, kind: resource.KindContainer}}
	c.Actions = &ActionClient{r: resourceClient{cli: c, base: AuditPath, kind: resource.KindAction}}
	return c, nil
}

// Host returns the REST endpoint the client talks to.
func (c *Client) Host() string {
	return c.host.String()
}
