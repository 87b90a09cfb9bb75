// Package dockercloud is the high-level Docker Cloud client. It owns the
// REST client, the audit event stream and the convergence engine for its
// lifetime, and groups resource operations with their wait helpers.
package dockercloud

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/dockercloud/pkg/api"
	"github.com/openfroyo/dockercloud/pkg/convergence"
	"github.com/openfroyo/dockercloud/pkg/events"
	"github.com/openfroyo/dockercloud/pkg/resource"
	"github.com/openfroyo/dockercloud/pkg/telemetry"
)

// Config holds the connection settings of a Client.
type Config struct {
	User   string
	APIKey string

	// RESTHost defaults to api.DefaultHost.
	RESTHost string
	// StreamURL defaults to events.DefaultStreamURL.
	StreamURL string
	// DisableStream makes every wait rely on polling alone.
	DisableStream bool

	RateLimit float64
	RateBurst int

	Interval        time.Duration
	MaxPollFailures int
	Timeout         time.Duration

	Backoff events.BackoffConfig
}

// Option customizes a Client beyond its Config.
type Option func(*options)

type options struct {
	logger     zerolog.Logger
	metrics    *telemetry.Metrics
	journal    convergence.Journal
	httpClient *http.Client
}

// WithLogger sets the logger shared by every component.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics records metrics for waits, events and requests.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithJournal records every finished wait.
func WithJournal(j convergence.Journal) Option {
	return func(o *options) { o.journal = j }
}

// WithHTTPClient replaces the HTTP client used for REST calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// Client is a Docker Cloud client with state-convergence helpers.
type Client struct {
	API *api.Client

	Stacks     *Stacks
	Services   *Services
	Containers *Containers
	Actions    *Actions

	registry *events.Registry
	stream   *events.Stream
	engine   *convergence.Engine
	resolver *convergence.ActionResolver
	logger   zerolog.Logger

	mu        sync.Mutex
	runCancel context.CancelFunc
	runDone   chan struct{}
}

// New creates a client. It does not connect to the event stream; call
// Connect for push notifications.
func New(cfg Config, opts ...Option) (*Client, error) {
	o := options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	apiOpts := []api.Opt{
		api.WithCredentials(cfg.User, cfg.APIKey),
		api.WithRateLimit(cfg.RateLimit, cfg.RateBurst),
		api.WithLogger(o.logger),
		api.WithMetrics(o.metrics),
	}
	if cfg.RESTHost != "" {
		apiOpts = append(apiOpts, api.WithHost(cfg.RESTHost))
	}
	if o.httpClient != nil {
		apiOpts = append(apiOpts, api.WithHTTPClient(o.httpClient))
	}
	apiClient, err := api.New(apiOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create api client: %w", err)
	}

	registry := events.NewRegistry(o.logger, o.metrics)
	engine := convergence.NewEngine(registry, convergence.Options{
		Interval:        cfg.Interval,
		MaxPollFailures: cfg.MaxPollFailures,
		Timeout:         cfg.Timeout,
		Logger:          o.logger.With().Str("component", "convergence").Logger(),
		Metrics:         o.metrics,
		Journal:         o.journal,
	})

	c := &Client{
		API:      apiClient,
		registry: registry,
		engine:   engine,
		resolver: convergence.NewActionResolver(engine, apiClient.Actions),
		logger:   o.logger,
	}

	if !cfg.DisableStream {
		c.stream, err = events.NewStream(events.StreamConfig{
			URL:     cfg.StreamURL,
			Origin:  apiClient.Host(),
			User:    cfg.User,
			APIKey:  cfg.APIKey,
			Backoff: cfg.Backoff,
		}, registry, o.logger, o.metrics)
		if err != nil {
			return nil, fmt.Errorf("failed to create event stream: %w", err)
		}
	}

	c.Stacks = &Stacks{StackClient: apiClient.Stacks, c: c}
	c.Services = &Services{ServiceClient: apiClient.Services, c: c}
	c.Containers = &Containers{ContainerClient: apiClient.Containers, c: c}
	c.Actions = &Actions{ActionClient: apiClient.Actions, c: c}
	return c, nil
}

// Connect opens the event stream and starts dispatching events in the
// background. It returns once the connection is established. Without a
// stream it is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	if c.stream == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.runCancel != nil {
		return nil
	}

	if err := c.stream.Connect(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	c.runCancel = cancel
	c.runDone = done

	go func() {
		defer close(done)
		if err := c.stream.Run(runCtx); err != nil &&
			!errors.Is(err, context.Canceled) && !errors.Is(err, events.ErrStreamClosed) {
			c.logger.Error().Err(err).Msg("event stream stopped")
		}
	}()
	return nil
}

// Disconnect closes the event stream. Waits still in progress continue by
// polling. A disconnected client cannot connect again.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	cancel, done := c.runCancel, c.runDone
	c.runCancel, c.runDone = nil, nil
	c.mu.Unlock()

	var err error
	if c.stream != nil {
		err = c.stream.Close()
	}
	if cancel != nil {
		cancel()
		<-done
	}
	return err
}

// Subscribe registers a handler for every event received on the stream.
func (c *Client) Subscribe(handler events.Handler) events.SubscriptionID {
	return c.engine.Subscribe(handler)
}

// Unsubscribe removes a handler registered with Subscribe.
func (c *Client) Unsubscribe(id events.SubscriptionID) bool {
	return c.engine.Unsubscribe(id)
}

// Subscriptions returns the number of registered handlers, waiters
// included.
func (c *Client) Subscriptions() int {
	return c.registry.Len()
}

// Engine exposes the convergence engine, e.g. to change its interval.
func (c *Client) Engine() *convergence.Engine {
	return c.engine
}

// WaitUntil waits for an arbitrary predicate on a resource of any kind.
func (c *Client) WaitUntil(ctx context.Context, kind resource.Kind, res resource.Resource, desired resource.Fields) (resource.Resource, error) {
	fetch, err := c.fetcher(kind)
	if err != nil {
		return nil, err
	}
	return c.engine.WaitUntil(ctx, convergence.Target{
		Kind:     kind,
		UUID:     res.UUID(),
		Fetch:    fetch,
		Desired:  desired,
		Snapshot: res,
	})
}

// WaitForState waits for res, of the given kind, to reach state.
func (c *Client) WaitForState(ctx context.Context, kind resource.Kind, res resource.Resource, state resource.State) (resource.Resource, error) {
	return c.WaitUntil(ctx, kind, res, resource.StateIs(state))
}

// Get fetches a resource of any kind.
func (c *Client) Get(ctx context.Context, kind resource.Kind, uuid string) (resource.Resource, error) {
	fetch, err := c.fetcher(kind)
	if err != nil {
		return nil, err
	}
	return fetch(ctx, uuid)
}

func (c *Client) fetcher(kind resource.Kind) (convergence.FetchFunc, error) {
	switch kind {
	case resource.KindStack:
		return c.API.Stacks.Get, nil
	case resource.KindService:
		return c.API.Services.Get, nil
	case resource.KindContainer:
		return c.API.Containers.Get, nil
	case resource.KindAction:
		return c.API.Actions.Get, nil
	}
	return nil, fmt.Errorf("unknown resource kind %q", kind)
}
