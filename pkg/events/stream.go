package events

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"golang.org/x/net/websocket"

	"github.com/openfroyo/dockercloud/pkg/telemetry"
)

// DefaultStreamURL is the Docker Cloud audit event endpoint.
const DefaultStreamURL = "wss://ws.cloud.docker.com/api/audit/v1/events/"

// ErrStreamClosed is returned by Run and Connect after Close.
var ErrStreamClosed = errors.New("event stream closed")

// Dispatcher receives decoded events in the order they were read.
type Dispatcher interface {
	Dispatch(Event)
}

// BackoffConfig controls reconnect delays.
type BackoffConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay" toml:"initial_delay" validate:"gte=0"`
	MaxDelay     time.Duration `yaml:"max_delay" toml:"max_delay" validate:"gte=0"`
	Multiplier   float64       `yaml:"multiplier" toml:"multiplier" validate:"gte=1"`
	Jitter       float64       `yaml:"jitter" toml:"jitter" validate:"gte=0,lte=1"`
}

// DefaultBackoffConfig returns the reconnect policy used when none is set.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.2,
	}
}

func (c BackoffConfig) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if c.InitialDelay > 0 {
		b.InitialInterval = c.InitialDelay
	}
	if c.MaxDelay > 0 {
		b.MaxInterval = c.MaxDelay
	}
	if c.Multiplier >= 1 {
		b.Multiplier = c.Multiplier
	}
	b.RandomizationFactor = c.Jitter
	b.Reset()
	return b
}

// StreamConfig configures the websocket connection.
type StreamConfig struct {
	URL     string
	Origin  string
	User    string
	APIKey  string
	Backoff BackoffConfig
}

// Stream is an authenticated websocket client for the audit event stream.
// Events are decoded and handed to a Dispatcher; messages lost while the
// connection is down are not replayed.
type Stream struct {
	cfg        StreamConfig
	dispatcher Dispatcher
	logger     zerolog.Logger
	metrics    *telemetry.Metrics

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
	done   chan struct{}
}

// NewStream creates a stream. It does not connect.
func NewStream(cfg StreamConfig, dispatcher Dispatcher, logger zerolog.Logger, metrics *telemetry.Metrics) (*Stream, error) {
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if cfg.URL == "" {
		cfg.URL = DefaultStreamURL
	}
	if cfg.Origin == "" {
		cfg.Origin = "https://cloud.docker.com"
	}
	if cfg.Backoff == (BackoffConfig{}) {
		cfg.Backoff = DefaultBackoffConfig()
	}
	return &Stream{
		cfg:        cfg,
		dispatcher: dispatcher,
		logger:     logger.With().Str("component", "stream").Logger(),
		metrics:    metrics,
		done:       make(chan struct{}),
	}, nil
}

// Connect opens the websocket connection and returns once it is
// established. Calling Connect on an open stream is a no-op.
func (s *Stream) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStreamClosed
	}
	if s.conn != nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	conn, err := s.dial(ctx)
	if err != nil {
		return err
	}
	return s.setConn(conn)
}

func (s *Stream) dial(ctx context.Context) (*websocket.Conn, error) {
	config, err := websocket.NewConfig(s.cfg.URL, s.cfg.Origin)
	if err != nil {
		return nil, fmt.Errorf("invalid stream url: %w", err)
	}
	if s.cfg.User != "" || s.cfg.APIKey != "" {
		token := base64.StdEncoding.EncodeToString([]byte(s.cfg.User + ":" + s.cfg.APIKey))
		config.Header.Set("Authorization", "Basic "+token)
	}

	conn, err := config.DialContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to event stream: %w", err)
	}
	s.logger.Debug().Str("url", s.cfg.URL).Msg("event stream connected")
	return conn, nil
}

func (s *Stream) setConn(conn *websocket.Conn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		conn.Close()
		return ErrStreamClosed
	}
	if s.conn != nil && s.conn != conn {
		s.conn.Close()
	}
	s.conn = conn
	return nil
}

func (s *Stream) dropConn(conn *websocket.Conn) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()
	conn.Close()
}

func (s *Stream) currentConn() *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// Run reads events until ctx is done or Close is called, dispatching each
// one in receive order. Read and dial failures trigger a reconnect with
// exponential backoff. Malformed messages are logged and skipped.
func (s *Stream) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		if conn := s.currentConn(); conn != nil {
			conn.Close()
		}
	})
	defer stop()

	b := s.cfg.Backoff.newBackOff()

	for {
		if err := s.stopErr(ctx); err != nil {
			return err
		}

		conn := s.currentConn()
		if conn == nil {
			var err error
			conn, err = s.dial(ctx)
			if err == nil {
				err = s.setConn(conn)
			}
			if err != nil {
				if stopErr := s.stopErr(ctx); stopErr != nil {
					return stopErr
				}
				if !s.wait(ctx, b.NextBackOff(), err) {
					return s.stopErr(ctx)
				}
				continue
			}
			// The context may have fired between dial and setConn.
			if ctx.Err() != nil {
				conn.Close()
				return ctx.Err()
			}
		}

		err := s.readLoop(conn, b)
		s.dropConn(conn)
		if stopErr := s.stopErr(ctx); stopErr != nil {
			return stopErr
		}
		if !s.wait(ctx, b.NextBackOff(), err) {
			return s.stopErr(ctx)
		}
	}
}

func (s *Stream) readLoop(conn *websocket.Conn, b *backoff.ExponentialBackOff) error {
	for {
		var msg []byte
		if err := websocket.Message.Receive(conn, &msg); err != nil {
			return err
		}
		b.Reset()

		var ev Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			s.logger.Warn().Err(err).Int("bytes", len(msg)).Msg("skipping malformed event")
			continue
		}

		s.metrics.RecordEventReceived(string(ev.Type))
		s.logger.Trace().
			Str("type", string(ev.Type)).
			Str("state", ev.State).
			Str("resource_uri", ev.ResourceURI).
			Msg("event received")
		s.dispatcher.Dispatch(ev)
	}
}

// wait sleeps before the next reconnect attempt. It returns false if the
// stream was stopped in the meantime.
func (s *Stream) wait(ctx context.Context, delay time.Duration, cause error) bool {
	s.metrics.RecordStreamReconnect()
	s.logger.Warn().Err(cause).Dur("retry_in", delay).Msg("event stream disconnected, reconnecting")

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-s.done:
		return false
	case <-timer.C:
		return s.stopErr(ctx) == nil
	}
}

func (s *Stream) stopErr(ctx context.Context) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrStreamClosed
	}
	return ctx.Err()
}

// Close terminates the connection and stops Run. It is safe to call more
// than once.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// Connected reports whether a connection is currently open.
func (s *Stream) Connected() bool {
	return s.currentConn() != nil
}
