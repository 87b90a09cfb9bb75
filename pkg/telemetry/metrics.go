package telemetry

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Resolution paths recorded for finished waits.
const (
	ResolvedFast         = "fast"
	ResolvedPush         = "push"
	ResolvedPoll         = "poll"
	ResolvedIncompatible = "incompatible"
	ResolvedPollFailed   = "poll_failed"
	ResolvedTimeout      = "timeout"
	ResolvedCanceled     = "canceled"
)

// Metrics provides Prometheus metrics for the dockercloud client. A nil
// *Metrics or one built with metrics disabled is a valid no-op collector.
type Metrics struct {
	config MetricsConfig

	// Wait metrics
	waitsStarted  *prometheus.CounterVec
	waitsResolved *prometheus.CounterVec
	waitDuration  *prometheus.HistogramVec
	activeWaits   prometheus.Gauge

	// Poll metrics
	pollAttempts *prometheus.CounterVec

	// Event stream metrics
	eventsReceived   *prometheus.CounterVec
	streamReconnects prometheus.Counter
	subscribers      prometheus.Gauge

	// API metrics
	apiRequests        *prometheus.CounterVec
	apiRequestDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		waitsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "waits_started_total",
				Help:      "Total number of state waits started",
			},
			[]string{"kind"},
		),
		waitsResolved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "waits_resolved_total",
				Help:      "Total number of state waits resolved, by resolution path",
			},
			[]string{"kind", "path"},
		),
		waitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "wait_duration_seconds",
				Help:      "Duration of state waits in seconds",
				Buckets:   buckets,
			},
			[]string{"kind", "path"},
		),
		activeWaits: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_waits",
				Help:      "Current number of outstanding state waits",
			},
		),

		pollAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "poll_attempts_total",
				Help:      "Total number of poll fetches, by result (match, miss, error)",
			},
			[]string{"kind", "result"},
		),

		eventsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_received_total",
				Help:      "Total number of events received from the event stream",
			},
			[]string{"type"},
		),
		streamReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_reconnects_total",
				Help:      "Total number of event stream reconnect attempts",
			},
		),
		subscribers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "subscribers",
				Help:      "Current number of registered event subscribers",
			},
		),

		apiRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Total number of API requests, by method and status code",
			},
			[]string{"method", "code"},
		),
		apiRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "Duration of API requests in seconds",
				Buckets:   buckets,
			},
			[]string{"method"},
		),
	}

	registry.MustRegister(
		m.waitsStarted,
		m.waitsResolved,
		m.waitDuration,
		m.activeWaits,
		m.pollAttempts,
		m.eventsReceived,
		m.streamReconnects,
		m.subscribers,
		m.apiRequests,
		m.apiRequestDuration,
	)

	return m, nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// Wait Metrics

// RecordWaitStarted records the start of a state wait.
func (m *Metrics) RecordWaitStarted(kind string) {
	if !m.enabled() {
		return
	}
	m.waitsStarted.WithLabelValues(kind).Inc()
	m.activeWaits.Inc()
}

// RecordWaitResolved records how a wait finished and how long it took.
func (m *Metrics) RecordWaitResolved(kind, path string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.waitsResolved.WithLabelValues(kind, path).Inc()
	m.waitDuration.WithLabelValues(kind, path).Observe(duration.Seconds())
	m.activeWaits.Dec()
}

// RecordPollAttempt records a single poll fetch outcome.
func (m *Metrics) RecordPollAttempt(kind, result string) {
	if !m.enabled() {
		return
	}
	m.pollAttempts.WithLabelValues(kind, result).Inc()
}

// Event Stream Metrics

// RecordEventReceived records an event read from the stream.
func (m *Metrics) RecordEventReceived(eventType string) {
	if !m.enabled() {
		return
	}
	m.eventsReceived.WithLabelValues(eventType).Inc()
}

// RecordStreamReconnect records a reconnect attempt of the event stream.
func (m *Metrics) RecordStreamReconnect() {
	if !m.enabled() {
		return
	}
	m.streamReconnects.Inc()
}

// SetSubscribers sets the current number of registered subscribers.
func (m *Metrics) SetSubscribers(count int) {
	if !m.enabled() {
		return
	}
	m.subscribers.Set(float64(count))
}

// API Metrics

// RecordAPIRequest records an API request with its status code and duration.
func (m *Metrics) RecordAPIRequest(method, code string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.apiRequests.WithLabelValues(method, code).Inc()
	m.apiRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
