package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry bundles the logger, tracer and metrics of one process.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Config  *Config

	metricsServer *http.Server
}

type telemetryKey struct{}

// NewTelemetry validates cfg and builds every component from it.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tel := &Telemetry{Config: cfg}
	var err error
	if tel.Logger, err = NewLogger(cfg.Logging); err != nil {
		return nil, err
	}
	if tel.Tracer, err = NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment); err != nil {
		return nil, err
	}
	if tel.Metrics, err = NewMetrics(cfg.Metrics); err != nil {
		_ = tel.Tracer.Shutdown(context.Background())
		return nil, err
	}
	return tel, nil
}

// WithContext stores t and its logger in ctx.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	return t.Logger.WithContext(context.WithValue(ctx, telemetryKey{}, t))
}

// FromTelemetryContext returns the Telemetry stored in ctx, or nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	t, _ := ctx.Value(telemetryKey{}).(*Telemetry)
	return t
}

// StartMetricsServer serves metrics when a listen address is configured.
func (t *Telemetry) StartMetricsServer() {
	t.metricsServer = t.Metrics.StartMetricsServer()
}

// Shutdown stops the metrics endpoint and flushes pending spans.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if t.metricsServer != nil {
		errs = append(errs, t.metricsServer.Shutdown(ctx))
	}
	errs = append(errs, t.Tracer.Shutdown(ctx))
	return errors.Join(errs...)
}

// Operation is a traced, timed unit of CLI work such as a wait.
type Operation struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger

	name    string
	started time.Time
}

// StartOperation opens a span named name and derives a logger carrying the
// operation and trace ids. Without Telemetry in ctx only timing and the
// context logger are used.
func StartOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) *Operation {
	op := &Operation{Ctx: ctx, Logger: FromContext(ctx), name: name, started: time.Now()}

	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return op
	}

	op.Ctx, op.Span = tel.Tracer.StartSpan(ctx, name, attrs...)
	op.Logger = tel.Logger.WithField("operation", name)
	if sc := op.Span.SpanContext(); sc.IsValid() {
		op.Logger = op.Logger.WithFields(map[string]any{
			"trace_id": sc.TraceID().String(),
			"span_id":  sc.SpanID().String(),
		})
	}
	op.Ctx = op.Logger.WithContext(op.Ctx)
	return op
}

// End closes the span with err's outcome and logs the elapsed time.
func (op *Operation) End(err error) {
	elapsed := time.Since(op.started)
	if op.Span != nil {
		if err != nil {
			RecordError(op.Span, err)
		} else {
			RecordSuccess(op.Span)
		}
		op.Span.End()
	}
	if err != nil {
		op.Logger.WithError(err).Debugf("%s failed after %s", op.name, elapsed)
		return
	}
	op.Logger.Debugf("%s finished in %s", op.name, elapsed)
}
