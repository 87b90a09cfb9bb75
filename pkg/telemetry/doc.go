// Package telemetry provides the observability plumbing for the dockercloud
// client: structured logging (zerolog), tracing (OpenTelemetry) and metrics
// (Prometheus).
//
// # Usage
//
// Initialize telemetry once at startup:
//
//	cfg := telemetry.DefaultConfig()
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// # Structured Logging
//
// Library packages take a zerolog.Logger directly; the CLI derives it from
// the telemetry logger:
//
//	logger := tel.Logger.NewComponentLogger("convergence").Zerolog()
//
// # Metrics
//
// Metrics cover the convergence engine (waits started and resolved, by
// resolution path, poll attempts), the event stream (events received,
// reconnects, subscribers) and the HTTP client (requests by status code).
// A nil *Metrics is a valid no-op collector, so packages never need to
// check whether metrics are enabled.
//
// Set Metrics.ListenAddress to expose a /metrics endpoint:
//
//	tel.StartMetricsServer()
//
// # Tracing
//
// When tracing is enabled the global OpenTelemetry provider is replaced, so
// spans started through otel.Tracer in other packages are exported too.
package telemetry
