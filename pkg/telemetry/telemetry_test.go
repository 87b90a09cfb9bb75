package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "production", mutate: func(c *Config) { *c = *ProductionConfig() }},
		{name: "development", mutate: func(c *Config) { *c = *DevelopmentConfig() }},
		{name: "missing service name", mutate: func(c *Config) { c.ServiceName = "" }, wantErr: true},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: true},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: true},
		{
			name: "bad exporter",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.Exporter = "jaeger"
			},
			wantErr: true,
		},
		{name: "bad sampling", mutate: func(c *Config) { c.Tracing.SamplingRate = 2 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestMetricsRecording(t *testing.T) {
	m, err := NewMetrics(DefaultConfig().Metrics)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	m.RecordWaitStarted("stack")
	m.RecordWaitStarted("stack")
	m.RecordWaitResolved("stack", ResolvedPush, 10*time.Millisecond)

	if got := testutil.ToFloat64(m.activeWaits); got != 1 {
		t.Errorf("expected 1 active wait, got %v", got)
	}
	if got := testutil.ToFloat64(m.waitsResolved.WithLabelValues("stack", ResolvedPush)); got != 1 {
		t.Errorf("expected 1 push resolution, got %v", got)
	}

	m.RecordPollAttempt("action", "error")
	m.RecordEventReceived("service")
	m.RecordStreamReconnect()
	m.SetSubscribers(3)
	m.RecordAPIRequest(http.MethodGet, "200", time.Millisecond)

	if got := testutil.ToFloat64(m.subscribers); got != 3 {
		t.Errorf("expected 3 subscribers, got %v", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "dockercloud_poll_attempts_total") {
		t.Error("metrics output is missing poll attempts")
	}
}

func TestMetricsNoop(t *testing.T) {
	var nilMetrics *Metrics
	nilMetrics.RecordWaitStarted("stack")
	nilMetrics.RecordWaitResolved("stack", ResolvedPoll, time.Second)
	nilMetrics.SetSubscribers(1)

	disabled, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	disabled.RecordPollAttempt("stack", "miss")
	if disabled.StartMetricsServer() != nil {
		t.Error("disabled metrics must not start a server")
	}

	rec := httptest.NewRecorder()
	disabled.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 from disabled metrics, got %d", rec.Code)
	}
}

func TestTelemetryLifecycle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Output = "stderr"
	cfg.Logging.Level = "error"

	tel, err := NewTelemetry(cfg)
	if err != nil {
		t.Fatalf("NewTelemetry: %v", err)
	}

	ctx := tel.WithContext(context.Background())
	if FromTelemetryContext(ctx) != tel {
		t.Error("telemetry not found in context")
	}

	op := StartOperation(ctx, "stack.inspect")
	op.End(nil)

	if err := tel.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestLoggerFields(t *testing.T) {
	logger, err := NewLogger(LoggingConfig{Level: "debug", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	quiet := logger.WithResource("stack", "u-1").WithWaitID("w-1").SetLevel("error")
	if quiet.Zerolog().GetLevel().String() != "error" {
		t.Errorf("expected error level, got %s", quiet.Zerolog().GetLevel())
	}

	if FromContext(context.Background()) == nil {
		t.Error("FromContext must fall back to a default logger")
	}
}
