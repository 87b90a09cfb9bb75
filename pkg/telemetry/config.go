package telemetry

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Config contains the telemetry configuration for the dockercloud client.
type Config struct {
	ServiceName    string `yaml:"service_name" toml:"service_name"`
	ServiceVersion string `yaml:"service_version" toml:"service_version"`

	// Environment is attached to every span, e.g. "production".
	Environment string `yaml:"environment" toml:"environment"`

	Logging LoggingConfig `yaml:"logging" toml:"logging"`
	Tracing TracingConfig `yaml:"tracing" toml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics" toml:"metrics"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error, fatal).
	Level string `yaml:"level" toml:"level"`

	// console or json.
	Format string `yaml:"format" toml:"format"`

	// Output specifies where logs are written (stdout, stderr, file path).
	Output string `yaml:"output" toml:"output"`

	EnableCaller bool `yaml:"enable_caller" toml:"enable_caller"`

	// EnableSampling enables log sampling for high-frequency logs such as
	// per-event stream messages.
	EnableSampling bool `yaml:"enable_sampling" toml:"enable_sampling"`

	// The first SamplingInitial messages of each second are logged, then
	// every SamplingThereafter-th one.
	SamplingInitial    int `yaml:"sampling_initial" toml:"sampling_initial"`
	SamplingThereafter int `yaml:"sampling_thereafter" toml:"sampling_thereafter"`

	// TimeFormat specifies the timestamp format (unix, rfc3339, etc.).
	TimeFormat string `yaml:"time_format" toml:"time_format"`
}

// TracingConfig configures distributed tracing.
type TracingConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`

	// Exporter specifies the trace exporter (otlp, stdout, none).
	Exporter string `yaml:"exporter" toml:"exporter"`

	// Endpoint is the exporter endpoint (e.g., "localhost:4317" for OTLP).
	Endpoint string `yaml:"endpoint" toml:"endpoint"`

	// SamplingRate is the trace sampling rate (0.0 to 1.0).
	SamplingRate float64 `yaml:"sampling_rate" toml:"sampling_rate"`

	MaxExportBatchSize int           `yaml:"max_export_batch_size" toml:"max_export_batch_size"`
	ExportTimeout      time.Duration `yaml:"export_timeout" toml:"export_timeout"`

	// Headers are sent with every OTLP export.
	Headers map[string]string `yaml:"headers" toml:"headers"`

	// Insecure disables TLS for the exporter connection.
	Insecure bool `yaml:"insecure" toml:"insecure"`
}

// MetricsConfig configures metrics collection.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`

	// ListenAddress is the address for the metrics HTTP endpoint. Empty
	// disables the endpoint while still collecting metrics.
	ListenAddress string `yaml:"listen_address" toml:"listen_address"`

	Path      string `yaml:"path" toml:"path"`
	Namespace string `yaml:"namespace" toml:"namespace"`

	// Latency buckets in seconds.
	DefaultHistogramBuckets []float64 `yaml:"buckets" toml:"buckets"`
}

// DefaultConfig returns a default telemetry configuration. Tracing is off
// by default since a CLI run rarely has a collector to talk to.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "dockercloud",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:              "info",
			Format:             "console",
			Output:             "stderr",
			EnableCaller:       false,
			EnableSampling:     false,
			SamplingInitial:    100,
			SamplingThereafter: 100,
			TimeFormat:         "rfc3339",
		},
		Tracing: TracingConfig{
			Enabled:            false,
			Exporter:           "stdout",
			Endpoint:           "",
			SamplingRate:       1.0,
			MaxExportBatchSize: 512,
			ExportTimeout:      30 * time.Second,
			Headers:            make(map[string]string),
			Insecure:           true,
		},
		Metrics: MetricsConfig{
			Enabled:       true,
			ListenAddress: "",
			Path:          "/metrics",
			Namespace:     "dockercloud",
			DefaultHistogramBuckets: []float64{
				0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0, 300.0,
			},
		},
	}
}

// ProductionConfig logs sampled JSON and exports a tenth of traces over OTLP.
func ProductionConfig() *Config {
	cfg := DefaultConfig()
	cfg.Environment = "production"
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Logging.EnableSampling = true
	cfg.Logging.TimeFormat = "unix"
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "otlp"
	cfg.Tracing.SamplingRate = 0.1
	cfg.Tracing.Insecure = false
	return cfg
}

// DevelopmentConfig logs at debug level with callers and prints every span.
func DevelopmentConfig() *Config {
	cfg := DefaultConfig()
	cfg.Environment = "development"
	cfg.Logging.Level = "debug"
	cfg.Logging.Format = "console"
	cfg.Logging.EnableCaller = true
	cfg.Tracing.Exporter = "stdout"
	cfg.Tracing.SamplingRate = 1.0
	return cfg
}

// Validate rejects unknown levels, formats and exporters.
func (c *Config) Validate() error {
	switch {
	case c.ServiceName == "":
		return errors.New("service name is required")
	case c.ServiceVersion == "":
		return errors.New("service version is required")
	}

	if _, err := zerolog.ParseLevel(c.Logging.Level); err != nil || c.Logging.Level == "" {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log format: %s (must be 'console' or 'json')", c.Logging.Format)
	}

	if c.Tracing.Enabled {
		switch c.Tracing.Exporter {
		case "otlp", "stdout", "none":
		default:
			return fmt.Errorf("invalid trace exporter: %s", c.Tracing.Exporter)
		}
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("trace sampling rate must be between 0 and 1, got: %f", c.Tracing.SamplingRate)
	}

	if c.Metrics.Enabled && c.Metrics.ListenAddress != "" && c.Metrics.Path == "" {
		return errors.New("metrics path is required when the metrics endpoint is enabled")
	}
	return nil
}
