package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger carries the client's zerolog logger together with the config it
// was built from. Library packages take the zerolog.Logger returned by
// Zerolog; the CLI keeps the wrapper to scope fields per command and to
// pass the logger through a context.
type Logger struct {
	zlog   zerolog.Logger
	config LoggingConfig
}

type loggerContextKey struct{}

// NewLogger builds a logger writing to cfg.Output (stdout, stderr or a file
// path) in console or JSON format.
func NewLogger(cfg LoggingConfig) (*Logger, error) {
	out, err := openOutput(cfg.Output)
	if err != nil {
		return nil, err
	}

	zerolog.TimeFieldFormat = fieldTimeFormat(cfg.TimeFormat)
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: consoleTimeFormat(cfg.TimeFormat)}
	}

	zctx := zerolog.New(out).Level(parseLogLevel(cfg.Level)).With().Timestamp()
	if cfg.EnableCaller {
		zctx = zctx.Caller()
	}
	zlog := zctx.Logger()

	// Bounds per-event logging on a busy audit stream.
	if cfg.EnableSampling {
		zlog = zlog.Sample(&zerolog.BurstSampler{
			Burst:       uint32(cfg.SamplingInitial),
			Period:      time.Second,
			NextSampler: &zerolog.BasicSampler{N: uint32(cfg.SamplingThereafter)},
		})
	}

	return &Logger{zlog: zlog, config: cfg}, nil
}

func openOutput(output string) (io.Writer, error) {
	switch output {
	case "", "stderr":
		return os.Stderr, nil
	case "stdout":
		return os.Stdout, nil
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}

func (l *Logger) derive(zlog zerolog.Logger) *Logger {
	return &Logger{zlog: zlog, config: l.config}
}

// NewComponentLogger returns a child logger tagged with component.
func (l *Logger) NewComponentLogger(component string) *Logger {
	return l.derive(l.zlog.With().Str("component", component).Logger())
}

// WithContext stores the logger in ctx.
func (l *Logger) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, l)
}

// FromContext returns the logger stored in ctx, or a plain stderr logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerContextKey{}).(*Logger); ok {
		return l
	}
	return &Logger{zlog: zerolog.New(os.Stderr).With().Timestamp().Logger()}
}

// WithFields returns a logger with additional fields.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	return l.derive(l.zlog.With().Fields(fields).Logger())
}

// WithField returns a logger with one additional field.
func (l *Logger) WithField(key string, value any) *Logger {
	return l.derive(l.zlog.With().Interface(key, value).Logger())
}

// WithResource tags the logger with the resource a wait is about. The keys
// match those the convergence engine logs with.
func (l *Logger) WithResource(kind, uuid string) *Logger {
	return l.derive(l.zlog.With().Str("resource_kind", kind).Str("resource_uuid", uuid).Logger())
}

// WithWaitID tags the logger with a wait id.
func (l *Logger) WithWaitID(waitID string) *Logger {
	return l.derive(l.zlog.With().Str("wait_id", waitID).Logger())
}

// WithCommand tags the logger with the CLI command path.
func (l *Logger) WithCommand(name string) *Logger {
	return l.derive(l.zlog.With().Str("command", name).Logger())
}

// WithError returns a logger carrying err.
func (l *Logger) WithError(err error) *Logger {
	return l.derive(l.zlog.With().Err(err).Logger())
}

// SetLevel returns a copy of the logger with a new minimum level.
func (l *Logger) SetLevel(level string) *Logger {
	cfg := l.config
	cfg.Level = level
	return &Logger{zlog: l.zlog.Level(parseLogLevel(level)), config: cfg}
}

// Zerolog returns the underlying logger.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zlog
}

func (l *Logger) Debugf(format string, args ...any) {
	l.zlog.Debug().Msgf(format, args...)
}

// parseLogLevel maps a config level to zerolog; unknown levels mean info.
func parseLogLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

func fieldTimeFormat(format string) string {
	switch format {
	case "unix":
		return zerolog.TimeFormatUnix
	case "unixms":
		return zerolog.TimeFormatUnixMs
	case "unixmicro":
		return zerolog.TimeFormatUnixMicro
	}
	return time.RFC3339
}

func consoleTimeFormat(format string) string {
	if format == "unix" {
		return "unix"
	}
	return time.Kitchen
}
