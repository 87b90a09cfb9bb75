package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/dockercloud/pkg/api"
	"github.com/openfroyo/dockercloud/pkg/convergence"
	"github.com/openfroyo/dockercloud/pkg/events"
	"github.com/openfroyo/dockercloud/pkg/telemetry"
)

// Environment variables overriding file settings.
const (
	EnvUser       = "DOCKERCLOUD_USER"
	EnvAPIKey     = "DOCKERCLOUD_APIKEY"
	EnvRESTHost   = "DOCKERCLOUD_REST_HOST"
	EnvStreamHost = "DOCKERCLOUD_STREAM_HOST"
	EnvInterval   = "DOCKERCLOUD_WAIT_INTERVAL"
)

// ErrMissingCredentials is returned by RequireCredentials.
var ErrMissingCredentials = errors.New("docker cloud credentials are not configured")

// Config is the client configuration.
type Config struct {
	API       APIConfig        `yaml:"api" toml:"api"`
	Stream    StreamConfig     `yaml:"stream" toml:"stream"`
	Wait      WaitConfig       `yaml:"wait" toml:"wait"`
	Journal   JournalConfig    `yaml:"journal" toml:"journal"`
	Telemetry telemetry.Config `yaml:"telemetry" toml:"telemetry"`
}

// APIConfig configures the REST client.
type APIConfig struct {
	User      string  `yaml:"user" toml:"user"`
	APIKey    string  `yaml:"apikey" toml:"apikey"`
	RESTHost  string  `yaml:"rest_host" toml:"rest_host" validate:"required,url"`
	RateLimit float64 `yaml:"rate_limit" toml:"rate_limit" validate:"gte=0"`
	RateBurst int     `yaml:"rate_burst" toml:"rate_burst" validate:"gte=0"`
}

// StreamConfig configures the audit event stream.
type StreamConfig struct {
	Enabled bool                 `yaml:"enabled" toml:"enabled"`
	URL     string               `yaml:"url" toml:"url" validate:"required_if=Enabled true,omitempty,url"`
	Backoff events.BackoffConfig `yaml:"backoff" toml:"backoff"`
}

// WaitConfig configures the convergence engine.
type WaitConfig struct {
	// Interval between unsuccessful poll attempts.
	Interval time.Duration `yaml:"interval" toml:"interval" validate:"gt=0"`

	// MaxPollFailures bounds consecutive poll errors; 0 means unlimited.
	MaxPollFailures int `yaml:"max_poll_failures" toml:"max_poll_failures" validate:"gte=0"`

	// Timeout bounds every wait; 0 means no timeout.
	Timeout time.Duration `yaml:"timeout" toml:"timeout" validate:"gte=0"`
}

// JournalConfig configures the local wait journal.
type JournalConfig struct {
	Enabled      bool   `yaml:"enabled" toml:"enabled"`
	Path         string `yaml:"path" toml:"path" validate:"required_if=Enabled true"`
	RecordEvents bool   `yaml:"record_events" toml:"record_events"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		API: APIConfig{
			RESTHost: api.DefaultHost,
		},
		Stream: StreamConfig{
			Enabled: true,
			URL:     events.DefaultStreamURL,
			Backoff: events.DefaultBackoffConfig(),
		},
		Wait: WaitConfig{
			Interval:        convergence.DefaultInterval,
			MaxPollFailures: convergence.DefaultMaxPollFailures,
		},
		Journal: JournalConfig{
			Path: defaultJournalPath(),
		},
		Telemetry: *telemetry.DefaultConfig(),
	}
}

func defaultJournalPath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "dockercloud", "journal.db")
}

// Load reads the configuration at path, applies environment overrides and
// validates the result. An empty path yields the defaults plus
// environment. The format is chosen by extension: .yaml, .yml or .toml.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		format, err := formatOf(path)
		if err != nil {
			return nil, err
		}
		if err := decode(data, format, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func formatOf(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml", nil
	case ".toml":
		return "toml", nil
	}
	return "", fmt.Errorf("unsupported config format %q (use .yaml, .yml or .toml)", filepath.Ext(path))
}

func decode(data []byte, format string, cfg *Config) error {
	switch format {
	case "yaml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		return nil
	case "toml":
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return err
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return fmt.Errorf("unknown keys: %v", undecoded)
		}
		return nil
	}
	return fmt.Errorf("unsupported config format %q", format)
}

// ApplyEnv overlays environment variables read through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvUser); ok {
		c.API.User = v
	}
	if v, ok := lookup(EnvAPIKey); ok {
		c.API.APIKey = v
	}
	if v, ok := lookup(EnvRESTHost); ok && v != "" {
		c.API.RESTHost = strings.TrimRight(v, "/")
	}
	if v, ok := lookup(EnvStreamHost); ok && v != "" {
		c.Stream.URL = strings.TrimRight(v, "/") + "/api/audit/v1/events/"
	}
	if v, ok := lookup(EnvInterval); ok && v != "" {
		d, err := parseInterval(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvInterval, err)
		}
		c.Wait.Interval = d
	}
	return nil
}

// parseInterval accepts a Go duration or a bare number of milliseconds.
func parseInterval(v string) (time.Duration, error) {
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(v)
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry config: %w", err)
	}
	return nil
}

// RequireCredentials fails when the user or API key is missing.
func (c *Config) RequireCredentials() error {
	if c.API.User == "" || c.API.APIKey == "" {
		return fmt.Errorf("%w: set %s and %s or api.user and api.apikey", ErrMissingCredentials, EnvUser, EnvAPIKey)
	}
	return nil
}
