package convergence

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/dockercloud/pkg/telemetry"
)

// DefaultInterval is the delay between unsuccessful poll attempts.
const DefaultInterval = 5 * time.Second

// DefaultMaxPollFailures is the number of consecutive failed fetches after
// which a wait gives up.
const DefaultMaxPollFailures = 5

// WaitRecord summarizes a finished wait for the journal.
type WaitRecord struct {
	ID        string
	Kind      string
	UUID      string
	Desired   string
	Path      string
	State     string
	Error     string
	Polls     int
	StartedAt time.Time
	Duration  time.Duration
}

// Journal persists finished waits.
type Journal interface {
	RecordWait(ctx context.Context, rec WaitRecord) error
}

// Options configures an Engine.
type Options struct {
	// Interval between poll attempts. Zero means DefaultInterval.
	Interval time.Duration

	// MaxPollFailures bounds consecutive fetch errors. Zero means unlimited.
	MaxPollFailures int

	// Timeout bounds every wait in addition to the caller's context. Zero
	// disables it.
	Timeout time.Duration

	Logger  zerolog.Logger
	Metrics *telemetry.Metrics

	// Journal, if set, receives one record per finished wait.
	Journal Journal
}

// DefaultOptions returns the options used by the client when none are set.
func DefaultOptions() Options {
	return Options{
		Interval:        DefaultInterval,
		MaxPollFailures: DefaultMaxPollFailures,
		Logger:          zerolog.Nop(),
	}
}
