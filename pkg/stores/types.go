package stores

import (
	"context"
	"time"

	"github.com/openfroyo/dockercloud/pkg/convergence"
	"github.com/openfroyo/dockercloud/pkg/events"
)

// EventEntry is a journaled stream event.
type EventEntry struct {
	ID         int64        `json:"id"`
	Event      events.Event `json:"event"`
	ReceivedAt time.Time    `json:"received_at"`
}

// WaitFilter narrows ListWaits. Empty fields match everything.
type WaitFilter struct {
	Kind   string
	UUID   string
	Limit  int
	Offset int
}

// EventFilter narrows ListEvents. Empty fields match everything.
type EventFilter struct {
	Type   string
	Since  time.Time
	Limit  int
	Offset int
}

// Store defines the interface for the journal.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Wait operations
	RecordWait(ctx context.Context, rec convergence.WaitRecord) error
	ListWaits(ctx context.Context, filter WaitFilter) ([]convergence.WaitRecord, error)

	// Event operations
	RecordEvent(ctx context.Context, event events.Event) error
	ListEvents(ctx context.Context, filter EventFilter) ([]*EventEntry, error)

	// Prune deletes waits and events older than before.
	Prune(ctx context.Context, before time.Time) (int64, error)

	// Utility
	HealthCheck(ctx context.Context) error
}

var _ Store = (*SQLiteStore)(nil)
var _ convergence.Journal = (*SQLiteStore)(nil)
