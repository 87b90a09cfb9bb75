package stores

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/dockercloud/pkg/convergence"
	"github.com/openfroyo/dockercloud/pkg/events"
	"github.com/openfroyo/dockercloud/pkg/resource"
)

// setupTestStore creates a migrated store backed by a temporary file
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: filepath.Join(t.TempDir(), "journal", "journal.db"),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func TestStoreLifecycle(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Fatal("expected error for empty path")
	}

	store, err := NewSQLiteStore(Config{Path: MemoryPath})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.HealthCheck(ctx); err == nil {
		t.Error("health check must fail before Init")
	}
	if err := store.Migrate(ctx); err == nil {
		t.Error("migrate must fail before Init")
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	// Running the migrations again is a no-op.
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("second migration failed: %v", err)
	}
	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, table := range []string{"waits", "events"} {
		var count int
		err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count)
		if err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}
}

func TestWaitJournal(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour).Truncate(time.Millisecond)
	records := []convergence.WaitRecord{
		{
			ID:        "w1",
			Kind:      "stack",
			UUID:      "s1",
			Desired:   "state=Running",
			Path:      "poll",
			State:     "Running",
			Polls:     3,
			StartedAt: base,
			Duration:  1500 * time.Millisecond,
		},
		{
			ID:        "w2",
			Kind:      "service",
			UUID:      "v1",
			Desired:   "state=Stopped",
			Path:      "incompatible",
			State:     "Terminated",
			Error:     "incompatible state",
			StartedAt: base.Add(time.Minute),
		},
		{
			Kind:      "stack",
			UUID:      "s2",
			Desired:   "state=Terminated",
			Path:      "push",
			StartedAt: base.Add(2 * time.Minute),
		},
	}
	for _, rec := range records {
		if err := store.RecordWait(ctx, rec); err != nil {
			t.Fatalf("failed to record wait: %v", err)
		}
	}

	all, err := store.ListWaits(ctx, WaitFilter{})
	if err != nil {
		t.Fatalf("failed to list waits: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 waits, got %d", len(all))
	}
	if all[0].UUID != "s2" || all[2].ID != "w1" {
		t.Errorf("expected newest first, got %s then ... %s", all[0].UUID, all[2].ID)
	}
	if all[0].ID == "" {
		t.Error("expected a generated id")
	}

	got := all[2]
	if got.Polls != 3 || got.Duration != 1500*time.Millisecond || !got.StartedAt.Equal(base) {
		t.Errorf("unexpected round trip: %+v", got)
	}

	stacks, err := store.ListWaits(ctx, WaitFilter{Kind: "stack"})
	if err != nil {
		t.Fatalf("failed to list waits: %v", err)
	}
	if len(stacks) != 2 {
		t.Errorf("expected 2 stack waits, got %d", len(stacks))
	}

	byUUID, err := store.ListWaits(ctx, WaitFilter{UUID: "v1"})
	if err != nil {
		t.Fatalf("failed to list waits: %v", err)
	}
	if len(byUUID) != 1 || byUUID[0].Error != "incompatible state" {
		t.Errorf("unexpected filter result: %+v", byUUID)
	}

	page, err := store.ListWaits(ctx, WaitFilter{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("failed to list waits: %v", err)
	}
	if len(page) != 1 || page[0].ID != "w2" {
		t.Errorf("unexpected page: %+v", page)
	}

	// Recording the same id again updates the outcome.
	records[0].Path = "timeout"
	if err := store.RecordWait(ctx, records[0]); err != nil {
		t.Fatalf("failed to re-record wait: %v", err)
	}
	again, err := store.ListWaits(ctx, WaitFilter{UUID: "s1"})
	if err != nil {
		t.Fatalf("failed to list waits: %v", err)
	}
	if len(again) != 1 || again[0].Path != "timeout" {
		t.Errorf("expected updated record, got %+v", again)
	}
}

func TestEventJournal(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	recorded := []events.Event{
		{
			Type:        resource.KindStack,
			State:       "Running",
			ResourceURI: "/api/app/v1/stack/s1/",
			Action:      "update",
			Parents:     []string{"/api/app/v1/user/u1/"},
		},
		{
			Type:        resource.KindContainer,
			State:       "Stopped",
			ResourceURI: "/api/app/v1/container/c1/",
		},
	}
	for _, ev := range recorded {
		if err := store.RecordEvent(ctx, ev); err != nil {
			t.Fatalf("failed to record event: %v", err)
		}
	}

	entries, err := store.ListEvents(ctx, EventFilter{})
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 events, got %d", len(entries))
	}
	if entries[0].Event.Type != resource.KindContainer {
		t.Errorf("expected newest first, got %s", entries[0].Event.Type)
	}
	if entries[0].Event.Parents != nil {
		t.Errorf("expected no parents, got %v", entries[0].Event.Parents)
	}
	stack := entries[1].Event
	if stack.State != "Running" || stack.Action != "update" || len(stack.Parents) != 1 {
		t.Errorf("unexpected round trip: %+v", stack)
	}
	if entries[1].ReceivedAt.IsZero() {
		t.Error("expected a receive time")
	}

	stacks, err := store.ListEvents(ctx, EventFilter{Type: "stack"})
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}
	if len(stacks) != 1 {
		t.Errorf("expected 1 stack event, got %d", len(stacks))
	}

	future, err := store.ListEvents(ctx, EventFilter{Since: time.Now().Add(time.Hour)})
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}
	if len(future) != 0 {
		t.Errorf("expected no events in the future, got %d", len(future))
	}
}

func TestPrune(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	if err := store.RecordWait(ctx, convergence.WaitRecord{Kind: "stack", UUID: "old", StartedAt: old}); err != nil {
		t.Fatalf("failed to record wait: %v", err)
	}
	if err := store.RecordWait(ctx, convergence.WaitRecord{Kind: "stack", UUID: "new"}); err != nil {
		t.Fatalf("failed to record wait: %v", err)
	}
	if err := store.RecordEvent(ctx, events.Event{Type: resource.KindStack}); err != nil {
		t.Fatalf("failed to record event: %v", err)
	}

	removed, err := store.Prune(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("failed to prune: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 pruned row, got %d", removed)
	}

	waits, err := store.ListWaits(ctx, WaitFilter{})
	if err != nil {
		t.Fatalf("failed to list waits: %v", err)
	}
	if len(waits) != 1 || waits[0].UUID != "new" {
		t.Errorf("unexpected waits after prune: %+v", waits)
	}

	entries, err := store.ListEvents(ctx, EventFilter{})
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("recent events must survive, got %d", len(entries))
	}
}

func TestEngineJournal(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	engine := convergence.NewEngine(events.NewRegistry(zerolog.Nop(), nil), convergence.Options{
		Interval: 10 * time.Millisecond,
		Logger:   zerolog.Nop(),
		Journal:  store,
	})

	snapshot := resource.Resource{
		"uuid":         "s1",
		"state":        "Running",
		"resource_uri": "/api/app/v1/stack/s1/",
	}
	_, err := engine.WaitUntil(ctx, convergence.Target{
		Kind:     resource.KindStack,
		UUID:     "s1",
		Desired:  resource.StateIs(resource.StateRunning),
		Snapshot: snapshot,
		Fetch: func(context.Context, string) (resource.Resource, error) {
			return snapshot, nil
		},
	})
	if err != nil {
		t.Fatalf("wait failed: %v", err)
	}

	waits, err := store.ListWaits(ctx, WaitFilter{UUID: "s1"})
	if err != nil {
		t.Fatalf("failed to list waits: %v", err)
	}
	if len(waits) != 1 {
		t.Fatalf("expected the wait to be journaled, got %d records", len(waits))
	}
	if waits[0].Kind != "stack" || waits[0].Path != "fast" {
		t.Errorf("unexpected record: %+v", waits[0])
	}
}
