package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	"github.com/openfroyo/dockercloud/pkg/convergence"
	"github.com/openfroyo/dockercloud/pkg/events"
	"github.com/openfroyo/dockercloud/pkg/resource"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MemoryPath opens a private in-memory journal.
const MemoryPath = ":memory:"

const defaultListLimit = 50

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: is a separate database.
	if cfg.Path == MemoryPath {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Init opens the database, creating its directory if needed.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := s.cfg.Path
	if dsn != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o700); err != nil {
			return fmt.Errorf("failed to create journal directory: %w", err)
		}
		dsn = "file:" + dsn + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs the embedded migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// RecordWait stores a finished wait. A record without an id gets one.
func (s *SQLiteStore) RecordWait(ctx context.Context, rec convergence.WaitRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}

	query := `
		INSERT INTO waits (id, kind, uuid, desired, path, state, error, polls, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			path = excluded.path,
			state = excluded.state,
			error = excluded.error,
			polls = excluded.polls,
			duration_ms = excluded.duration_ms
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.Kind,
		rec.UUID,
		rec.Desired,
		rec.Path,
		rec.State,
		rec.Error,
		rec.Polls,
		rec.StartedAt.UnixMilli(),
		rec.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to record wait: %w", err)
	}
	return nil
}

// ListWaits returns journaled waits, newest first.
func (s *SQLiteStore) ListWaits(ctx context.Context, filter WaitFilter) ([]convergence.WaitRecord, error) {
	query := `
		SELECT id, kind, uuid, desired, path, state, error, polls, started_at, duration_ms
		FROM waits
		WHERE (? = '' OR kind = ?)
		  AND (? = '' OR uuid = ?)
		ORDER BY started_at DESC, rowid DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query,
		filter.Kind, filter.Kind,
		filter.UUID, filter.UUID,
		limitOf(filter.Limit), filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list waits: %w", err)
	}
	defer rows.Close()

	waits := []convergence.WaitRecord{}
	for rows.Next() {
		var (
			rec        convergence.WaitRecord
			startedAt  int64
			durationMs int64
		)
		err := rows.Scan(
			&rec.ID,
			&rec.Kind,
			&rec.UUID,
			&rec.Desired,
			&rec.Path,
			&rec.State,
			&rec.Error,
			&rec.Polls,
			&startedAt,
			&durationMs,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan wait: %w", err)
		}
		rec.StartedAt = time.UnixMilli(startedAt)
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		waits = append(waits, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating waits: %w", err)
	}

	return waits, nil
}

// RecordEvent appends a stream event to the journal.
func (s *SQLiteStore) RecordEvent(ctx context.Context, event events.Event) error {
	parents, err := json.Marshal(event.Parents)
	if err != nil {
		return fmt.Errorf("failed to encode parents: %w", err)
	}
	if event.Parents == nil {
		parents = []byte("[]")
	}

	query := `
		INSERT INTO events (type, state, resource_uri, action, uuid, parents, datetime, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		string(event.Type),
		event.State,
		event.ResourceURI,
		event.Action,
		event.UUID,
		string(parents),
		event.Datetime,
		time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// ListEvents returns journaled events, newest first.
func (s *SQLiteStore) ListEvents(ctx context.Context, filter EventFilter) ([]*EventEntry, error) {
	var since int64
	if !filter.Since.IsZero() {
		since = filter.Since.UnixMilli()
	}

	query := `
		SELECT id, type, state, resource_uri, action, uuid, parents, datetime, received_at
		FROM events
		WHERE (? = '' OR type = ?)
		  AND received_at >= ?
		ORDER BY id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query,
		filter.Type, filter.Type,
		since,
		limitOf(filter.Limit), filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	entries := []*EventEntry{}
	for rows.Next() {
		var (
			entry      EventEntry
			eventType  string
			parents    string
			receivedAt int64
		)
		err := rows.Scan(
			&entry.ID,
			&eventType,
			&entry.Event.State,
			&entry.Event.ResourceURI,
			&entry.Event.Action,
			&entry.Event.UUID,
			&parents,
			&entry.Event.Datetime,
			&receivedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		entry.Event.Type = resource.Kind(eventType)
		if err := json.Unmarshal([]byte(parents), &entry.Event.Parents); err != nil {
			return nil, fmt.Errorf("failed to decode parents of event %d: %w", entry.ID, err)
		}
		if len(entry.Event.Parents) == 0 {
			entry.Event.Parents = nil
		}
		entry.ReceivedAt = time.UnixMilli(receivedAt)
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return entries, nil
}

// Prune removes waits and events recorded before the given time.
func (s *SQLiteStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cutoff := before.UnixMilli()
	var total int64
	for _, query := range []string{
		"DELETE FROM waits WHERE started_at < ?",
		"DELETE FROM events WHERE received_at < ?",
	} {
		result, err := tx.ExecContext(ctx, query, cutoff)
		if err != nil {
			return 0, fmt.Errorf("failed to prune journal: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to get rows affected: %w", err)
		}
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit prune: %w", err)
	}
	return total, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

func limitOf(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}
