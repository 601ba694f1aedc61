// Package sqlite persists the event log in SQLite via the pure Go
// modernc.org driver. It provides ACID appends with no CGo dependencies and
// suits single-process deployments and tests.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite" // registers the database/sql driver

	"github.com/quantive/eventfold/pkg/eventsourcing"
	"github.com/quantive/eventfold/pkg/serialization"
)

const (
	sqliteConstraintPrimaryKey = 1555
	sqliteConstraintUnique     = 2067
)

// EventStore is a SQLite-backed implementation of eventsourcing.EventStore.
type EventStore struct {
	db             *sql.DB
	serializer     *serialization.Serializer
	syncProcessors []eventsourcing.EventProcessor
	logger         *slog.Logger
	mu             sync.Mutex // single writer; SQLite serializes writes anyway
}

type eventStoreConfig struct {
	dsn            string
	maxOpenConns   int
	maxIdleConns   int
	walMode        bool
	autoMigrate    bool
	syncProcessors []eventsourcing.EventProcessor
	logger         *slog.Logger
}

func defaultEventStoreConfig() eventStoreConfig {
	return eventStoreConfig{
		dsn:          "eventfold.db",
		maxOpenConns: 25,
		maxIdleConns: 5,
		walMode:      true,
		autoMigrate:  true,
		logger:       slog.Default(),
	}
}

// EventStoreOption configures an EventStore.
type EventStoreOption func(*eventStoreConfig)

// WithDSN sets the data source name (file path or ":memory:").
func WithDSN(dsn string) EventStoreOption {
	return func(c *eventStoreConfig) { c.dsn = dsn }
}

// WithMemoryDatabase uses an in-memory database. Intended for tests.
func WithMemoryDatabase() EventStoreOption {
	return func(c *eventStoreConfig) { c.dsn = ":memory:" }
}

// WithMaxOpenConns sets the maximum number of open connections.
func WithMaxOpenConns(n int) EventStoreOption {
	return func(c *eventStoreConfig) { c.maxOpenConns = n }
}

// WithMaxIdleConns sets the maximum number of idle connections.
func WithMaxIdleConns(n int) EventStoreOption {
	return func(c *eventStoreConfig) { c.maxIdleConns = n }
}

// WithWALMode toggles write-ahead logging. Recommended for file databases,
// ignored by :memory: databases.
func WithWALMode(enabled bool) EventStoreOption {
	return func(c *eventStoreConfig) { c.walMode = enabled }
}

// WithAutoMigrate toggles running pending migrations on startup.
func WithAutoMigrate(enabled bool) EventStoreOption {
	return func(c *eventStoreConfig) { c.autoMigrate = enabled }
}

// WithSynchronousProcessors runs the given processors inside every sink
// transaction: their failure rolls back the whole append. Synchronous
// processors must not write back through the store.
func WithSynchronousProcessors(processors ...eventsourcing.EventProcessor) EventStoreOption {
	return func(c *eventStoreConfig) {
		c.syncProcessors = append(c.syncProcessors, processors...)
	}
}

// WithLogger sets the logger used for store diagnostics.
func WithLogger(logger *slog.Logger) EventStoreOption {
	return func(c *eventStoreConfig) { c.logger = logger }
}

// NewEventStore opens (and by default migrates) a SQLite event store.
//
// Example usage:
//
//	store, err := sqlite.NewEventStore(serializer,
//	    sqlite.WithDSN("/var/lib/app/events.db"),
//	)
func NewEventStore(serializer *serialization.Serializer, opts ...EventStoreOption) (*EventStore, error) {
	config := defaultEventStoreConfig()
	for _, opt := range opts {
		opt(&config)
	}

	db, err := sql.Open("sqlite", config.dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A :memory: database exists per connection, so the pool must be pinned
	// to one connection or every query sees a different empty database.
	if config.dsn == ":memory:" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(config.maxOpenConns)
		db.SetMaxIdleConns(config.maxIdleConns)
	}
	db.SetConnMaxLifetime(time.Hour)

	store := &EventStore{
		db:             db,
		serializer:     serializer,
		syncProcessors: config.syncProcessors,
		logger:         config.logger,
	}

	if config.walMode && config.dsn != ":memory:" {
		if _, err := db.Exec(`
			PRAGMA journal_mode = WAL;
			PRAGMA synchronous = NORMAL;
			PRAGMA foreign_keys = ON;
		`); err != nil {
			db.Close()
			return nil, fmt.Errorf("set WAL mode: %w", err)
		}
	}

	if config.autoMigrate {
		if err := Migrate(context.Background(), db); err != nil {
			db.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	return store, nil
}

// Close releases the underlying connection pool.
func (s *EventStore) Close() error {
	return s.db.Close()
}

// Sink implements eventsourcing.EventSink. Events, the per-type sequence
// stats and the synchronous processors all commit in one transaction.
func (s *EventStore) Sink(ctx context.Context, events []eventsourcing.Event, aggregateID uuid.UUID, aggregateType string) error {
	if len(events) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	sequenced := make([]eventsourcing.SequencedEvent, len(events))
	for i, event := range events {
		body, meta, err := s.serializer.Serialize(event.Domain, event.Metadata)
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO events (id, aggregate_id, aggregate_sequence, aggregate_type, event_type, created_at, body, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			event.ID.String(),
			event.AggregateID.String(),
			event.AggregateSequence,
			event.AggregateType,
			event.Domain.EventType(),
			event.CreatedAt.Format(time.RFC3339Nano),
			string(body),
			string(meta),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: aggregate %s sequence %d",
					eventsourcing.ErrConcurrencyConflict, event.AggregateID, event.AggregateSequence)
			}
			return fmt.Errorf("insert event: %w", err)
		}

		sequence, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("read inserted sequence: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO event_type_stats (event_type, sequence) VALUES (?, ?)
			ON CONFLICT (event_type) DO UPDATE SET sequence = MAX(sequence, excluded.sequence)`,
			event.Domain.EventType(), sequence,
		); err != nil {
			return fmt.Errorf("update sequence stats: %w", err)
		}

		sequenced[i] = eventsourcing.SequencedEvent{Event: event, Sequence: sequence}
	}

	for _, event := range sequenced {
		for _, processor := range s.syncProcessors {
			// An empty interest set subscribes to every event type, matching GetAfter.
			if types := processor.EventTypes(); len(types) > 0 && !slices.Contains(types, event.Domain.EventType()) {
				continue
			}
			if err := processor.Process(ctx, event); err != nil {
				return fmt.Errorf("synchronous processor: %w", err)
			}
		}
	}

	return tx.Commit()
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqliteConstraintPrimaryKey || code == sqliteConstraintUnique
}

// GetAfter implements eventsourcing.EventSource.
func (s *EventStore) GetAfter(ctx context.Context, sequence int64, eventTypes []string, batchSize int) ([]eventsourcing.SequencedEvent, error) {
	query := `
		SELECT sequence, id, aggregate_id, aggregate_sequence, aggregate_type, event_type, created_at, body, metadata
		FROM events
		WHERE sequence > ?`
	args := []any{sequence}

	if len(eventTypes) > 0 {
		query += ` AND event_type IN (` + placeholders(len(eventTypes)) + `)`
		for _, tag := range eventTypes {
			args = append(args, tag)
		}
	}
	query += ` ORDER BY sequence ASC LIMIT ?`
	args = append(args, batchSize)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events after %d: %w", sequence, err)
	}
	defer rows.Close()

	var out []eventsourcing.SequencedEvent
	for rows.Next() {
		event, err := s.scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, event)
	}
	return out, rows.Err()
}

// EventsFor implements eventsourcing.EventSource.
func (s *EventStore) EventsFor(ctx context.Context, aggregateID uuid.UUID) ([]eventsourcing.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, id, aggregate_id, aggregate_sequence, aggregate_type, event_type, created_at, body, metadata
		FROM events
		WHERE aggregate_id = ?
		ORDER BY aggregate_sequence ASC`,
		aggregateID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("query events for aggregate %s: %w", aggregateID, err)
	}
	defer rows.Close()

	var out []eventsourcing.Event
	for rows.Next() {
		event, err := s.scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, event.Event)
	}
	return out, rows.Err()
}

// LastSequence implements eventsourcing.EventSource by scanning the events
// table. For the cached variant see Stats.
func (s *EventStore) LastSequence(ctx context.Context, eventTypes []string) (int64, error) {
	query := `SELECT COALESCE(MAX(sequence), 0) FROM events`
	var args []any

	if len(eventTypes) > 0 {
		query += ` WHERE event_type IN (` + placeholders(len(eventTypes)) + `)`
		for _, tag := range eventTypes {
			args = append(args, tag)
		}
	}

	var last int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&last); err != nil {
		return 0, fmt.Errorf("query last sequence: %w", err)
	}
	return last, nil
}

func (s *EventStore) scanEvent(rows *sql.Rows) (eventsourcing.SequencedEvent, error) {
	var (
		out             eventsourcing.SequencedEvent
		id, aggregateID string
		eventType       string
		createdAt       string
		body, metadata  string
	)
	if err := rows.Scan(
		&out.Sequence, &id, &aggregateID, &out.AggregateSequence,
		&out.AggregateType, &eventType, &createdAt, &body, &metadata,
	); err != nil {
		return out, fmt.Errorf("scan event row: %w", err)
	}

	var err error
	if out.ID, err = uuid.Parse(id); err != nil {
		return out, fmt.Errorf("parse event id %q: %w", id, err)
	}
	if out.AggregateID, err = uuid.Parse(aggregateID); err != nil {
		return out, fmt.Errorf("parse aggregate id %q: %w", aggregateID, err)
	}
	if out.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return out, fmt.Errorf("parse created_at %q: %w", createdAt, err)
	}

	out.Domain, out.Metadata, err = s.serializer.Deserialize(eventType, []byte(body), []byte(metadata))
	if err != nil {
		return out, err
	}
	return out, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// Stats returns the per-event-type high-water marks maintained by Sink.
func (s *EventStore) Stats() eventsourcing.SequenceStats {
	return sequenceStats{db: s.db}
}

type sequenceStats struct {
	db *sql.DB
}

func (st sequenceStats) LastSequence(ctx context.Context, eventTypes []string) (int64, error) {
	query := `SELECT COALESCE(MAX(sequence), 0) FROM event_type_stats`
	var args []any

	if len(eventTypes) > 0 {
		query += ` WHERE event_type IN (` + placeholders(len(eventTypes)) + `)`
		for _, tag := range eventTypes {
			args = append(args, tag)
		}
	}

	var last int64
	if err := st.db.QueryRowContext(ctx, query, args...).Scan(&last); err != nil {
		return 0, fmt.Errorf("query sequence stats: %w", err)
	}
	return last, nil
}
