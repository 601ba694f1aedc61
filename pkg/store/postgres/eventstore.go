// Package postgres persists the event log in PostgreSQL via pgx. It is the
// store for multi-process deployments: the unique index arbitrates
// concurrent writers, optionally backed by an advisory-lock strategy.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantive/eventfold/pkg/credentials"
	"github.com/quantive/eventfold/pkg/eventsourcing"
	"github.com/quantive/eventfold/pkg/serialization"
)

const (
	pgErrUniqueViolation  = "23505"
	pgErrLockNotAvailable = "55P03"
)

// EventStore is a PostgreSQL-backed implementation of
// eventsourcing.EventStore.
type EventStore struct {
	pool           *pgxpool.Pool
	serializer     *serialization.Serializer
	lock           LockStrategy
	syncProcessors []eventsourcing.EventProcessor
	logger         *slog.Logger
}

type eventStoreConfig struct {
	dsn            string
	pool           *pgxpool.Pool
	lock           LockStrategy
	autoMigrate    bool
	credentials    credentials.Provider
	syncProcessors []eventsourcing.EventProcessor
	logger         *slog.Logger
}

// EventStoreOption configures an EventStore.
type EventStoreOption func(*eventStoreConfig)

// WithDSN sets the connection string.
func WithDSN(dsn string) EventStoreOption {
	return func(c *eventStoreConfig) { c.dsn = dsn }
}

// WithPool reuses an existing connection pool instead of opening one.
func WithPool(pool *pgxpool.Pool) EventStoreOption {
	return func(c *eventStoreConfig) { c.pool = pool }
}

// WithLockStrategy sets the pre-insert locking hook. Default is NoLock.
func WithLockStrategy(lock LockStrategy) EventStoreOption {
	return func(c *eventStoreConfig) { c.lock = lock }
}

// WithAutoMigrate toggles running pending migrations on startup.
func WithAutoMigrate(enabled bool) EventStoreOption {
	return func(c *eventStoreConfig) { c.autoMigrate = enabled }
}

// WithCredentials resolves the database user and password through a
// credential provider at connect time, overriding whatever the DSN carries.
func WithCredentials(provider credentials.Provider) EventStoreOption {
	return func(c *eventStoreConfig) { c.credentials = provider }
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

// NewEventStore connects (and by default migrates) a PostgreSQL event store.
func NewEventStore(ctx context.Context, serializer *serialization.Serializer, opts ...EventStoreOption) (*EventStore, error) {
	config := eventStoreConfig{
		lock:        NoLock{},
		autoMigrate: true,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(&config)
	}

	pool := config.pool
	if pool == nil {
		poolConfig, err := pgxpool.ParseConfig(config.dsn)
		if err != nil {
			return nil, fmt.Errorf("parse dsn: %w", err)
		}
		if config.credentials != nil {
			creds, err := config.credentials.Credentials(ctx)
			if err != nil {
				return nil, fmt.Errorf("resolve credentials: %w", err)
			}
			poolConfig.ConnConfig.User = creds.User
			poolConfig.ConnConfig.Password = creds.Password
		}
		pool, err = pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return nil, fmt.Errorf("connect: %w", err)
		}
	}

	store := &EventStore{
		pool:           pool,
		serializer:     serializer,
		lock:           config.lock,
		syncProcessors: config.syncProcessors,
		logger:         config.logger,
	}

	if config.autoMigrate {
		if err := Migrate(ctx, pool); err != nil {
			if config.pool == nil {
				pool.Close()
			}
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	return store, nil
}

// Close releases the connection pool.
func (s *EventStore) Close() {
	s.pool.Close()
}

// Sink implements eventsourcing.EventSink. Events, the per-type sequence
// stats and the synchronous processors all commit in one transaction,
// guarded by the configured lock strategy.
func (s *EventStore) Sink(ctx context.Context, events []eventsourcing.Event, aggregateID uuid.UUID, aggregateType string) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.lock.Acquire(ctx, tx); err != nil {
		return err
	}

	sequenced := make([]eventsourcing.SequencedEvent, len(events))
	for i, event := range events {
		body, meta, err := s.serializer.Serialize(event.Domain, event.Metadata)
		if err != nil {
			return err
		}

		var sequence int64
		err = tx.QueryRow(ctx, `
			INSERT INTO events (id, aggregate_id, aggregate_sequence, aggregate_type, event_type, created_at, body, metadata)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING sequence`,
			event.ID,
			event.AggregateID,
			event.AggregateSequence,
			event.AggregateType,
			event.Domain.EventType(),
			event.CreatedAt,
			body,
			meta,
		).Scan(&sequence)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation {
				return fmt.Errorf("%w: aggregate %s sequence %d",
					eventsourcing.ErrConcurrencyConflict, event.AggregateID, event.AggregateSequence)
			}
			return fmt.Errorf("insert event: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO event_type_stats (event_type, sequence) VALUES ($1, $2)
			ON CONFLICT (event_type) DO UPDATE SET sequence = GREATEST(event_type_stats.sequence, excluded.sequence)`,
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

	return tx.Commit(ctx)
}

// GetAfter implements eventsourcing.EventSource.
func (s *EventStore) GetAfter(ctx context.Context, sequence int64, eventTypes []string, batchSize int) ([]eventsourcing.SequencedEvent, error) {
	query := `
		SELECT sequence, id, aggregate_id, aggregate_sequence, aggregate_type, event_type, created_at, body, metadata
		FROM events
		WHERE sequence > $1`
	args := []any{sequence}

	if len(eventTypes) > 0 {
		query += ` AND event_type = ANY($2) ORDER BY sequence ASC LIMIT $3`
		args = append(args, eventTypes, batchSize)
	} else {
		query += ` ORDER BY sequence ASC LIMIT $2`
		args = append(args, batchSize)
	}

	rows, err := s.pool.Query(ctx, query, args...)
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
	rows, err := s.pool.Query(ctx, `
		SELECT sequence, id, aggregate_id, aggregate_sequence, aggregate_type, event_type, created_at, body, metadata
		FROM events
		WHERE aggregate_id = $1
		ORDER BY aggregate_sequence ASC`,
		aggregateID,
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
		query += ` WHERE event_type = ANY($1)`
		args = append(args, eventTypes)
	}

	var last int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&last); err != nil {
		return 0, fmt.Errorf("query last sequence: %w", err)
	}
	return last, nil
}

func (s *EventStore) scanEvent(rows pgx.Rows) (eventsourcing.SequencedEvent, error) {
	var (
		out            eventsourcing.SequencedEvent
		eventType      string
		createdAt      time.Time
		body, metadata []byte
	)
	if err := rows.Scan(
		&out.Sequence, &out.ID, &out.AggregateID, &out.AggregateSequence,
		&out.AggregateType, &eventType, &createdAt, &body, &metadata,
	); err != nil {
		return out, fmt.Errorf("scan event row: %w", err)
	}
	out.CreatedAt = createdAt.UTC()

	var err error
	out.Domain, out.Metadata, err = s.serializer.Deserialize(eventType, body, metadata)
	if err != nil {
		return out, err
	}
	return out, nil
}

// Stats returns the per-event-type high-water marks maintained by Sink.
func (s *EventStore) Stats() eventsourcing.SequenceStats {
	return sequenceStats{pool: s.pool}
}

type sequenceStats struct {
	pool *pgxpool.Pool
}

func (st sequenceStats) LastSequence(ctx context.Context, eventTypes []string) (int64, error) {
	query := `SELECT COALESCE(MAX(sequence), 0) FROM event_type_stats`
	var args []any

	if len(eventTypes) > 0 {
		query += ` WHERE event_type = ANY($1)`
		args = append(args, eventTypes)
	}

	var last int64
	if err := st.pool.QueryRow(ctx, query, args...).Scan(&last); err != nil {
		return 0, fmt.Errorf("query sequence stats: %w", err)
	}
	return last, nil
}
