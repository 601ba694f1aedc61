package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/quantive/eventfold/pkg/eventsourcing"
)

// LockStrategy is the hook a sink transaction runs before inserting. It can
// serialize writers beyond what the unique index provides.
type LockStrategy interface {
	Acquire(ctx context.Context, tx pgx.Tx) error
}

// NoLock relies on the unique index alone. Concurrent writers race and the
// loser gets a concurrency conflict.
type NoLock struct{}

// Acquire implements LockStrategy.
func (NoLock) Acquire(ctx context.Context, tx pgx.Tx) error { return nil }

// AdvisoryLock serializes sinks on a transaction-scoped advisory lock, so
// writers queue instead of conflicting. A writer that waits longer than
// Timeout fails with eventsourcing.ErrLockTimeout.
type AdvisoryLock struct {
	// Key is the advisory lock key shared by all writers of one log.
	Key int64

	// Timeout bounds how long a writer blocks on the lock.
	Timeout time.Duration
}

// Acquire implements LockStrategy. The lock releases automatically when the
// transaction commits or rolls back.
func (l AdvisoryLock) Acquire(ctx context.Context, tx pgx.Tx) error {
	timeout := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", l.Timeout.Milliseconds())
	if _, err := tx.Exec(ctx, timeout); err != nil {
		return fmt.Errorf("set lock timeout: %w", err)
	}

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, l.Key); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgErrLockNotAvailable {
			return fmt.Errorf("%w: advisory lock %d after %s",
				eventsourcing.ErrLockTimeout, l.Key, l.Timeout)
		}
		return fmt.Errorf("acquire advisory lock %d: %w", l.Key, err)
	}
	return nil
}
