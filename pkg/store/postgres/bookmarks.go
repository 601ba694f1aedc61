package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantive/eventfold/pkg/eventsourcing"
)

// BookmarkStore persists consumer bookmarks in the same database as the
// event log.
type BookmarkStore struct {
	pool *pgxpool.Pool
}

// NewBookmarkStore builds a bookmark store over the event store's pool.
func NewBookmarkStore(store *EventStore) *BookmarkStore {
	return &BookmarkStore{pool: store.pool}
}

// Bookmark implements eventsourcing.BookmarkStore. Unknown names yield
// sequence 0.
func (b *BookmarkStore) Bookmark(ctx context.Context, name string) (eventsourcing.Bookmark, error) {
	bookmark := eventsourcing.Bookmark{Name: name}

	err := b.pool.QueryRow(ctx,
		`SELECT sequence FROM bookmarks WHERE name = $1`, name,
	).Scan(&bookmark.Sequence)
	if errors.Is(err, pgx.ErrNoRows) {
		return bookmark, nil
	}
	if err != nil {
		return bookmark, fmt.Errorf("load bookmark %s: %w", name, err)
	}
	return bookmark, nil
}

// Save implements eventsourcing.BookmarkStore. The created_at column is set
// on first insert and never touched again.
func (b *BookmarkStore) Save(ctx context.Context, bookmark eventsourcing.Bookmark) error {
	now := time.Now().UTC()
	_, err := b.pool.Exec(ctx, `
		INSERT INTO bookmarks (name, sequence, created_at, updated_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE SET sequence = excluded.sequence, updated_at = excluded.updated_at`,
		bookmark.Name, bookmark.Sequence, now, now,
	)
	if err != nil {
		return fmt.Errorf("save bookmark %s: %w", bookmark.Name, err)
	}
	return nil
}
