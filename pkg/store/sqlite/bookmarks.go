package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/quantive/eventfold/pkg/eventsourcing"
)

// BookmarkStore persists consumer bookmarks in the same SQLite database as
// the event log.
type BookmarkStore struct {
	db *sql.DB
}

// NewBookmarkStore builds a bookmark store over the event store's database.
func NewBookmarkStore(store *EventStore) *BookmarkStore {
	return &BookmarkStore{db: store.db}
}

// Bookmark implements eventsourcing.BookmarkStore. Unknown names yield
// sequence 0.
func (b *BookmarkStore) Bookmark(ctx context.Context, name string) (eventsourcing.Bookmark, error) {
	bookmark := eventsourcing.Bookmark{Name: name}

	err := b.db.QueryRowContext(ctx,
		`SELECT sequence FROM bookmarks WHERE name = ?`, name,
	).Scan(&bookmark.Sequence)
	if errors.Is(err, sql.ErrNoRows) {
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
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO bookmarks (name, sequence, created_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET sequence = excluded.sequence, updated_at = excluded.updated_at`,
		bookmark.Name, bookmark.Sequence, now, now,
	)
	if err != nil {
		return fmt.Errorf("save bookmark %s: %w", bookmark.Name, err)
	}
	return nil
}
