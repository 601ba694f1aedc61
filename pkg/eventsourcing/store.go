package eventsourcing

import (
	"context"

	"github.com/google/uuid"
)

// EventSink appends events atomically to the log. Implementations must
// enforce the (aggregate id, aggregate sequence) uniqueness invariant and
// surface violations as ErrConcurrencyConflict.
type EventSink interface {
	Sink(ctx context.Context, events []Event, aggregateID uuid.UUID, aggregateType string) error
}

// EventSource reads events back out of the log.
type EventSource interface {
	// GetAfter returns at most batchSize events with a store-global sequence
	// strictly greater than sequence, in ascending sequence order. A
	// non-empty eventTypes restricts the scan to those tags.
	GetAfter(ctx context.Context, sequence int64, eventTypes []string, batchSize int) ([]SequencedEvent, error)

	// EventsFor returns every event of one aggregate in ascending
	// aggregate-sequence order.
	EventsFor(ctx context.Context, aggregateID uuid.UUID) ([]Event, error)

	// LastSequence returns the maximum store-global sequence, optionally
	// filtered by event type. Zero when the log (or the filtered view of it)
	// is empty.
	LastSequence(ctx context.Context, eventTypes []string) (int64, error)
}

// EventStore is the full event-log contract: the write side and the read
// side over the same backing table.
type EventStore interface {
	EventSink
	EventSource
}

// Bookmark records how far a named consumer has read into the log.
type Bookmark struct {
	Name     string
	Sequence int64
}

// BookmarkStore persists bookmarks. Reads and writes are independently
// transactional; bookmarks are advanced after each event is processed, which
// yields at-least-once downstream delivery.
type BookmarkStore interface {
	// Bookmark loads the bookmark for name. Unknown names yield sequence 0.
	Bookmark(ctx context.Context, name string) (Bookmark, error)

	// Save upserts the bookmark.
	Save(ctx context.Context, bookmark Bookmark) error
}

// SequenceStats exposes the cached per-event-type high-water marks
// maintained inside every sink transaction. The monitor reads these instead
// of scanning the events table.
type SequenceStats interface {
	LastSequence(ctx context.Context, eventTypes []string) (int64, error)
}
