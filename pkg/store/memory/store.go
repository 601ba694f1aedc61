// Package memory provides an in-process EventStore and BookmarkStore backed
// by plain maps. It enforces the same invariants as the durable stores and
// is intended for tests and prototyping.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/quantive/eventfold/pkg/eventsourcing"
)

// Store is an in-memory event log. All operations are safe for concurrent
// use; sinks are serialized by a single mutex, so at most one writer commits
// at a time.
type Store struct {
	mu             sync.Mutex
	log            []eventsourcing.SequencedEvent
	byAggregate    map[uuid.UUID][]eventsourcing.Event
	lastSequence   map[uuid.UUID]int64
	highWater      map[string]int64
	nextSequence   int64
	syncProcessors []eventsourcing.EventProcessor
}

// Option configures a Store.
type Option func(*Store)

// WithSynchronousProcessors runs the given processors inside every sink:
// their failure aborts the whole append.
func WithSynchronousProcessors(processors ...eventsourcing.EventProcessor) Option {
	return func(s *Store) { s.syncProcessors = append(s.syncProcessors, processors...) }
}

// NewStore returns an empty in-memory store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		byAggregate:  make(map[uuid.UUID][]eventsourcing.Event),
		lastSequence: make(map[uuid.UUID]int64),
		highWater:    make(map[string]int64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sink implements eventsourcing.EventSink. The batch is staged, run through
// the synchronous processors and only then committed, so a failing processor
// leaves no trace of the batch.
func (s *Store) Sink(ctx context.Context, events []eventsourcing.Event, aggregateID uuid.UUID, aggregateType string) error {
	if len(events) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	last := s.lastSequence[aggregateID]
	staged := make([]eventsourcing.SequencedEvent, len(events))
	for i, event := range events {
		if event.AggregateID != aggregateID {
			return fmt.Errorf("sink: event %d targets aggregate %s, batch targets %s",
				i, event.AggregateID, aggregateID)
		}
		if event.AggregateSequence <= last {
			return fmt.Errorf("%w: aggregate %s sequence %d",
				eventsourcing.ErrConcurrencyConflict, aggregateID, event.AggregateSequence)
		}
		if event.AggregateSequence != last+1 {
			return fmt.Errorf("sink: aggregate %s sequence gap, got %d after %d",
				aggregateID, event.AggregateSequence, last)
		}
		last = event.AggregateSequence
		staged[i] = eventsourcing.SequencedEvent{
			Event:    event,
			Sequence: s.nextSequence + int64(i) + 1,
		}
	}

	for _, sequenced := range staged {
		for _, processor := range s.syncProcessors {
			// An empty interest set subscribes to every event type, matching GetAfter.
			if types := processor.EventTypes(); len(types) > 0 && !slices.Contains(types, sequenced.Domain.EventType()) {
				continue
			}
			if err := processor.Process(ctx, sequenced); err != nil {
				return fmt.Errorf("synchronous processor: %w", err)
			}
		}
	}

	for _, sequenced := range staged {
		s.log = append(s.log, sequenced)
		s.byAggregate[aggregateID] = append(s.byAggregate[aggregateID], sequenced.Event)
		if tag := sequenced.Domain.EventType(); sequenced.Sequence > s.highWater[tag] {
			s.highWater[tag] = sequenced.Sequence
		}
	}
	s.nextSequence += int64(len(staged))
	s.lastSequence[aggregateID] = last

	return nil
}

// GetAfter implements eventsourcing.EventSource.
func (s *Store) GetAfter(ctx context.Context, sequence int64, eventTypes []string, batchSize int) ([]eventsourcing.SequencedEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []eventsourcing.SequencedEvent
	for _, sequenced := range s.log {
		if sequenced.Sequence <= sequence {
			continue
		}
		if len(eventTypes) > 0 && !slices.Contains(eventTypes, sequenced.Domain.EventType()) {
			continue
		}
		out = append(out, sequenced)
		if len(out) == batchSize {
			break
		}
	}
	return out, nil
}

// EventsFor implements eventsourcing.EventSource.
func (s *Store) EventsFor(ctx context.Context, aggregateID uuid.UUID) ([]eventsourcing.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.byAggregate[aggregateID]), nil
}

// LastSequence implements eventsourcing.EventSource.
func (s *Store) LastSequence(ctx context.Context, eventTypes []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var last int64
	for _, sequenced := range s.log {
		if len(eventTypes) > 0 && !slices.Contains(eventTypes, sequenced.Domain.EventType()) {
			continue
		}
		if sequenced.Sequence > last {
			last = sequenced.Sequence
		}
	}
	return last, nil
}

// Stats returns the store's per-event-type high-water marks.
func (s *Store) Stats() eventsourcing.SequenceStats {
	return sequenceStats{store: s}
}

type sequenceStats struct {
	store *Store
}

func (st sequenceStats) LastSequence(ctx context.Context, eventTypes []string) (int64, error) {
	st.store.mu.Lock()
	defer st.store.mu.Unlock()

	var last int64
	for tag, sequence := range st.store.highWater {
		if len(eventTypes) > 0 && !slices.Contains(eventTypes, tag) {
			continue
		}
		if sequence > last {
			last = sequence
		}
	}
	return last, nil
}

// BookmarkStore is an in-memory eventsourcing.BookmarkStore.
type BookmarkStore struct {
	mu        sync.Mutex
	bookmarks map[string]int64
}

// NewBookmarkStore returns an empty bookmark store.
func NewBookmarkStore() *BookmarkStore {
	return &BookmarkStore{bookmarks: make(map[string]int64)}
}

// Bookmark implements eventsourcing.BookmarkStore. Unknown names yield
// sequence 0.
func (b *BookmarkStore) Bookmark(ctx context.Context, name string) (eventsourcing.Bookmark, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return eventsourcing.Bookmark{Name: name, Sequence: b.bookmarks[name]}, nil
}

// Save implements eventsourcing.BookmarkStore.
func (b *BookmarkStore) Save(ctx context.Context, bookmark eventsourcing.Bookmark) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.bookmarks[bookmark.Name] = bookmark.Sequence
	return nil
}
