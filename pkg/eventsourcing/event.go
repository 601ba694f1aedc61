// Package eventsourcing implements the core of an event-sourcing runtime:
// an append-only event log abstraction, aggregates rebuilt by replaying their
// events, a command gateway coordinating writes with strict per-aggregate
// ordering, and bookmark-driven asynchronous event processing for read models
// and sagas.
package eventsourcing

import (
	"time"

	"github.com/google/uuid"
)

// DomainEvent is the polymorphic payload of an Event. Concrete event types
// are discriminated by EventType; the tag is the sole key used for
// deserialization and event-type filtering.
type DomainEvent interface {
	EventType() string
}

// CreationEvent is the first event of an aggregate. Concrete types embed
// CreationEventMarker.
type CreationEvent interface {
	DomainEvent
	isCreationEvent()
}

// UpdateEvent is any event after the first. Concrete types embed
// UpdateEventMarker.
type UpdateEvent interface {
	DomainEvent
	isUpdateEvent()
}

// CreationEventMarker marks an event type as a creation event when embedded.
type CreationEventMarker struct{}

func (CreationEventMarker) isCreationEvent() {}

// UpdateEventMarker marks an event type as an update event when embedded.
type UpdateEventMarker struct{}

func (UpdateEventMarker) isUpdateEvent() {}

// Event is the atomic unit of the log. Once written an event is immutable;
// equality is structural.
type Event struct {
	// ID is the globally unique identifier of this event.
	ID uuid.UUID

	// AggregateID identifies the aggregate this event belongs to.
	AggregateID uuid.UUID

	// AggregateSequence is the aggregate-scoped ordinal, starting at 1 with
	// no gaps.
	AggregateSequence int64

	// AggregateType tags the kind of aggregate that produced the event.
	AggregateType string

	// CreatedAt is when the event was minted by the gateway. Events sunk in
	// one batch share a single timestamp.
	CreatedAt time.Time

	// Metadata is the caller-supplied metadata record.
	Metadata EventMetadata

	// Domain is the typed domain-event payload.
	Domain DomainEvent
}

// SequencedEvent pairs an Event with its store-global log position. The
// global sequence is strictly increasing and assigned on insert.
type SequencedEvent struct {
	Event

	Sequence int64
}
