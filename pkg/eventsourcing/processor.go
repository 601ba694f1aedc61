package eventsourcing

import (
	"context"
	"fmt"
)

// EventProcessor consumes events. EventTypes declares which event-type tags
// the processor cares about; the runtime only feeds it matching events.
type EventProcessor interface {
	Process(ctx context.Context, event SequencedEvent) error
	EventTypes() []string
}

// Handler processes a single event.
type Handler func(ctx context.Context, event SequencedEvent) error

// EventListener dispatches events to typed handlers in registration order.
// The zero value is ready to use.
type EventListener struct {
	eventTypes []string
	handlers   map[string][]Handler
}

// On registers fn for the domain-event type E. Events of other types are
// never passed to fn.
func On[E DomainEvent](l *EventListener, fn func(ctx context.Context, event SequencedEvent, domain E) error) {
	var proto E
	eventType := proto.EventType()

	if l.handlers == nil {
		l.handlers = make(map[string][]Handler)
	}
	if _, seen := l.handlers[eventType]; !seen {
		l.eventTypes = append(l.eventTypes, eventType)
	}
	l.handlers[eventType] = append(l.handlers[eventType], func(ctx context.Context, event SequencedEvent) error {
		domain, ok := event.Domain.(E)
		if !ok {
			return fmt.Errorf("event %s: unexpected payload type %T", eventType, event.Domain)
		}
		return fn(ctx, event, domain)
	})
}

// Process implements EventProcessor. Handlers run in registration order; the
// first error stops the chain.
func (l *EventListener) Process(ctx context.Context, event SequencedEvent) error {
	for _, handler := range l.handlers[event.Domain.EventType()] {
		if err := handler(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// EventTypes implements EventProcessor.
func (l *EventListener) EventTypes() []string {
	return l.eventTypes
}

// EventTypesOf returns the type tags of the given event prototypes.
func EventTypesOf(events ...DomainEvent) []string {
	types := make([]string, len(events))
	for i, event := range events {
		types[i] = event.EventType()
	}
	return types
}
