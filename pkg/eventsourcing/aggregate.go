package eventsourcing

import (
	"context"
	"fmt"
	"reflect"

	"github.com/google/uuid"
)

// Command is the input to the gateway. Every command addresses exactly one
// aggregate.
type Command interface {
	AggregateID() uuid.UUID
}

// CreationCommand creates a new aggregate. Concrete types embed
// CreationCommandMarker.
type CreationCommand interface {
	Command
	isCreationCommand()
}

// UpdateCommand mutates an existing aggregate. Concrete types embed
// UpdateCommandMarker.
type UpdateCommand interface {
	Command
	isUpdateCommand()
}

// CreationCommandMarker marks a command type as a creation command when
// embedded.
type CreationCommandMarker struct{}

func (CreationCommandMarker) isCreationCommand() {}

// UpdateCommandMarker marks a command type as an update command when
// embedded.
type UpdateCommandMarker struct{}

func (UpdateCommandMarker) isUpdateCommand() {}

// AggregateDefinition binds an aggregate type tag to the four functions of
// the aggregate algebra, plus the command types the aggregate accepts. The
// gateway matches dispatched commands against the declared prototypes by
// runtime type.
//
// Create and Update return domain errors as ordinary error values; Created
// and Updated are pure folds and cannot fail.
type AggregateDefinition[S any] struct {
	// Type is the aggregate-type tag written to every event row.
	Type string

	// CreationCommands and UpdateCommands are prototype values declaring the
	// command sums this aggregate handles.
	CreationCommands []CreationCommand
	UpdateCommands   []UpdateCommand

	Create  func(ctx context.Context, cmd CreationCommand, metadata EventMetadata) (CreationEvent, error)
	Created func(event CreationEvent) S
	Update  func(ctx context.Context, state S, cmd UpdateCommand, metadata EventMetadata) ([]UpdateEvent, error)
	Updated func(state S, event UpdateEvent) S
}

// Rehydrate folds the aggregate's history back into its current state: the
// first event must be a creation event, every later one an update event.
func (d AggregateDefinition[S]) Rehydrate(history []Event) (S, error) {
	var zero S
	if len(history) == 0 {
		return zero, ErrAggregateNotFound
	}

	creation, ok := history[0].Domain.(CreationEvent)
	if !ok {
		return zero, fmt.Errorf("aggregate %s: first event %s is not a creation event",
			history[0].AggregateID, history[0].Domain.EventType())
	}

	state := d.Created(creation)
	for _, event := range history[1:] {
		update, ok := event.Domain.(UpdateEvent)
		if !ok {
			return zero, fmt.Errorf("aggregate %s: event %s at sequence %d is not an update event",
				event.AggregateID, event.Domain.EventType(), event.AggregateSequence)
		}
		state = d.Updated(state, update)
	}

	return state, nil
}

// aggregateConfiguration is the type-erased view the gateway holds of a
// registered AggregateDefinition.
type aggregateConfiguration interface {
	aggregateType() string
	handlesCreation(cmd CreationCommand) bool
	handlesUpdate(cmd UpdateCommand) bool
	create(ctx context.Context, cmd CreationCommand, metadata EventMetadata) (CreationEvent, error)
	update(ctx context.Context, history []Event, cmd UpdateCommand, metadata EventMetadata) ([]UpdateEvent, error)
}

func (d AggregateDefinition[S]) aggregateType() string { return d.Type }

func (d AggregateDefinition[S]) handlesCreation(cmd CreationCommand) bool {
	t := reflect.TypeOf(cmd)
	for _, proto := range d.CreationCommands {
		if reflect.TypeOf(proto) == t {
			return true
		}
	}
	return false
}

func (d AggregateDefinition[S]) handlesUpdate(cmd UpdateCommand) bool {
	t := reflect.TypeOf(cmd)
	for _, proto := range d.UpdateCommands {
		if reflect.TypeOf(proto) == t {
			return true
		}
	}
	return false
}

func (d AggregateDefinition[S]) create(ctx context.Context, cmd CreationCommand, metadata EventMetadata) (CreationEvent, error) {
	return d.Create(ctx, cmd, metadata)
}

func (d AggregateDefinition[S]) update(ctx context.Context, history []Event, cmd UpdateCommand, metadata EventMetadata) ([]UpdateEvent, error) {
	state, err := d.Rehydrate(history)
	if err != nil {
		return nil, err
	}
	return d.Update(ctx, state, cmd, metadata)
}

// ProjectedAggregateDefinition is an aggregate whose decision functions
// consult a read-only projection (for example "is this survey name taken").
// Aggregates never write through the projection.
type ProjectedAggregateDefinition[S, P any] struct {
	Type string

	CreationCommands []CreationCommand
	UpdateCommands   []UpdateCommand

	Create  func(ctx context.Context, projection P, cmd CreationCommand, metadata EventMetadata) (CreationEvent, error)
	Created func(event CreationEvent) S
	Update  func(ctx context.Context, projection P, state S, cmd UpdateCommand, metadata EventMetadata) ([]UpdateEvent, error)
	Updated func(state S, event UpdateEvent) S
}

// WithProjection captures the projection and re-exposes the plain aggregate
// interface.
func WithProjection[S, P any](projection P, d ProjectedAggregateDefinition[S, P]) AggregateDefinition[S] {
	return AggregateDefinition[S]{
		Type:             d.Type,
		CreationCommands: d.CreationCommands,
		UpdateCommands:   d.UpdateCommands,
		Create: func(ctx context.Context, cmd CreationCommand, metadata EventMetadata) (CreationEvent, error) {
			return d.Create(ctx, projection, cmd, metadata)
		},
		Created: d.Created,
		Update: func(ctx context.Context, state S, cmd UpdateCommand, metadata EventMetadata) ([]UpdateEvent, error) {
			return d.Update(ctx, projection, state, cmd, metadata)
		},
		Updated: d.Updated,
	}
}

// Stateless builds a definition whose state is a fixed singleton and whose
// updated fold is the identity. Decision functions see only the command and
// its metadata.
func Stateless[S any](
	aggregateType string,
	singleton S,
	creationCommands []CreationCommand,
	updateCommands []UpdateCommand,
	create func(ctx context.Context, cmd CreationCommand, metadata EventMetadata) (CreationEvent, error),
	update func(ctx context.Context, cmd UpdateCommand, metadata EventMetadata) ([]UpdateEvent, error),
) AggregateDefinition[S] {
	return AggregateDefinition[S]{
		Type:             aggregateType,
		CreationCommands: creationCommands,
		UpdateCommands:   updateCommands,
		Create:           create,
		Created:          func(CreationEvent) S { return singleton },
		Update: func(ctx context.Context, _ S, cmd UpdateCommand, metadata EventMetadata) ([]UpdateEvent, error) {
			return update(ctx, cmd, metadata)
		},
		Updated: func(state S, _ UpdateEvent) S { return state },
	}
}
