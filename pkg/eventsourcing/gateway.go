package eventsourcing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// DefaultRetries is how many times a dispatch is retried after a concurrency
// conflict before the conflict is returned to the caller.
const DefaultRetries = 3

// CommandGateway routes commands to registered aggregates and sinks the
// resulting events. A dispatch that loses an optimistic-concurrency race
// re-reads the aggregate and retries from scratch, a bounded number of times.
type CommandGateway struct {
	store          EventStore
	configurations []aggregateConfiguration
	retries        int
	clock          func() time.Time
	logger         *slog.Logger
	tracer         trace.Tracer
}

// GatewayOption configures a CommandGateway.
type GatewayOption func(*CommandGateway)

// WithRetries overrides the concurrency-conflict retry bound.
func WithRetries(n int) GatewayOption {
	return func(g *CommandGateway) { g.retries = n }
}

// WithClock overrides the timestamp source. Intended for tests.
func WithClock(clock func() time.Time) GatewayOption {
	return func(g *CommandGateway) { g.clock = clock }
}

// WithGatewayLogger sets the logger used for dispatch diagnostics.
func WithGatewayLogger(logger *slog.Logger) GatewayOption {
	return func(g *CommandGateway) { g.logger = logger }
}

// WithTracer enables a span per dispatch.
func WithTracer(tracer trace.Tracer) GatewayOption {
	return func(g *CommandGateway) { g.tracer = tracer }
}

// NewCommandGateway builds a gateway over store. Aggregates are added with
// Register before the first dispatch.
func NewCommandGateway(store EventStore, opts ...GatewayOption) *CommandGateway {
	g := &CommandGateway{
		store:   store,
		retries: DefaultRetries,
		clock:   time.Now,
		logger:  slog.Default(),
		tracer:  noop.NewTracerProvider().Tracer("eventfold"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Register adds an aggregate definition to the gateway. Registration is not
// safe for use concurrently with Dispatch.
func Register[S any](g *CommandGateway, definition AggregateDefinition[S]) {
	g.configurations = append(g.configurations, definition)
}

// Dispatch validates cmd, runs it against its aggregate and appends the
// resulting events. Dispatch returns once the events are durably sunk, or
// with the decision function's error, ErrNoConstructorForCommand,
// ErrInvalidCommand, ErrAggregateNotFound, or a store error.
func (g *CommandGateway) Dispatch(ctx context.Context, cmd Command, metadata EventMetadata) error {
	if cmd == nil {
		return fmt.Errorf("%w: nil command", ErrInvalidCommand)
	}

	ctx, span := g.tracer.Start(ctx, fmt.Sprintf("dispatch %T", cmd))
	defer span.End()

	if ok, err := govalidator.ValidateStruct(cmd); !ok {
		return fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}

	var err error
	for attempt := 0; ; attempt++ {
		err = g.dispatchOnce(ctx, cmd, metadata)
		if !errors.Is(err, ErrConcurrencyConflict) || attempt >= g.retries {
			return err
		}
		g.logger.DebugContext(ctx, "retrying command after concurrency conflict",
			"command", fmt.Sprintf("%T", cmd),
			"aggregate_id", cmd.AggregateID(),
			"attempt", attempt+1,
		)
	}
}

func (g *CommandGateway) dispatchOnce(ctx context.Context, cmd Command, metadata EventMetadata) error {
	switch c := cmd.(type) {
	case CreationCommand:
		return g.dispatchCreation(ctx, c, metadata)
	case UpdateCommand:
		return g.dispatchUpdate(ctx, c, metadata)
	default:
		return fmt.Errorf("%w: %T is neither a creation nor an update command", ErrInvalidCommand, cmd)
	}
}

func (g *CommandGateway) dispatchCreation(ctx context.Context, cmd CreationCommand, metadata EventMetadata) error {
	cfg := g.configurationForCreation(cmd)
	if cfg == nil {
		return fmt.Errorf("%w: %T", ErrNoConstructorForCommand, cmd)
	}

	domain, err := cfg.create(ctx, cmd, metadata)
	if err != nil {
		return err
	}

	event := Event{
		ID:                uuid.New(),
		AggregateID:       cmd.AggregateID(),
		AggregateSequence: 1,
		AggregateType:     cfg.aggregateType(),
		CreatedAt:         g.clock().UTC(),
		Metadata:          metadata,
		Domain:            domain,
	}

	return g.store.Sink(ctx, []Event{event}, cmd.AggregateID(), cfg.aggregateType())
}

func (g *CommandGateway) dispatchUpdate(ctx context.Context, cmd UpdateCommand, metadata EventMetadata) error {
	cfg := g.configurationForUpdate(cmd)
	if cfg == nil {
		return fmt.Errorf("%w: %T", ErrNoConstructorForCommand, cmd)
	}

	history, err := g.store.EventsFor(ctx, cmd.AggregateID())
	if err != nil {
		return err
	}
	if len(history) == 0 {
		return fmt.Errorf("%w: %s", ErrAggregateNotFound, cmd.AggregateID())
	}

	updates, err := cfg.update(ctx, history, cmd, metadata)
	if err != nil {
		return err
	}
	if len(updates) == 0 {
		return nil
	}

	createdAt := g.clock().UTC()
	nextSequence := history[len(history)-1].AggregateSequence + 1

	events := make([]Event, len(updates))
	for i, domain := range updates {
		events[i] = Event{
			ID:                uuid.New(),
			AggregateID:       cmd.AggregateID(),
			AggregateSequence: nextSequence + int64(i),
			AggregateType:     cfg.aggregateType(),
			CreatedAt:         createdAt,
			Metadata:          metadata,
			Domain:            domain,
		}
	}

	return g.store.Sink(ctx, events, cmd.AggregateID(), cfg.aggregateType())
}

func (g *CommandGateway) configurationForCreation(cmd CreationCommand) aggregateConfiguration {
	for _, cfg := range g.configurations {
		if cfg.handlesCreation(cmd) {
			return cfg
		}
	}
	return nil
}

func (g *CommandGateway) configurationForUpdate(cmd UpdateCommand) aggregateConfiguration {
	for _, cfg := range g.configurations {
		if cfg.handlesUpdate(cmd) {
			return cfg
		}
	}
	return nil
}
