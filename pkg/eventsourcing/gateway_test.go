package eventsourcing_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	es "github.com/quantive/eventfold/pkg/eventsourcing"
	"github.com/quantive/eventfold/pkg/store/memory"
)

func newGateway(t *testing.T, opts ...es.GatewayOption) (*es.CommandGateway, *memory.Store) {
	t.Helper()

	store := memory.NewStore()
	gateway := es.NewCommandGateway(store, opts...)
	es.Register(gateway, counterDefinition())
	return gateway, store
}

func TestDispatchCreationThenUpdate(t *testing.T) {
	gateway, store := newGateway(t)
	ctx := context.Background()
	id := uuid.New()

	require.NoError(t, gateway.Dispatch(ctx, createCounter{CounterID: id, Start: 5}, es.EmptyMetadata{}))
	require.NoError(t, gateway.Dispatch(ctx, incrementCounter{CounterID: id, By: 3}, es.EmptyMetadata{}))

	history, err := store.EventsFor(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 2)

	state, err := counterDefinition().Rehydrate(history)
	require.NoError(t, err)
	assert.Equal(t, 8, state.Value)
}

func TestDispatchUpdateBatchSharesTimestamp(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	gateway, store := newGateway(t, es.WithClock(func() time.Time { return now }))
	ctx := context.Background()
	id := uuid.New()

	require.NoError(t, gateway.Dispatch(ctx, createCounter{CounterID: id}, es.EmptyMetadata{}))
	require.NoError(t, gateway.Dispatch(ctx, incrementCounter{CounterID: id, By: 1, Times: 3}, es.EmptyMetadata{}))

	history, err := store.EventsFor(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 4)

	for i, event := range history {
		assert.Equal(t, int64(i+1), event.AggregateSequence)
		assert.Equal(t, now, event.CreatedAt)
	}
}

func TestDispatchDecisionErrorPassesThrough(t *testing.T) {
	gateway, _ := newGateway(t)
	ctx := context.Background()
	id := uuid.New()

	require.NoError(t, gateway.Dispatch(ctx, createCounter{CounterID: id}, es.EmptyMetadata{}))

	err := gateway.Dispatch(ctx, incrementCounter{CounterID: id, By: -1}, es.EmptyMetadata{})
	assert.ErrorIs(t, err, errNegativeIncrement)
}

func TestDispatchNoEventsIsANoOp(t *testing.T) {
	def := counterDefinition()
	def.Update = func(ctx context.Context, state counter, cmd es.UpdateCommand, metadata es.EventMetadata) ([]es.UpdateEvent, error) {
		return nil, nil
	}

	store := memory.NewStore()
	gateway := es.NewCommandGateway(store)
	es.Register(gateway, def)

	ctx := context.Background()
	id := uuid.New()
	require.NoError(t, gateway.Dispatch(ctx, createCounter{CounterID: id}, es.EmptyMetadata{}))
	require.NoError(t, gateway.Dispatch(ctx, incrementCounter{CounterID: id}, es.EmptyMetadata{}))

	history, err := store.EventsFor(ctx, id)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

// conflictingStore fails the first n sinks with a concurrency conflict.
type conflictingStore struct {
	*memory.Store

	conflicts int
	sinks     int
}

func (s *conflictingStore) Sink(ctx context.Context, events []es.Event, aggregateID uuid.UUID, aggregateType string) error {
	s.sinks++
	if s.conflicts > 0 {
		s.conflicts--
		return es.ErrConcurrencyConflict
	}
	return s.Store.Sink(ctx, events, aggregateID, aggregateType)
}

func TestDispatchRetriesConcurrencyConflicts(t *testing.T) {
	store := &conflictingStore{Store: memory.NewStore(), conflicts: 2}
	gateway := es.NewCommandGateway(store)
	es.Register(gateway, counterDefinition())

	err := gateway.Dispatch(context.Background(), createCounter{CounterID: uuid.New()}, es.EmptyMetadata{})
	require.NoError(t, err)
	assert.Equal(t, 3, store.sinks)
}

func TestDispatchGivesUpAfterRetryBudget(t *testing.T) {
	store := &conflictingStore{Store: memory.NewStore(), conflicts: 10}
	gateway := es.NewCommandGateway(store, es.WithRetries(2))
	es.Register(gateway, counterDefinition())

	err := gateway.Dispatch(context.Background(), createCounter{CounterID: uuid.New()}, es.EmptyMetadata{})
	assert.ErrorIs(t, err, es.ErrConcurrencyConflict)
	assert.Equal(t, 3, store.sinks, "initial attempt plus two retries")
}

// lockTimeoutStore always fails with a lock timeout.
type lockTimeoutStore struct {
	*memory.Store

	sinks int
}

func (s *lockTimeoutStore) Sink(ctx context.Context, events []es.Event, aggregateID uuid.UUID, aggregateType string) error {
	s.sinks++
	return es.ErrLockTimeout
}

func TestDispatchDoesNotRetryLockTimeouts(t *testing.T) {
	store := &lockTimeoutStore{Store: memory.NewStore()}
	gateway := es.NewCommandGateway(store)
	es.Register(gateway, counterDefinition())

	err := gateway.Dispatch(context.Background(), createCounter{CounterID: uuid.New()}, es.EmptyMetadata{})
	assert.ErrorIs(t, err, es.ErrLockTimeout)
	assert.Equal(t, 1, store.sinks)
}
