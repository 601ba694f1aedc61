package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantive/eventfold/pkg/eventsourcing"
	"github.com/quantive/eventfold/pkg/serialization"
	"github.com/quantive/eventfold/pkg/store/sqlite"
)

type orderPlaced struct {
	eventsourcing.CreationEventMarker

	OrderID uuid.UUID `json:"order_id"`
	Total   int64     `json:"total"`
}

func (orderPlaced) EventType() string { return "order.placed" }

type orderShipped struct {
	eventsourcing.UpdateEventMarker

	Carrier string `json:"carrier"`
}

func (orderShipped) EventType() string { return "order.shipped" }

func newStore(t *testing.T) *sqlite.EventStore {
	t.Helper()

	r := serialization.NewRegistry()
	serialization.RegisterEvent[orderPlaced](r)
	serialization.RegisterEvent[orderShipped](r)
	serialization.UseDefaultMetadata[eventsourcing.EmptyMetadata](r)

	store, err := sqlite.NewEventStore(serialization.NewSerializer(r),
		sqlite.WithMemoryDatabase(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func orderEvent(orderID uuid.UUID, sequence int64, domain eventsourcing.DomainEvent) eventsourcing.Event {
	return eventsourcing.Event{
		ID:                uuid.New(),
		AggregateID:       orderID,
		AggregateSequence: sequence,
		AggregateType:     "order",
		CreatedAt:         time.Date(2026, 8, 24, 9, 30, 0, 123456000, time.UTC),
		Metadata:          eventsourcing.EmptyMetadata{},
		Domain:            domain,
	}
}

func TestSinkAndReadBack(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	orderID := uuid.New()

	placed := orderEvent(orderID, 1, orderPlaced{OrderID: orderID, Total: 4200})
	shipped := orderEvent(orderID, 2, orderShipped{Carrier: "dhl"})
	require.NoError(t, store.Sink(ctx, []eventsourcing.Event{placed, shipped}, orderID, "order"))

	history, err := store.EventsFor(ctx, orderID)
	require.NoError(t, err)
	require.Len(t, history, 2)

	assert.Equal(t, placed.ID, history[0].ID)
	assert.Equal(t, orderID, history[0].AggregateID)
	assert.Equal(t, "order", history[0].AggregateType)
	assert.Equal(t, placed.CreatedAt, history[0].CreatedAt)
	assert.Equal(t, orderPlaced{OrderID: orderID, Total: 4200}, history[0].Domain)
	assert.Equal(t, orderShipped{Carrier: "dhl"}, history[1].Domain)
}

func TestSinkDuplicateAggregateSequenceConflicts(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	orderID := uuid.New()

	require.NoError(t, store.Sink(ctx,
		[]eventsourcing.Event{orderEvent(orderID, 1, orderPlaced{OrderID: orderID})}, orderID, "order"))

	err := store.Sink(ctx,
		[]eventsourcing.Event{orderEvent(orderID, 1, orderPlaced{OrderID: orderID})}, orderID, "order")
	assert.ErrorIs(t, err, eventsourcing.ErrConcurrencyConflict)
}

func TestGetAfterFiltersAndPaginates(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		orderID := uuid.New()
		require.NoError(t, store.Sink(ctx, []eventsourcing.Event{
			orderEvent(orderID, 1, orderPlaced{OrderID: orderID}),
			orderEvent(orderID, 2, orderShipped{Carrier: "ups"}),
		}, orderID, "order"))
	}

	shipped, err := store.GetAfter(ctx, 0, []string{"order.shipped"}, 2)
	require.NoError(t, err)
	require.Len(t, shipped, 2)
	assert.Equal(t, int64(2), shipped[0].Sequence)
	assert.Equal(t, int64(4), shipped[1].Sequence)

	rest, err := store.GetAfter(ctx, shipped[1].Sequence, []string{"order.shipped"}, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, int64(6), rest[0].Sequence)
}

func TestStatsTrackHighWaterMarksPerType(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	orderID := uuid.New()

	require.NoError(t, store.Sink(ctx, []eventsourcing.Event{
		orderEvent(orderID, 1, orderPlaced{OrderID: orderID}),
		orderEvent(orderID, 2, orderShipped{Carrier: "ups"}),
	}, orderID, "order"))

	placed, err := store.Stats().LastSequence(ctx, []string{"order.placed"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), placed)

	all, err := store.Stats().LastSequence(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), all)

	scanned, err := store.LastSequence(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, all, scanned, "cached stats agree with a table scan")
}

type catchAllProcessor struct {
	seen []string
}

func (p *catchAllProcessor) Process(ctx context.Context, event eventsourcing.SequencedEvent) error {
	p.seen = append(p.seen, event.Domain.EventType())
	return nil
}

func (p *catchAllProcessor) EventTypes() []string { return nil }

func TestSynchronousProcessorWithNoInterestsSeesEverything(t *testing.T) {
	r := serialization.NewRegistry()
	serialization.RegisterEvent[orderPlaced](r)
	serialization.RegisterEvent[orderShipped](r)
	serialization.UseDefaultMetadata[eventsourcing.EmptyMetadata](r)

	all := &catchAllProcessor{}
	store, err := sqlite.NewEventStore(serialization.NewSerializer(r),
		sqlite.WithMemoryDatabase(),
		sqlite.WithSynchronousProcessors(all),
	)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	orderID := uuid.New()
	require.NoError(t, store.Sink(ctx, []eventsourcing.Event{
		orderEvent(orderID, 1, orderPlaced{OrderID: orderID}),
		orderEvent(orderID, 2, orderShipped{Carrier: "ups"}),
	}, orderID, "order"))

	assert.Equal(t, []string{"order.placed", "order.shipped"}, all.seen)
}

func TestBookmarkRoundTrip(t *testing.T) {
	store := newStore(t)
	bookmarks := sqlite.NewBookmarkStore(store)
	ctx := context.Background()

	bookmark, err := bookmarks.Bookmark(ctx, "reader")
	require.NoError(t, err)
	assert.Zero(t, bookmark.Sequence)

	require.NoError(t, bookmarks.Save(ctx, eventsourcing.Bookmark{Name: "reader", Sequence: 12}))
	require.NoError(t, bookmarks.Save(ctx, eventsourcing.Bookmark{Name: "reader", Sequence: 15}))

	bookmark, err = bookmarks.Bookmark(ctx, "reader")
	require.NoError(t, err)
	assert.Equal(t, int64(15), bookmark.Sequence)
}
