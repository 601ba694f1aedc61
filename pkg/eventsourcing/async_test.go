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

func fillCounterLog(t *testing.T, store *memory.Store, n int) {
	t.Helper()

	ctx := context.Background()
	for i := 0; i < n; i++ {
		id := uuid.New()
		event := es.Event{
			ID:                uuid.New(),
			AggregateID:       id,
			AggregateSequence: 1,
			AggregateType:     "counter",
			CreatedAt:         time.Now().UTC(),
			Metadata:          es.EmptyMetadata{},
			Domain:            counterCreated{CounterID: id},
		}
		require.NoError(t, store.Sink(ctx, []es.Event{event}, id, "counter"))
	}
}

func TestProcessOneBatchSignalsContinueOnFullBatch(t *testing.T) {
	store := memory.NewStore()
	fillCounterLog(t, store, 5)

	var processed int
	listener := &es.EventListener{}
	es.On(listener, func(ctx context.Context, event es.SequencedEvent, domain counterCreated) error {
		processed++
		return nil
	})

	processor := es.NewBatchedAsyncEventProcessor(
		store, memory.NewBookmarkStore(), "counter-reader", listener,
		es.WithBatchSize(5),
	)

	ctx := context.Background()

	// A full batch does not prove the log is drained.
	result, err := processor.ProcessOneBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, es.Continue, result)
	assert.Equal(t, 5, processed)

	result, err = processor.ProcessOneBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, es.Wait, result)
	assert.Equal(t, 5, processed)
}

func TestTwoProcessorsKeepIndependentBookmarks(t *testing.T) {
	store := memory.NewStore()
	fillCounterLog(t, store, 3)

	newReader := func(name string, bookmarks es.BookmarkStore) *es.BatchedAsyncEventProcessor {
		listener := &es.EventListener{}
		es.On(listener, func(ctx context.Context, event es.SequencedEvent, domain counterCreated) error {
			return nil
		})
		return es.NewBatchedAsyncEventProcessor(store, bookmarks, name, listener)
	}

	bookmarks := memory.NewBookmarkStore()
	ahead := newReader("ahead", bookmarks)
	behind := newReader("behind", bookmarks)

	ctx := context.Background()
	_, err := ahead.ProcessOneBatch(ctx)
	require.NoError(t, err)

	aheadMark, err := ahead.Bookmark(ctx)
	require.NoError(t, err)
	behindMark, err := behind.Bookmark(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(3), aheadMark.Sequence)
	assert.Equal(t, int64(0), behindMark.Sequence)
}

func TestAsyncProcessorServiceLifecycle(t *testing.T) {
	store := memory.NewStore()

	processed := make(chan string, 8)
	listener := &es.EventListener{}
	es.On(listener, func(ctx context.Context, event es.SequencedEvent, domain counterCreated) error {
		processed <- domain.CounterID.String()
		return nil
	})

	processor := es.NewBatchedAsyncEventProcessor(
		store, memory.NewBookmarkStore(), "service-reader", listener,
	)
	service := es.NewAsyncProcessorService(processor,
		es.WithPollInterval(5*time.Millisecond),
	)

	ctx := context.Background()
	require.NoError(t, service.Start(ctx))

	fillCounterLog(t, store, 1)

	select {
	case <-processed:
	case <-time.After(2 * time.Second):
		t.Fatal("event was not processed by the polling loop")
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, service.Stop(stopCtx))
	assert.Equal(t, "async-processor/service-reader", service.Name())
}
