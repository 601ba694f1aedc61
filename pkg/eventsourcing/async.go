package eventsourcing

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultBatchSize is the number of events read per poll when none is
// configured.
const DefaultBatchSize = 1000

// DefaultPollInterval is how long the processor service sleeps after
// draining the log.
const DefaultPollInterval = 200 * time.Millisecond

// BatchResult tells the polling loop whether to poll again immediately.
type BatchResult int

const (
	// Continue means the batch was full, so more events may be waiting.
	Continue BatchResult = iota

	// Wait means the log was drained and the loop should sleep before the
	// next poll.
	Wait
)

// ProcessorStats observes processed events, for metrics.
type ProcessorStats interface {
	Processed(ctx context.Context, bookmarkName string, event SequencedEvent, elapsed time.Duration)
}

type nopProcessorStats struct{}

func (nopProcessorStats) Processed(context.Context, string, SequencedEvent, time.Duration) {}

// BatchedAsyncEventProcessor drives one EventProcessor from the log. Each
// batch reads events past the processor's bookmark, feeds them to the
// processor one at a time, and advances the bookmark after every event.
// Processing is therefore at least once: a crash between processing and the
// bookmark save redelivers the last event.
type BatchedAsyncEventProcessor struct {
	source       EventSource
	bookmarks    BookmarkStore
	bookmarkName string
	processor    EventProcessor
	batchSize    int
	stats        ProcessorStats
	logger       *slog.Logger
}

// AsyncOption configures a BatchedAsyncEventProcessor.
type AsyncOption func(*BatchedAsyncEventProcessor)

// WithBatchSize overrides the per-poll read size.
func WithBatchSize(n int) AsyncOption {
	return func(p *BatchedAsyncEventProcessor) { p.batchSize = n }
}

// WithProcessorStats wires per-event observation.
func WithProcessorStats(stats ProcessorStats) AsyncOption {
	return func(p *BatchedAsyncEventProcessor) { p.stats = stats }
}

// WithProcessorLogger sets the logger used for batch diagnostics.
func WithProcessorLogger(logger *slog.Logger) AsyncOption {
	return func(p *BatchedAsyncEventProcessor) { p.logger = logger }
}

// NewBatchedAsyncEventProcessor binds processor to source under the given
// bookmark name. The bookmark name identifies the consumer: two processors
// sharing a name share progress.
func NewBatchedAsyncEventProcessor(
	source EventSource,
	bookmarks BookmarkStore,
	bookmarkName string,
	processor EventProcessor,
	opts ...AsyncOption,
) *BatchedAsyncEventProcessor {
	p := &BatchedAsyncEventProcessor{
		source:       source,
		bookmarks:    bookmarks,
		bookmarkName: bookmarkName,
		processor:    processor,
		batchSize:    DefaultBatchSize,
		stats:        nopProcessorStats{},
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// BookmarkName returns the consumer name this processor reads under.
func (p *BatchedAsyncEventProcessor) BookmarkName() string { return p.bookmarkName }

// EventTypes returns the event-type tags the wrapped processor consumes.
func (p *BatchedAsyncEventProcessor) EventTypes() []string { return p.processor.EventTypes() }

// Bookmark returns the processor's current position in the log.
func (p *BatchedAsyncEventProcessor) Bookmark(ctx context.Context) (Bookmark, error) {
	return p.bookmarks.Bookmark(ctx, p.bookmarkName)
}

// ProcessOneBatch reads and processes at most one batch of events. It
// returns Continue when the batch was full, Wait when the log was drained.
// The first processing or bookmark error stops the batch; the failed event
// is redelivered on the next call.
func (p *BatchedAsyncEventProcessor) ProcessOneBatch(ctx context.Context) (BatchResult, error) {
	bookmark, err := p.bookmarks.Bookmark(ctx, p.bookmarkName)
	if err != nil {
		return Wait, fmt.Errorf("load bookmark %s: %w", p.bookmarkName, err)
	}

	events, err := p.source.GetAfter(ctx, bookmark.Sequence, p.processor.EventTypes(), p.batchSize)
	if err != nil {
		return Wait, fmt.Errorf("read after sequence %d: %w", bookmark.Sequence, err)
	}

	for _, event := range events {
		start := time.Now()
		if err := p.processor.Process(ctx, event); err != nil {
			return Wait, fmt.Errorf("process event %s at sequence %d: %w",
				event.Domain.EventType(), event.Sequence, err)
		}
		p.stats.Processed(ctx, p.bookmarkName, event, time.Since(start))

		bookmark.Sequence = event.Sequence
		if err := p.bookmarks.Save(ctx, bookmark); err != nil {
			return Wait, fmt.Errorf("save bookmark %s at sequence %d: %w",
				p.bookmarkName, event.Sequence, err)
		}
	}

	if len(events) < p.batchSize {
		return Wait, nil
	}
	return Continue, nil
}

// AsyncProcessorService runs a BatchedAsyncEventProcessor on a polling
// goroutine. It satisfies the runner service contract.
type AsyncProcessorService struct {
	processor    *BatchedAsyncEventProcessor
	pollInterval time.Duration
	logger       *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// ServiceOption configures an AsyncProcessorService.
type ServiceOption func(*AsyncProcessorService)

// WithPollInterval overrides the sleep between polls of a drained log.
func WithPollInterval(d time.Duration) ServiceOption {
	return func(s *AsyncProcessorService) { s.pollInterval = d }
}

// WithServiceLogger sets the logger used by the polling loop.
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *AsyncProcessorService) { s.logger = logger }
}

// NewAsyncProcessorService wraps processor in a lifecycle-managed polling
// loop.
func NewAsyncProcessorService(processor *BatchedAsyncEventProcessor, opts ...ServiceOption) *AsyncProcessorService {
	s := &AsyncProcessorService{
		processor:    processor,
		pollInterval: DefaultPollInterval,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements the runner service contract.
func (s *AsyncProcessorService) Name() string {
	return "async-processor/" + s.processor.BookmarkName()
}

// Start launches the polling goroutine. The loop outlives the Start context;
// it stops when Stop is called.
func (s *AsyncProcessorService) Start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(loopCtx)
	return nil
}

// Stop halts the polling loop and waits for the in-flight batch to finish.
func (s *AsyncProcessorService) Stop(ctx context.Context) error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *AsyncProcessorService) run(ctx context.Context) {
	defer close(s.done)

	for {
		result, err := s.processor.ProcessOneBatch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.ErrorContext(ctx, "event processor batch failed",
				"bookmark", s.processor.BookmarkName(),
				"error", err,
			)
		}

		if result == Continue {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.pollInterval):
		}
	}
}
