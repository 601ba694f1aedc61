package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/quantive/eventfold/pkg/eventsourcing"
)

// Metrics holds the metric instruments for the runtime.
type Metrics struct {
	// Command metrics
	CommandDuration metric.Float64Histogram
	CommandTotal    metric.Int64Counter
	CommandErrors   metric.Int64Counter

	// Sink metrics
	EventsSunk   metric.Int64Counter
	SinkDuration metric.Float64Histogram

	// Processor metrics
	ProcessorDuration metric.Float64Histogram
	ProcessorErrors   metric.Int64Counter
	ProcessorLag      metric.Int64Gauge
}

// NewMetrics creates all metric instruments.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.CommandDuration, err = meter.Float64Histogram(
		"eventfold.command.duration",
		metric.WithDescription("Command dispatch duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating command.duration: %w", err)
	}

	m.CommandTotal, err = meter.Int64Counter(
		"eventfold.command.total",
		metric.WithDescription("Total commands dispatched"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating command.total: %w", err)
	}

	m.CommandErrors, err = meter.Int64Counter(
		"eventfold.command.errors",
		metric.WithDescription("Total failed command dispatches"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating command.errors: %w", err)
	}

	m.EventsSunk, err = meter.Int64Counter(
		"eventfold.events.sunk",
		metric.WithDescription("Total events appended to the log"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating events.sunk: %w", err)
	}

	m.SinkDuration, err = meter.Float64Histogram(
		"eventfold.sink.duration",
		metric.WithDescription("Sink transaction duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating sink.duration: %w", err)
	}

	m.ProcessorDuration, err = meter.Float64Histogram(
		"eventfold.processor.duration",
		metric.WithDescription("Per-event processing duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating processor.duration: %w", err)
	}

	m.ProcessorErrors, err = meter.Int64Counter(
		"eventfold.processor.errors",
		metric.WithDescription("Total event processing errors"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating processor.errors: %w", err)
	}

	m.ProcessorLag, err = meter.Int64Gauge(
		"eventfold.processor.lag",
		metric.WithDescription("Events between a processor's bookmark and the newest event it consumes"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating processor.lag: %w", err)
	}

	return m, nil
}

// RecordCommand records one command dispatch.
func (m *Metrics) RecordCommand(ctx context.Context, commandType string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("command_type", commandType),
	}

	m.CommandDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.CommandTotal.Add(ctx, 1, metric.WithAttributes(attrs...))

	if err != nil {
		errorAttrs := append(attrs, attribute.String("error_type", fmt.Sprintf("%T", err)))
		m.CommandErrors.Add(ctx, 1, metric.WithAttributes(errorAttrs...))
	}
}

// RecordSink records one sink transaction.
func (m *Metrics) RecordSink(ctx context.Context, aggregateType string, duration time.Duration, eventCount int) {
	attrs := []attribute.KeyValue{
		attribute.String("aggregate_type", aggregateType),
	}

	m.SinkDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.EventsSunk.Add(ctx, int64(eventCount), metric.WithAttributes(attrs...))
}

// ProcessorStatsRecorder adapts Metrics to eventsourcing.ProcessorStats.
type ProcessorStatsRecorder struct {
	metrics *Metrics
}

// NewProcessorStatsRecorder wires processor metrics into the async runtime.
func NewProcessorStatsRecorder(metrics *Metrics) *ProcessorStatsRecorder {
	return &ProcessorStatsRecorder{metrics: metrics}
}

// Processed implements eventsourcing.ProcessorStats.
func (r *ProcessorStatsRecorder) Processed(ctx context.Context, bookmarkName string, event eventsourcing.SequencedEvent, elapsed time.Duration) {
	r.metrics.ProcessorDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("bookmark", bookmarkName),
		attribute.String("event_type", event.Domain.EventType()),
	))
}

// LagRecorder adapts Metrics to eventsourcing.LagRecorder.
type LagRecorder struct {
	metrics *Metrics
}

// NewLagRecorder wires lag samples into the processor monitor.
func NewLagRecorder(metrics *Metrics) *LagRecorder {
	return &LagRecorder{metrics: metrics}
}

// RecordLag implements eventsourcing.LagRecorder.
func (r *LagRecorder) RecordLag(ctx context.Context, bookmarkName string, lag int64) {
	r.metrics.ProcessorLag.Record(ctx, lag, metric.WithAttributes(
		attribute.String("bookmark", bookmarkName),
	))
}
