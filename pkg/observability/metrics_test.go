package observability_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/quantive/eventfold/pkg/eventsourcing"
	"github.com/quantive/eventfold/pkg/observability"
)

type pingRecorded struct{}

func (pingRecorded) EventType() string { return "test.ping.recorded" }

func newTestMetrics(t *testing.T) (*observability.Metrics, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	metrics, err := observability.NewMetrics(provider.Meter("test"))
	require.NoError(t, err)
	return metrics, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return rm
}

func findMetric(t *testing.T, rm metricdata.ResourceMetrics, name string) metricdata.Metrics {
	t.Helper()

	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name == name {
				return m
			}
		}
	}
	t.Fatalf("metric %s not collected", name)
	return metricdata.Metrics{}
}

func sumInt64(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()

	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "%s is not an int64 sum", m.Name)

	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestRecordCommandCountsDispatchesAndErrors(t *testing.T) {
	metrics, reader := newTestMetrics(t)
	ctx := context.Background()

	metrics.RecordCommand(ctx, "survey.create", 25*time.Millisecond, nil)
	metrics.RecordCommand(ctx, "survey.create", 40*time.Millisecond, errors.New("boom"))

	rm := collect(t, reader)
	assert.Equal(t, int64(2), sumInt64(t, findMetric(t, rm, "eventfold.command.total")))
	assert.Equal(t, int64(1), sumInt64(t, findMetric(t, rm, "eventfold.command.errors")))

	duration, ok := findMetric(t, rm, "eventfold.command.duration").Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, duration.DataPoints, 1)
	assert.Equal(t, uint64(2), duration.DataPoints[0].Count)
}

func TestRecordSinkCountsAppendedEvents(t *testing.T) {
	metrics, reader := newTestMetrics(t)
	ctx := context.Background()

	metrics.RecordSink(ctx, "survey", 5*time.Millisecond, 3)
	metrics.RecordSink(ctx, "survey", 2*time.Millisecond, 1)

	rm := collect(t, reader)
	assert.Equal(t, int64(4), sumInt64(t, findMetric(t, rm, "eventfold.events.sunk")))
}

func TestProcessorAdaptersFeedInstruments(t *testing.T) {
	metrics, reader := newTestMetrics(t)
	ctx := context.Background()

	event := eventsourcing.SequencedEvent{
		Event:    eventsourcing.Event{ID: uuid.New(), Domain: pingRecorded{}},
		Sequence: 9,
	}
	observability.NewProcessorStatsRecorder(metrics).Processed(ctx, "pings", event, 3*time.Millisecond)
	observability.NewLagRecorder(metrics).RecordLag(ctx, "pings", 7)

	rm := collect(t, reader)

	duration, ok := findMetric(t, rm, "eventfold.processor.duration").Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, duration.DataPoints, 1)
	assert.Equal(t, uint64(1), duration.DataPoints[0].Count)

	lag, ok := findMetric(t, rm, "eventfold.processor.lag").Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, lag.DataPoints, 1)
	assert.Equal(t, int64(7), lag.DataPoints[0].Value)
}

func TestInitBuildsInstrumentsFromReader(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	telemetry, err := observability.Init(context.Background(), observability.Config{
		ServiceName:  "test",
		MetricReader: sdkmetric.NewManualReader(),
		Logger:       logger,
	})
	require.NoError(t, err)

	assert.NotNil(t, telemetry.Metrics)
	assert.NotNil(t, telemetry.Tracer("test"))
	assert.NoError(t, telemetry.Shutdown(context.Background()))
}
