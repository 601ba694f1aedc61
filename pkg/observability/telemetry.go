// Package observability provides OpenTelemetry-based tracing and metrics
// with backend-agnostic configuration, plus adapters feeding runtime
// measurements into the metric instruments.
package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config configures the observability stack.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	// TraceExporter is the pluggable span exporter (OTLP, stdout, ...).
	// Nil disables tracing.
	TraceExporter   sdktrace.SpanExporter
	TraceSampleRate float64

	// MetricReader is the pluggable metric reader (Prometheus, OTLP, ...).
	// Nil disables metrics.
	MetricReader sdkmetric.Reader

	Logger *slog.Logger
}

// Telemetry manages the observability stack.
type Telemetry struct {
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
	Metrics        *Metrics
	Logger         *slog.Logger

	shutdown func(context.Context) error
}

// Init initializes OpenTelemetry with graceful degradation: a failing or
// missing exporter leaves a no-op provider instead of an error.
func Init(ctx context.Context, cfg Config) (*Telemetry, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("service.version", cfg.ServiceVersion),
			attribute.String("deployment.environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tel := &Telemetry{
		TracerProvider: noop.NewTracerProvider(),
		MeterProvider:  sdkmetric.NewMeterProvider(),
		Logger:         cfg.Logger,
	}

	var shutdownFuncs []func(context.Context) error

	if cfg.TraceExporter != nil {
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithResource(res),
			sdktrace.WithBatcher(cfg.TraceExporter),
			sdktrace.WithSampler(sampler(cfg.TraceSampleRate)),
		)
		tel.TracerProvider = tp
		shutdownFuncs = append(shutdownFuncs, tp.Shutdown)
		otel.SetTracerProvider(tp)
		cfg.Logger.Info("tracing initialized", "service", cfg.ServiceName)
	} else {
		cfg.Logger.Info("tracing disabled (no exporter configured)")
	}

	if cfg.MetricReader != nil {
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(cfg.MetricReader),
		)
		metrics, err := NewMetrics(mp.Meter("eventfold"))
		if err != nil {
			cfg.Logger.Warn("metrics setup failed, continuing without metrics", "error", err)
		} else {
			tel.MeterProvider = mp
			tel.Metrics = metrics
			shutdownFuncs = append(shutdownFuncs, mp.Shutdown)
			otel.SetMeterProvider(mp)
			cfg.Logger.Info("metrics initialized", "service", cfg.ServiceName)
		}
	} else {
		cfg.Logger.Info("metrics disabled (no reader configured)")
	}

	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)

	tel.shutdown = func(ctx context.Context) error {
		var errs []error
		for _, shutdown := range shutdownFuncs {
			errs = append(errs, shutdown(ctx))
		}
		return errors.Join(errs...)
	}

	return tel, nil
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate <= 0:
		return sdktrace.NeverSample()
	case rate >= 1.0:
		return sdktrace.AlwaysSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

// Shutdown flushes and stops the telemetry stack.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t.shutdown != nil {
		t.Logger.Info("shutting down observability")
		return t.shutdown(ctx)
	}
	return nil
}

// Tracer returns a tracer for the given name.
func (t *Telemetry) Tracer(name string) trace.Tracer {
	return t.TracerProvider.Tracer(name)
}

// Meter returns a meter for the given name.
func (t *Telemetry) Meter(name string) metric.Meter {
	return t.MeterProvider.Meter(name)
}
