// Command eventfold-demo runs the survey example end to end: a SQLite event
// log, the owner-invite reactor as an asynchronous processor and the lag
// monitor, with OpenTelemetry metrics printed to stdout.
//
// Usage:
//
//	eventfold-demo
//	eventfold-demo -dsn /var/lib/app/events.db -metrics-interval 10s
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/quantive/eventfold/examples/survey"
	"github.com/quantive/eventfold/pkg/eventsourcing"
	"github.com/quantive/eventfold/pkg/observability"
	"github.com/quantive/eventfold/pkg/runner"
	"github.com/quantive/eventfold/pkg/serialization"
	"github.com/quantive/eventfold/pkg/store/sqlite"
)

type singleOwnerDirectory struct {
	accountID uuid.UUID
	email     string
}

func (d singleOwnerDirectory) EmailFor(accountID uuid.UUID) (string, bool) {
	if accountID != d.accountID {
		return "", false
	}
	return d.email, true
}

func main() {
	var (
		dsn      = flag.String("dsn", "", "sqlite data source name; empty runs in memory")
		interval = flag.Duration("metrics-interval", 5*time.Second, "metric export and lag sampling interval")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if err := run(context.Background(), logger, *dsn, *interval); err != nil {
		logger.Error("demo failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, dsn string, interval time.Duration) error {
	exporter, err := stdoutmetric.New(stdoutmetric.WithPrettyPrint())
	if err != nil {
		return fmt.Errorf("create metric exporter: %w", err)
	}

	telemetry, err := observability.Init(ctx, observability.Config{
		ServiceName:    "eventfold-demo",
		ServiceVersion: "dev",
		Environment:    "local",
		MetricReader:   sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval)),
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer telemetry.Shutdown(context.Background())
	if telemetry.Metrics == nil {
		return errors.New("metric instruments unavailable")
	}

	names := survey.NewNamesProjection()
	storeOpts := []sqlite.EventStoreOption{
		sqlite.WithSynchronousProcessors(names),
		sqlite.WithLogger(logger),
	}
	if dsn == "" {
		storeOpts = append(storeOpts, sqlite.WithMemoryDatabase())
	} else {
		storeOpts = append(storeOpts, sqlite.WithDSN(dsn))
	}

	store, err := sqlite.NewEventStore(serialization.NewSerializer(survey.NewRegistry()), storeOpts...)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	defer store.Close()

	gateway := eventsourcing.NewCommandGateway(store,
		eventsourcing.WithGatewayLogger(logger),
		eventsourcing.WithTracer(telemetry.Tracer("eventfold")),
	)
	eventsourcing.Register(gateway, survey.NewSurveyDefinition(names))
	eventsourcing.Register(gateway, survey.NewParticipantDefinition())

	ownerID := uuid.New()
	directory := singleOwnerDirectory{accountID: ownerID, email: "owner@example.com"}

	processor := eventsourcing.NewBatchedAsyncEventProcessor(
		store,
		sqlite.NewBookmarkStore(store),
		"owner-invites",
		survey.NewOwnerInviteReactor(gateway, directory),
		eventsourcing.WithProcessorStats(observability.NewProcessorStatsRecorder(telemetry.Metrics)),
		eventsourcing.WithProcessorLogger(logger),
	)

	monitor := eventsourcing.NewAsyncEventProcessorMonitor(
		store.Stats(),
		observability.NewLagRecorder(telemetry.Metrics),
		[]*eventsourcing.BatchedAsyncEventProcessor{processor},
		eventsourcing.WithMonitorInterval(interval),
		eventsourcing.WithMonitorLogger(logger),
	)

	if err := gateway.Dispatch(ctx, survey.CreateSurvey{
		SurveyID:  uuid.New(),
		AccountID: ownerID,
		Name:      "customer satisfaction",
	}, eventsourcing.NewStandardEventMetadata(ownerID, ownerID)); err != nil {
		return fmt.Errorf("seed survey: %w", err)
	}

	services := []runner.Service{
		eventsourcing.NewAsyncProcessorService(processor, eventsourcing.WithServiceLogger(logger)),
		monitor,
	}
	return runner.New(services, runner.WithLogger(logger)).Run(ctx)
}
