package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Runner starts services in registration order and stops them in reverse
// order on shutdown.
type Runner struct {
	services        []Service
	logger          *slog.Logger
	shutdownTimeout time.Duration
	startupTimeout  time.Duration
	handleSignals   bool
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the runner's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// WithShutdownTimeout bounds graceful shutdown. Default 30 seconds.
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(r *Runner) { r.shutdownTimeout = timeout }
}

// WithStartupTimeout bounds each service's Start. Default 1 minute.
func WithStartupTimeout(timeout time.Duration) Option {
	return func(r *Runner) { r.startupTimeout = timeout }
}

// WithoutSignalHandling disables the OS signal listener. Intended for tests,
// where shutdown is driven by cancelling the Run context.
func WithoutSignalHandling() Option {
	return func(r *Runner) { r.handleSignals = false }
}

// New creates a Runner over the given services.
func New(services []Service, opts ...Option) *Runner {
	r := &Runner{
		services:        services,
		logger:          slog.Default(),
		shutdownTimeout: 30 * time.Second,
		startupTimeout:  time.Minute,
		handleSignals:   true,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run starts all services and blocks until the context is cancelled or a
// shutdown signal arrives, then stops the started services in reverse order.
func (r *Runner) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if r.handleSignals {
		go func() {
			WaitForShutdownSignal()
			r.logger.Info("shutdown signal received")
			cancel()
		}()
	}

	r.logger.Info("starting services", "count", len(r.services))
	var started []Service

	for _, service := range r.services {
		r.logger.Info("starting service", "service", service.Name())

		startCtx, startCancel := context.WithTimeout(ctx, r.startupTimeout)
		err := service.Start(startCtx)
		startCancel()

		if err != nil {
			r.logger.Error("failed to start service",
				"service", service.Name(),
				"error", err)
			r.stopServices(started)
			return fmt.Errorf("start service %s: %w", service.Name(), err)
		}

		started = append(started, service)
	}

	r.logger.Info("all services started")

	<-ctx.Done()

	r.logger.Info("shutting down services", "timeout", r.shutdownTimeout)
	return r.stopServices(started)
}

// stopServices stops services one by one in reverse start order, sharing a
// single shutdown deadline. Reverse order matters: consumers stop before the
// stores they read from.
func (r *Runner) stopServices(services []Service) error {
	if len(services) == 0 {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), r.shutdownTimeout)
	defer cancel()

	var errs []error
	for i := len(services) - 1; i >= 0; i-- {
		service := services[i]

		r.logger.Info("stopping service", "service", service.Name())
		if err := service.Stop(shutdownCtx); err != nil {
			r.logger.Error("error stopping service",
				"service", service.Name(),
				"error", err)
			errs = append(errs, fmt.Errorf("stop %s: %w", service.Name(), err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	r.logger.Info("all services stopped")
	return nil
}

// HealthCheck probes every service that implements HealthChecker.
func (r *Runner) HealthCheck(ctx context.Context) error {
	for _, service := range r.services {
		if hc, ok := service.(HealthChecker); ok {
			if err := hc.HealthCheck(ctx); err != nil {
				return fmt.Errorf("service %s unhealthy: %w", service.Name(), err)
			}
		}
	}
	return nil
}
