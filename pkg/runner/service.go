// Package runner manages the lifecycle of long-running services: ordered
// startup, signal handling and graceful reverse-order shutdown.
package runner

import "context"

// Service is anything the runner can start and stop. The async processor
// service and the processor monitor both implement it.
type Service interface {
	// Name identifies the service in logs and errors.
	Name() string

	// Start brings the service up. It must respect context cancellation and
	// return once the service is running.
	Start(ctx context.Context) error

	// Stop shuts the service down, completing within the context deadline.
	Stop(ctx context.Context) error
}

// HealthChecker is an optional interface services can implement to take part
// in runner health checks.
type HealthChecker interface {
	Service

	HealthCheck(ctx context.Context) error
}
