package eventsourcing

import "errors"

var (
	// ErrConcurrencyConflict is returned when a sink loses the race for an
	// (aggregate id, aggregate sequence) slot. Retriable: the gateway
	// rehydrates and retries a bounded number of times.
	ErrConcurrencyConflict = errors.New("concurrency conflict: aggregate sequence already written")

	// ErrLockTimeout is returned when the store's blocking-lock hook could
	// not acquire its lock within the configured bound. Never retried.
	ErrLockTimeout = errors.New("lock timeout: could not acquire sink lock")

	// ErrAggregateNotFound is returned when an update command targets an
	// aggregate with no events.
	ErrAggregateNotFound = errors.New("aggregate not found")

	// ErrNoConstructorForCommand is returned when no registered aggregate
	// configuration accepts the dispatched command type.
	ErrNoConstructorForCommand = errors.New("no aggregate registered for command")

	// ErrInvalidCommand is returned for nil or structurally invalid commands.
	ErrInvalidCommand = errors.New("invalid command")
)

// AlreadyActionedError marks domain errors that signal an idempotent no-op:
// the command had already taken effect and re-dispatching it is harmless.
type AlreadyActionedError interface {
	error
	AlreadyActioned() bool
}

// IsAlreadyActioned reports whether err (or anything it wraps) marks an
// idempotent no-op command.
func IsAlreadyActioned(err error) bool {
	var already AlreadyActionedError
	return errors.As(err, &already) && already.AlreadyActioned()
}
