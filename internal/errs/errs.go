// Package errs defines the small closed set of sentinel errors returned
// across package boundaries in this module.
package errs

import (
	"errors"
	"fmt"
)

var (
	// InvalidArgument is returned when a caller passes a nil, empty, or
	// otherwise structurally invalid argument.
	InvalidArgument = errors.New("invalid argument")

	// ShuttingDown is returned by any operation attempted after the owning
	// manager has begun or completed shutdown.
	ShuttingDown = errors.New("shutting down")

	// InUse is returned when an unregister/release is attempted on a
	// resource whose reference count indicates an active borrower.
	InUse = errors.New("resource in use")

	// QueueFull is returned when a bounded queue rejects a new item under
	// a drop-new or block-with-deadline backpressure policy.
	QueueFull = errors.New("queue full")

	// Timeout is returned when a bounded wait (task result, worker
	// response, barrier rendezvous) exceeds its deadline.
	Timeout = errors.New("timeout")

	// WorkerError wraps a failure reported by a worker process itself,
	// as opposed to a supervision-layer failure.
	WorkerError = errors.New("worker error")

	// Degraded indicates the subsystem is operating in a reduced-capacity
	// mode (e.g. a worker type has exhausted its restart budget) but has
	// not failed outright.
	Degraded = errors.New("degraded")

	// ResourceCleanupFailure wraps one or more per-resource cleanup
	// failures collected during ResourceManager.CleanupAll; it never
	// aborts the cleanup walk itself.
	ResourceCleanupFailure = errors.New("resource cleanup failure")
)

// Wrap attaches msg as context to sentinel while preserving errors.Is.
func Wrap(sentinel error, msg string) error {
	return fmt.Errorf("%s: %w", msg, sentinel)
}
