package queue

import "errors"

// Common errors
var (
	// ErrBackendNil is returned when a nil backend is provided
	ErrBackendNil = errors.New("queue backend cannot be nil")

	// ErrTaskNameEmpty is returned when a job is enqueued without a task name
	ErrTaskNameEmpty = errors.New("task name cannot be empty")

	// ErrInvalidMaxRetries is returned when max retries is negative
	ErrInvalidMaxRetries = errors.New("max retries must be zero or greater")

	// ErrInvalidDelay is returned when the enqueue delay is negative
	ErrInvalidDelay = errors.New("delay must be zero or greater")

	// ErrInvalidPagination is returned for a non-positive limit or a negative offset
	ErrInvalidPagination = errors.New("limit must be positive and offset non-negative")

	// ErrPayloadNil is returned when Enqueuer gets a nil payload
	ErrPayloadNil = errors.New("payload cannot be nil")

	// ErrPayloadMarshal is returned when a payload cannot be converted to a JSON object
	ErrPayloadMarshal = errors.New("failed to marshal payload to JSON object")

	// ErrJobNotFound is returned when an operation references an unknown job id
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidState is returned when the job's current status does not allow the operation
	ErrInvalidState = errors.New("job status does not allow this operation")

	// ErrNoJobToClaim is returned by Dequeue when no job is eligible
	ErrNoJobToClaim = errors.New("no job available to claim")

	// ErrStorage wraps every failure reported by the underlying store.
	// Callers may retry; the backends never do.
	ErrStorage = errors.New("queue storage operation failed")

	// ErrUnknownDriver is returned by Open for an unsupported driver name
	ErrUnknownDriver = errors.New("unknown queue driver")

	// ErrHandlerNotFound is returned when no handler is registered for a task
	ErrHandlerNotFound = errors.New("no handler registered for task")

	// ErrNoHandlers is returned when worker has no handlers registered
	ErrNoHandlers = errors.New("no task handlers registered")

	// ErrWorkerStarted is returned by Start when the worker is already running
	ErrWorkerStarted = errors.New("worker already started")

	// ErrWorkerNotStarted is returned by Stop when the worker is not running
	ErrWorkerNotStarted = errors.New("worker not started")
)
