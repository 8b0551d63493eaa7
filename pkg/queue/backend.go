package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

// Backend is the operation contract every queue store implements.
// Implementations must be safe for concurrent use by multiple workers.
type Backend interface {
	// Enqueue persists a new job as pending, or delayed when WithDelay is positive
	Enqueue(ctx context.Context, taskName string, payload map[string]any, opts ...EnqueueOption) (string, error)

	// Dequeue claims one eligible job and marks it processing.
	// Returns ErrNoJobToClaim when nothing is eligible.
	Dequeue(ctx context.Context) (*Job, error)

	// CompleteJob marks a processing job completed and stores a non-nil result under payload["result"].
	// Completing an already completed job is a no-op.
	CompleteJob(ctx context.Context, jobID string, result any) error

	// FailJob records a failed attempt and either reschedules the job with backoff or fails it for good
	FailJob(ctx context.Context, jobID string, errMsg string) error

	// GetJob returns the job or ErrJobNotFound
	GetJob(ctx context.Context, jobID string) (*Job, error)

	// GetStats returns per-status counts and the total number of stored jobs
	GetStats(ctx context.Context) (*Stats, error)

	// ListJobs returns a page of jobs ordered by creation time. An empty status lists all jobs.
	ListJobs(ctx context.Context, limit, offset int, status Status) ([]*Job, error)

	// RetryJob revives a failed job. It returns false without changes for any other status.
	RetryJob(ctx context.Context, jobID string) (bool, error)

	// ClearFailed removes every failed job and returns how many were removed
	ClearFailed(ctx context.Context) (int64, error)
}

// Pruner deletes completed jobs, bounding storage growth
type Pruner interface {
	// PruneCompleted removes completed jobs whose completion time is not after before
	PruneCompleted(ctx context.Context, before time.Time) (int64, error)
}

// Pinger is implemented by backends that can ping their store for readiness checks
type Pinger interface {
	Ping(ctx context.Context) error
}

// BackendOption configures a backend implementation
type BackendOption func(*backendOptions)

type backendOptions struct {
	clock           func() time.Time
	logger          *slog.Logger
	atomicPromotion bool
}

func defaultBackendOptions(opts []BackendOption) backendOptions {
	o := backendOptions{
		clock:           time.Now,
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		atomicPromotion: true,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// now returns the current time in UTC, truncated to the millisecond precision every store keeps
func (o backendOptions) now() time.Time {
	return o.clock().UTC().Truncate(time.Millisecond)
}

// WithClock replaces time.Now, mostly for tests
func WithClock(clock func() time.Time) BackendOption {
	return func(o *backendOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithBackendLogger sets the logger used for backend diagnostics
func WithBackendLogger(logger *slog.Logger) BackendOption {
	return func(o *backendOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithAtomicPromotion selects how the Redis backend moves due delayed jobs to the pending list.
// Enabled (the default) promotes and claims inside one server-side script.
// Disabled uses two separate round trips, and two workers may then receive the same due job.
// Other backends ignore this option.
func WithAtomicPromotion(enabled bool) BackendOption {
	return func(o *backendOptions) {
		o.atomicPromotion = enabled
	}
}

func validatePage(limit, offset int) error {
	if limit <= 0 || offset < 0 {
		return ErrInvalidPagination
	}
	return nil
}

// page returns the [offset, offset+limit) window of items
func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := min(offset+limit, len(items))
	return items[offset:end]
}

// compareJobs orders jobs by creation time, then id, which is the listing order of every backend
func compareJobs(a, b *Job) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

// storageErr joins err with ErrStorage so callers can tell infrastructure failures apart
func storageErr(op string, err error) error {
	return errors.Join(ErrStorage, fmt.Errorf("%s: %w", op, err))
}
