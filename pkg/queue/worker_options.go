package queue

import (
	"log/slog"
	"time"
)

// WorkerOption is a functional option for configuring a worker
type WorkerOption func(*workerOptions)

type workerOptions struct {
	pollInterval       time.Duration
	handlerTimeout     time.Duration
	maxConcurrentTasks int
	logger             *slog.Logger
}

// WithPollInterval sets how often the worker checks for new jobs
func WithPollInterval(d time.Duration) WorkerOption {
	return func(o *workerOptions) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithHandlerTimeout bounds a single handler call
func WithHandlerTimeout(d time.Duration) WorkerOption {
	return func(o *workerOptions) {
		if d > 0 {
			o.handlerTimeout = d
		}
	}
}

// WithMaxConcurrentTasks sets how many jobs run at once
func WithMaxConcurrentTasks(n int) WorkerOption {
	return func(o *workerOptions) {
		if n > 0 {
			o.maxConcurrentTasks = n
		}
	}
}

// WithWorkerLogger sets the logger for the worker
func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(o *workerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WorkerOptionsFromConfig maps the polling settings of cfg to worker options
func WorkerOptionsFromConfig(cfg Config) []WorkerOption {
	return []WorkerOption{
		WithPollInterval(cfg.PollInterval),
		WithHandlerTimeout(cfg.HandlerTimeout),
		WithMaxConcurrentTasks(cfg.MaxConcurrentTasks),
	}
}
