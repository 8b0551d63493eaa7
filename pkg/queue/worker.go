package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/jobqueue/pkg/logger"
)

// WorkerBackend is the part of Backend a worker needs
type WorkerBackend interface {
	// Dequeue claims the next eligible job or returns ErrNoJobToClaim
	Dequeue(ctx context.Context) (*Job, error)

	// CompleteJob marks a claimed job completed
	CompleteJob(ctx context.Context, jobID string, result any) error

	// FailJob records a failed attempt
	FailJob(ctx context.Context, jobID string, errMsg string) error
}

// WorkerStats is a snapshot of a worker's counters
type WorkerStats struct {
	Completed     int64 `json:"completed"`
	Failed        int64 `json:"failed"`
	EmptyPolls    int64 `json:"empty_polls"`
	BackendErrors int64 `json:"backend_errors"`
}

// Worker polls a backend and runs the registered handler for each claimed job
type Worker struct {
	backend  WorkerBackend
	handlers map[string]Handler
	workerID string
	sem      chan struct{}
	wg       sync.WaitGroup
	mu       sync.RWMutex
	stopMu   sync.Mutex // Guards stopping together with wg.Add

	pollInterval   time.Duration
	handlerTimeout time.Duration
	logger         *slog.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	stopping atomic.Bool

	completed     atomic.Int64
	failed        atomic.Int64
	emptyPolls    atomic.Int64
	backendErrors atomic.Int64
}

// NewWorker creates a new worker
func NewWorker(backend WorkerBackend, opts ...WorkerOption) (*Worker, error) {
	if backend == nil {
		return nil, ErrBackendNil
	}

	options := &workerOptions{
		pollInterval:       time.Second,
		handlerTimeout:     5 * time.Minute,
		maxConcurrentTasks: 1,
		logger:             slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Worker{
		backend:        backend,
		handlers:       make(map[string]Handler),
		workerID:       uuid.NewString(),
		sem:            make(chan struct{}, options.maxConcurrentTasks),
		pollInterval:   options.pollInterval,
		handlerTimeout: options.handlerTimeout,
		logger:         options.logger,
	}, nil
}

// RegisterHandler registers a handler under its Name, replacing any previous one
func (w *Worker) RegisterHandler(handler Handler) error {
	if handler == nil {
		return nil
	}
	if handler.Name() == "" {
		return ErrTaskNameEmpty
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.handlers[handler.Name()] = handler
	return nil
}

// RegisterHandlers registers multiple handlers
func (w *Worker) RegisterHandlers(handlers ...Handler) error {
	for _, h := range handlers {
		if err := w.RegisterHandler(h); err != nil {
			return err
		}
	}
	return nil
}

// Start begins polling in the background
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		return ErrWorkerStarted
	}
	if len(w.handlers) == 0 {
		w.mu.Unlock()
		return ErrNoHandlers
	}

	w.ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	w.stopping.Store(false)

	go w.run()

	_, hostname, pid := w.WorkerInfo()
	w.logger.Info("worker started",
		logger.WorkerID(w.workerID),
		logger.Group("host", slog.String("name", hostname), slog.Int("pid", pid)),
		slog.Int("max_concurrent", cap(w.sem)),
		slog.Duration("poll_interval", w.pollInterval))

	return nil
}

// Stop stops polling and waits for running handlers to finish
func (w *Worker) Stop() error {
	w.mu.Lock()
	if w.cancel == nil {
		w.mu.Unlock()
		return ErrWorkerNotStarted
	}

	w.stopMu.Lock()
	w.stopping.Store(true)
	w.stopMu.Unlock()

	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()

	cancel()

	w.logger.Info("worker stopping, waiting for active jobs", logger.WorkerID(w.workerID))
	w.wg.Wait()
	w.logger.Info("worker stopped", logger.WorkerID(w.workerID))

	return nil
}

// Run starts the worker and returns a function suitable for errgroup
func (w *Worker) Run(ctx context.Context) func() error {
	return func() error {
		if err := w.Start(ctx); err != nil {
			return err
		}

		<-ctx.Done()

		return w.Stop()
	}
}

// Stats returns the worker's counters
func (w *Worker) Stats() WorkerStats {
	return WorkerStats{
		Completed:     w.completed.Load(),
		Failed:        w.failed.Load(),
		EmptyPolls:    w.emptyPolls.Load(),
		BackendErrors: w.backendErrors.Load(),
	}
}

// WorkerInfo returns the worker id, host name and process id
func (w *Worker) WorkerInfo() (id string, hostname string, pid int) {
	hostname, _ = os.Hostname()
	return w.workerID, hostname, os.Getpid()
}

// run is the polling loop.
// Every tick fills one free slot; a slot keeps claiming until the queue is drained.
func (w *Worker) run() {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			select {
			case w.sem <- struct{}{}:
				w.stopMu.Lock()
				if w.stopping.Load() {
					w.stopMu.Unlock()
					<-w.sem
					return
				}
				w.wg.Add(1)
				w.stopMu.Unlock()

				go func() {
					defer w.wg.Done()
					defer func() { <-w.sem }()

					for !w.stopping.Load() && w.pullAndProcess() {
					}
				}()
			default:
				w.logger.Debug("all worker slots busy, skipping tick", logger.WorkerID(w.workerID))
			}
		}
	}
}

// pullAndProcess claims and runs one job. It reports whether a job was claimed.
func (w *Worker) pullAndProcess() bool {
	job, err := w.backend.Dequeue(w.ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrNoJobToClaim):
		w.emptyPolls.Add(1)
		w.logger.Debug("queue empty", logger.WorkerID(w.workerID))
		return false
	case errors.Is(err, context.Canceled):
		return false
	default:
		w.backendErrors.Add(1)
		w.logger.Warn("queue backend unavailable",
			logger.WorkerID(w.workerID),
			logger.Error(err))
		return false
	}

	w.logger.Debug("claimed job",
		logger.WorkerID(w.workerID),
		logger.JobID(job.ID),
		logger.TaskName(job.TaskName),
		logger.RetryCount(job.Retries))

	w.processJob(job)
	return true
}

// processJob runs the handler for job and reports the outcome to the backend.
// Reporting ignores worker cancellation so that a job finished during shutdown is not left processing.
func (w *Worker) processJob(job *Job) {
	start := time.Now()
	reportCtx := context.WithoutCancel(w.ctx)

	result, err := w.execute(job)
	duration := time.Since(start)

	if err != nil {
		w.handleJobFailure(reportCtx, job, err, duration)
		return
	}
	w.handleJobSuccess(reportCtx, job, result, duration)
}

// execute looks up the handler and calls it, turning panics into errors
func (w *Worker) execute(job *Job) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in handler: %v", r)
			w.logger.Error("handler panicked",
				logger.WorkerID(w.workerID),
				logger.JobID(job.ID),
				logger.TaskName(job.TaskName),
				slog.Any("panic", r))
		}
	}()

	w.mu.RLock()
	handler, ok := w.handlers[job.TaskName]
	w.mu.RUnlock()

	if !ok {
		w.logger.Error("no handler registered for task",
			logger.WorkerID(w.workerID),
			logger.JobID(job.ID),
			logger.TaskName(job.TaskName))
		return nil, fmt.Errorf("%w: %s", ErrHandlerNotFound, job.TaskName)
	}

	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return nil, errors.Join(ErrPayloadMarshal, err)
	}

	// Handlers outlive worker cancellation; only the timeout stops them
	ctx, cancel := context.WithTimeout(context.WithoutCancel(w.ctx), w.handlerTimeout)
	defer cancel()

	return handler.Handle(ctx, payload)
}

func (w *Worker) handleJobFailure(ctx context.Context, job *Job, execErr error, duration time.Duration) {
	w.failed.Add(1)

	attempt := job.Retries + 1
	terminal := attempt > job.MaxRetries
	level, next := slog.LevelWarn, StatusDelayed
	if terminal {
		level, next = slog.LevelError, StatusFailed
	}
	w.logger.Log(ctx, level, "job failed",
		logger.WorkerID(w.workerID),
		logger.JobID(job.ID),
		logger.TaskName(job.TaskName),
		logger.RetryCount(attempt),
		slog.Int("max_retries", job.MaxRetries),
		logger.Status(next),
		logger.Duration(duration),
		logger.Error(execErr))

	if err := w.backend.FailJob(ctx, job.ID, execErr.Error()); err != nil {
		w.backendErrors.Add(1)
		w.logger.Error("failed to record job failure",
			logger.WorkerID(w.workerID),
			logger.JobID(job.ID),
			logger.Error(err))
	}
}

func (w *Worker) handleJobSuccess(ctx context.Context, job *Job, result any, duration time.Duration) {
	if err := w.backend.CompleteJob(ctx, job.ID, result); err != nil {
		w.backendErrors.Add(1)
		w.logger.Error("failed to mark job completed",
			logger.WorkerID(w.workerID),
			logger.JobID(job.ID),
			logger.Error(err))
		return
	}

	w.completed.Add(1)
	w.logger.Info("job completed",
		logger.WorkerID(w.workerID),
		logger.JobID(job.ID),
		logger.TaskName(job.TaskName),
		logger.Status(StatusCompleted),
		logger.Duration(duration))
}
