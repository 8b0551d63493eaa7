package queue

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// MemoryBackend implements Backend and Pruner in process memory for testing and local development.
// A single mutex serialises every operation, so claims are strictly exclusive.
type MemoryBackend struct {
	mu   sync.RWMutex
	opts backendOptions
	jobs map[string]*Job

	// Status index; each slice keeps the order in which jobs entered the status
	byStatus map[Status][]string
}

// NewMemoryBackend creates a new in-memory backend
func NewMemoryBackend(opts ...BackendOption) *MemoryBackend {
	return &MemoryBackend{
		opts:     defaultBackendOptions(opts),
		jobs:     make(map[string]*Job),
		byStatus: make(map[Status][]string),
	}
}

// Enqueue implements Backend
func (mb *MemoryBackend) Enqueue(ctx context.Context, taskName string, payload map[string]any, opts ...EnqueueOption) (string, error) {
	job, err := newJob(taskName, payload, mb.opts.now(), opts)
	if err != nil {
		return "", err
	}

	mb.mu.Lock()
	defer mb.mu.Unlock()

	if _, exists := mb.jobs[job.ID]; exists {
		return "", fmt.Errorf("job with ID %s already exists", job.ID)
	}

	mb.jobs[job.ID] = job
	mb.byStatus[job.Status] = append(mb.byStatus[job.Status], job.ID)

	return job.ID, nil
}

// Dequeue implements Backend.
// Among eligible jobs the earliest run_at wins; pending jobs are scanned first, so ties keep insertion order.
func (mb *MemoryBackend) Dequeue(ctx context.Context) (*Job, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	now := mb.opts.now()
	var best *Job

	for _, status := range []Status{StatusPending, StatusDelayed} {
		for _, id := range mb.byStatus[status] {
			job := mb.jobs[id]

			// Skip delayed jobs that are not due yet
			if job.Status == StatusDelayed && job.RunAt.After(now) {
				continue
			}

			if best == nil || job.RunAt.Before(best.RunAt) {
				best = job
			}
		}
	}

	if best == nil {
		return nil, ErrNoJobToClaim
	}

	mb.setStatus(best, StatusProcessing)

	return best.Clone(), nil
}

// CompleteJob implements Backend
func (mb *MemoryBackend) CompleteJob(ctx context.Context, jobID string, result any) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	job, exists := mb.jobs[jobID]
	if !exists {
		return fmt.Errorf("complete job %s: %w", jobID, ErrJobNotFound)
	}

	switch job.Status {
	case StatusCompleted:
		return nil
	case StatusProcessing:
	default:
		return fmt.Errorf("complete job %s in status %s: %w", jobID, job.Status, ErrInvalidState)
	}

	mb.removeFromStatusIndex(jobID, job.Status)
	applyCompletion(job, result, mb.opts.now())
	mb.byStatus[job.Status] = append(mb.byStatus[job.Status], jobID)

	return nil
}

// FailJob implements Backend
func (mb *MemoryBackend) FailJob(ctx context.Context, jobID string, errMsg string) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	job, exists := mb.jobs[jobID]
	if !exists {
		return fmt.Errorf("fail job %s: %w", jobID, ErrJobNotFound)
	}

	if job.Status != StatusProcessing {
		return fmt.Errorf("fail job %s in status %s: %w", jobID, job.Status, ErrInvalidState)
	}

	mb.removeFromStatusIndex(jobID, job.Status)
	applyFailure(job, errMsg, mb.opts.now())
	mb.byStatus[job.Status] = append(mb.byStatus[job.Status], jobID)

	return nil
}

// GetJob implements Backend
func (mb *MemoryBackend) GetJob(ctx context.Context, jobID string) (*Job, error) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	job, exists := mb.jobs[jobID]
	if !exists {
		return nil, fmt.Errorf("get job %s: %w", jobID, ErrJobNotFound)
	}

	return job.Clone(), nil
}

// GetStats implements Backend
func (mb *MemoryBackend) GetStats(ctx context.Context) (*Stats, error) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	return &Stats{
		Pending:    int64(len(mb.byStatus[StatusPending])),
		Processing: int64(len(mb.byStatus[StatusProcessing])),
		Failed:     int64(len(mb.byStatus[StatusFailed])),
		Delayed:    int64(len(mb.byStatus[StatusDelayed])),
		Completed:  int64(len(mb.byStatus[StatusCompleted])),
		TotalJobs:  int64(len(mb.jobs)),
	}, nil
}

// ListJobs implements Backend
func (mb *MemoryBackend) ListJobs(ctx context.Context, limit, offset int, status Status) ([]*Job, error) {
	if err := validatePage(limit, offset); err != nil {
		return nil, err
	}

	mb.mu.RLock()
	defer mb.mu.RUnlock()

	matched := make([]*Job, 0, len(mb.jobs))
	for _, job := range mb.jobs {
		if status != "" && job.Status != status {
			continue
		}
		matched = append(matched, job)
	}
	slices.SortFunc(matched, compareJobs)

	window := page(matched, limit, offset)
	result := make([]*Job, 0, len(window))
	for _, job := range window {
		result = append(result, job.Clone())
	}

	return result, nil
}

// RetryJob implements Backend
func (mb *MemoryBackend) RetryJob(ctx context.Context, jobID string) (bool, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	job, exists := mb.jobs[jobID]
	if !exists {
		return false, fmt.Errorf("retry job %s: %w", jobID, ErrJobNotFound)
	}

	if job.Status != StatusFailed {
		return false, nil
	}

	mb.removeFromStatusIndex(jobID, job.Status)
	applyRevival(job, mb.opts.now())
	mb.byStatus[job.Status] = append(mb.byStatus[job.Status], jobID)

	return true, nil
}

// ClearFailed implements Backend
func (mb *MemoryBackend) ClearFailed(ctx context.Context) (int64, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	failed := mb.byStatus[StatusFailed]
	for _, id := range failed {
		delete(mb.jobs, id)
	}
	delete(mb.byStatus, StatusFailed)

	return int64(len(failed)), nil
}

// PruneCompleted implements Pruner
func (mb *MemoryBackend) PruneCompleted(ctx context.Context, before time.Time) (int64, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	var pruned int64
	for _, id := range slices.Clone(mb.byStatus[StatusCompleted]) {
		job := mb.jobs[id]
		if job.CompletedAt == nil || job.CompletedAt.After(before) {
			continue
		}
		mb.removeFromStatusIndex(id, StatusCompleted)
		delete(mb.jobs, id)
		pruned++
	}

	return pruned, nil
}

// Ping implements Pinger; memory is always reachable
func (mb *MemoryBackend) Ping(context.Context) error {
	return nil
}

// Helper methods

func (mb *MemoryBackend) setStatus(job *Job, status Status) {
	mb.removeFromStatusIndex(job.ID, job.Status)
	job.Status = status
	mb.byStatus[status] = append(mb.byStatus[status], job.ID)
}

func (mb *MemoryBackend) removeFromStatusIndex(jobID string, status Status) {
	mb.byStatus[status] = slices.DeleteFunc(mb.byStatus[status], func(id string) bool {
		return id == jobID
	})
}
