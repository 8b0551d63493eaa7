package queue

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

// DefaultQueueName is the default queue name used when no queue is specified
const DefaultQueueName = "default"

// DefaultMaxRetries is applied when Enqueue is called without WithMaxRetries
const DefaultMaxRetries = 3

// Status represents the lifecycle state of a job
type Status string

const (
	StatusPending    Status = "pending"
	StatusDelayed    Status = "delayed"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is one of the known statuses
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusDelayed, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no worker will pick the job up again
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is the persisted unit of work.
// JSON tags define the Redis body format, BSON tags the MongoDB document.
type Job struct {
	ID          string         `json:"id" bson:"_id"`
	TaskName    string         `json:"task_name" bson:"task_name"`
	Payload     map[string]any `json:"payload" bson:"payload"`
	Status      Status         `json:"status" bson:"status"`
	CreatedAt   time.Time      `json:"created_at" bson:"created_at"`
	RunAt       time.Time      `json:"run_at" bson:"run_at"`
	Retries     int            `json:"retries" bson:"retries"`
	MaxRetries  int            `json:"max_retries" bson:"max_retries"`
	Error       string         `json:"error" bson:"error"`
	CompletedAt *time.Time     `json:"completed_at,omitempty" bson:"completed_at,omitempty"`
}

// Clone returns a copy that shares no mutable top-level state with j
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.Payload = maps.Clone(j.Payload)
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Stats holds per-status job counts.
// TotalJobs counts stored job bodies and is never less than the sum of the others.
type Stats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Failed     int64 `json:"failed"`
	Delayed    int64 `json:"delayed"`
	Completed  int64 `json:"completed"`
	TotalJobs  int64 `json:"total_jobs"`
}

// EnqueueOption is a functional option for the Enqueue method
type EnqueueOption func(*enqueueOptions)

type enqueueOptions struct {
	maxRetries int
	delay      time.Duration
	taskName   string
}

// WithMaxRetries sets how many failed attempts are rescheduled before the job fails for good.
// Negative values are rejected by Enqueue with ErrInvalidMaxRetries.
func WithMaxRetries(n int) EnqueueOption {
	return func(o *enqueueOptions) {
		o.maxRetries = n
	}
}

// WithDelay postpones the first attempt.
// Negative values are rejected by Enqueue with ErrInvalidDelay.
func WithDelay(d time.Duration) EnqueueOption {
	return func(o *enqueueOptions) {
		o.delay = d
	}
}

// newJob validates enqueue arguments and builds the initial job record.
// It is shared by every backend so that creation rules stay identical.
func newJob(taskName string, payload map[string]any, now time.Time, opts []EnqueueOption) (*Job, error) {
	if taskName == "" {
		return nil, ErrTaskNameEmpty
	}

	options := &enqueueOptions{maxRetries: DefaultMaxRetries}
	for _, opt := range opts {
		opt(options)
	}

	if options.maxRetries < 0 {
		return nil, ErrInvalidMaxRetries
	}
	if options.delay < 0 {
		return nil, ErrInvalidDelay
	}

	body := maps.Clone(payload)
	if body == nil {
		body = make(map[string]any)
	}

	status := StatusPending
	if options.delay > 0 {
		status = StatusDelayed
	}

	return &Job{
		ID:         uuid.NewString(),
		TaskName:   taskName,
		Payload:    body,
		Status:     status,
		CreatedAt:  now,
		RunAt:      now.Add(options.delay).Truncate(time.Millisecond),
		Retries:    0,
		MaxRetries: options.maxRetries,
	}, nil
}
