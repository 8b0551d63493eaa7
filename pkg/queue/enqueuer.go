package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Producer is the part of Backend used to submit jobs
type Producer interface {
	Enqueue(ctx context.Context, taskName string, payload map[string]any, opts ...EnqueueOption) (string, error)
}

// Enqueuer submits typed payloads.
// The task name is derived from the payload type unless WithTaskName overrides it.
type Enqueuer struct {
	producer          Producer
	defaultMaxRetries int
}

// NewEnqueuer creates a new Enqueuer
func NewEnqueuer(producer Producer, opts ...EnqueuerOption) (*Enqueuer, error) {
	if producer == nil {
		return nil, ErrBackendNil
	}

	options := &enqueuerOptions{
		defaultMaxRetries: DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Enqueuer{
		producer:          producer,
		defaultMaxRetries: options.defaultMaxRetries,
	}, nil
}

// Enqueue marshals payload into a JSON object and submits it. It returns the job id.
// Payloads that do not encode to a JSON object fail with ErrPayloadMarshal.
func (e *Enqueuer) Enqueue(ctx context.Context, payload any, opts ...EnqueueOption) (string, error) {
	if payload == nil {
		return "", ErrPayloadNil
	}

	options := &enqueueOptions{}
	for _, opt := range opts {
		opt(options)
	}

	taskName := options.taskName
	if taskName == "" {
		taskName = qualifiedStructName(payload)
	}

	body, err := toObject(payload)
	if err != nil {
		return "", err
	}

	// Defaults go first so explicit options win
	jobOpts := append([]EnqueueOption{WithMaxRetries(e.defaultMaxRetries)}, opts...)

	id, err := e.producer.Enqueue(ctx, taskName, body, jobOpts...)
	if err != nil {
		return "", fmt.Errorf("enqueue task %q: %w", taskName, err)
	}

	return id, nil
}

// toObject converts a struct or map into the generic object form stored by backends
func toObject(payload any) (map[string]any, error) {
	if m, ok := payload.(map[string]any); ok {
		return m, nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Join(ErrPayloadMarshal, fmt.Errorf("marshal %T: %w", payload, err))
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return nil, errors.Join(ErrPayloadMarshal, fmt.Errorf("%T does not encode to a JSON object", payload))
	}

	return m, nil
}
