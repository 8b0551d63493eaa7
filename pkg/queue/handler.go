package queue

import (
	"context"
	"encoding/json"
	"fmt"
)

type (
	// Handler executes jobs of one task name.
	// A non-nil result is stored under payload["result"] when the job completes.
	Handler interface {
		Name() string
		Handle(ctx context.Context, payload json.RawMessage) (any, error)
	}

	TaskHandlerFunc[T any]       func(ctx context.Context, payload T) error
	TaskResultHandlerFunc[T any] func(ctx context.Context, payload T) (any, error)
	NamedHandlerFunc             func(ctx context.Context, payload map[string]any) (any, error)
)

// NewTaskHandler creates a handler for payloads of type T.
// The task name is derived from T, matching what Enqueuer uses for the same type.
func NewTaskHandler[T any](handler TaskHandlerFunc[T]) Handler {
	return NewTaskResultHandler(func(ctx context.Context, payload T) (any, error) {
		return nil, handler(ctx, payload)
	})
}

// NewTaskResultHandler is NewTaskHandler for handlers that produce a result
func NewTaskResultHandler[T any](handler TaskResultHandlerFunc[T]) Handler {
	return &typedHandler[T]{
		name:    TaskNameOf[T](),
		handler: handler,
	}
}

// NewNamedHandler handles jobs enqueued under an explicit task name with a raw JSON object payload
func NewNamedHandler(name string, handler NamedHandlerFunc) Handler {
	return &namedHandler{
		name:    name,
		handler: handler,
	}
}

type typedHandler[T any] struct {
	name    string
	handler TaskResultHandlerFunc[T]
}

func (h *typedHandler[T]) Name() string {
	return h.name
}

func (h *typedHandler[T]) Handle(ctx context.Context, payload json.RawMessage) (any, error) {
	var t T
	if err := json.Unmarshal(payload, &t); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", h.name, err)
	}
	return h.handler(ctx, t)
}

type namedHandler struct {
	name    string
	handler NamedHandlerFunc
}

func (h *namedHandler) Name() string {
	return h.name
}

func (h *namedHandler) Handle(ctx context.Context, payload json.RawMessage) (any, error) {
	var m map[string]any
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", h.name, err)
	}
	if m == nil {
		m = make(map[string]any)
	}
	return h.handler(ctx, m)
}
