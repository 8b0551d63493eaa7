package queue

// EnqueuerOption is a functional option for configuring an Enqueuer
type EnqueuerOption func(*enqueuerOptions)

type enqueuerOptions struct {
	defaultMaxRetries int
}

// WithDefaultMaxRetries sets the retry budget used when Enqueue gets no WithMaxRetries option.
// Negative values are ignored.
func WithDefaultMaxRetries(n int) EnqueuerOption {
	return func(o *enqueuerOptions) {
		if n >= 0 {
			o.defaultMaxRetries = n
		}
	}
}

// WithTaskName overrides the task name Enqueuer derives from the payload type.
// Backends take the task name as an argument and ignore this option.
func WithTaskName(name string) EnqueueOption {
	return func(o *enqueueOptions) {
		if name != "" {
			o.taskName = name
		}
	}
}
