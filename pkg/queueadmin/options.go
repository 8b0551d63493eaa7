package queueadmin

import (
	"context"
	"io"
	"log/slog"
)

// HealthCheck checks one dependency. A non-nil error marks the service not ready.
type HealthCheck func(ctx context.Context) error

// Option configures the admin router
type Option func(*options)

type options struct {
	logger       *slog.Logger
	checks       []namedCheck
	defaultLimit int
	maxLimit     int
}

type namedCheck struct {
	name  string
	check HealthCheck
}

// WithLogger sets the logger for request failures
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithHealthCheck registers a readiness check reported by GET /health under name
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(o *options) {
		if name != "" && check != nil {
			o.checks = append(o.checks, namedCheck{name: name, check: check})
		}
	}
}

// WithPageLimits sets the limit used when the query omits it and the largest limit accepted.
func WithPageLimits(defaultLimit, maxLimit int) Option {
	return func(o *options) {
		if defaultLimit > 0 {
			o.defaultLimit = defaultLimit
		}
		if maxLimit > 0 {
			o.maxLimit = maxLimit
		}
		o.defaultLimit = min(o.defaultLimit, o.maxLimit)
	}
}

func defaultOptions(opts []Option) options {
	o := options{
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		defaultLimit: 50,
		maxLimit:     500,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
