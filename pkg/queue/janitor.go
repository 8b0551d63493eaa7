package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/jobqueue/pkg/logger"
)

// DefaultRetention is how long completed jobs are kept when WithRetention is not given
const DefaultRetention = 7 * 24 * time.Hour

// Janitor periodically deletes completed jobs older than the retention window
type Janitor struct {
	pruner    Pruner
	schedule  Schedule
	retention time.Duration
	clock     func() time.Time
	logger    *slog.Logger
}

// NewJanitor creates a janitor that sweeps pruner on an hourly schedule by default
func NewJanitor(pruner Pruner, opts ...JanitorOption) (*Janitor, error) {
	if pruner == nil {
		return nil, ErrBackendNil
	}

	options := &janitorOptions{
		schedule:  Hourly(),
		retention: DefaultRetention,
		clock:     time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Janitor{
		pruner:    pruner,
		schedule:  options.schedule,
		retention: options.retention,
		clock:     options.clock,
		logger:    options.logger.With(logger.Component("janitor")),
	}, nil
}

// Sweep deletes completed jobs whose completion time is at least the retention window ago.
// It returns the number of deleted jobs.
func (j *Janitor) Sweep(ctx context.Context) (int64, error) {
	before := j.clock().Add(-j.retention)

	pruned, err := j.pruner.PruneCompleted(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("prune completed jobs: %w", err)
	}

	if pruned > 0 {
		j.logger.InfoContext(ctx, "pruned completed jobs",
			logger.Count(pruned),
			slog.Time("completed_before", before))
	} else {
		j.logger.DebugContext(ctx, "nothing to prune", slog.Time("completed_before", before))
	}

	return pruned, nil
}

// Start sweeps once immediately and then on every schedule tick until ctx is done.
// Failed sweeps are logged and retried on the next tick. It returns ctx.Err().
func (j *Janitor) Start(ctx context.Context) error {
	j.logger.InfoContext(ctx, "janitor started",
		slog.String("schedule", j.schedule.String()),
		slog.Duration("retention", j.retention))

	for {
		if _, err := j.Sweep(ctx); err != nil && ctx.Err() == nil {
			j.logger.ErrorContext(ctx, "sweep failed", logger.Error(err))
		}

		now := j.clock()
		next := j.schedule.Next(now)
		// A non-advancing schedule would spin
		if !next.After(now) {
			next = now.Add(time.Minute)
		}

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			j.logger.Info("janitor shutting down")
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Run returns a function suitable for errgroup. Cancellation is a clean exit.
func (j *Janitor) Run(ctx context.Context) func() error {
	return func() error {
		if err := j.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}
}

// JanitorOption is a functional option for configuring a janitor
type JanitorOption func(*janitorOptions)

type janitorOptions struct {
	schedule  Schedule
	retention time.Duration
	clock     func() time.Time
	logger    *slog.Logger
}

// WithSchedule sets when sweeps run
func WithSchedule(s Schedule) JanitorOption {
	return func(o *janitorOptions) {
		if s != nil {
			o.schedule = s
		}
	}
}

// WithRetention sets how long completed jobs are kept. Non-positive values are ignored.
func WithRetention(d time.Duration) JanitorOption {
	return func(o *janitorOptions) {
		if d > 0 {
			o.retention = d
		}
	}
}

// WithJanitorClock replaces time.Now
func WithJanitorClock(clock func() time.Time) JanitorOption {
	return func(o *janitorOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithJanitorLogger sets the logger for the janitor
func WithJanitorLogger(l *slog.Logger) JanitorOption {
	return func(o *janitorOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// JanitorOptionsFromConfig maps the retention settings of cfg to janitor options
func JanitorOptionsFromConfig(cfg Config) []JanitorOption {
	return []JanitorOption{
		WithRetention(cfg.CompletedRetention),
		WithSchedule(EveryInterval(cfg.JanitorInterval)),
	}
}
