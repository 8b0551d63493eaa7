package queue_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobqueue/pkg/queue"
)

// fakeClock is a manually advanced clock shared by a backend and its test
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, time.January, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// backendFactory builds an empty backend that reads time from clock
type backendFactory func(t *testing.T, clock *fakeClock) queue.Backend

// runBackendContract exercises the behaviour every Backend must share
func runBackendContract(t *testing.T, newBackend backendFactory) {
	t.Helper()

	setup := func(t *testing.T) (queue.Backend, *fakeClock, context.Context) {
		clock := newFakeClock()
		return newBackend(t, clock), clock, context.Background()
	}

	t.Run("enqueue validation", func(t *testing.T) {
		b, _, ctx := setup(t)

		_, err := b.Enqueue(ctx, "", nil)
		assert.ErrorIs(t, err, queue.ErrTaskNameEmpty)

		_, err = b.Enqueue(ctx, "send_email", nil, queue.WithMaxRetries(-1))
		assert.ErrorIs(t, err, queue.ErrInvalidMaxRetries)

		_, err = b.Enqueue(ctx, "send_email", nil, queue.WithDelay(-time.Second))
		assert.ErrorIs(t, err, queue.ErrInvalidDelay)

		stats, err := b.GetStats(ctx)
		require.NoError(t, err)
		assert.Zero(t, stats.TotalJobs)
	})

	t.Run("enqueue and get", func(t *testing.T) {
		b, clock, ctx := setup(t)

		id, err := b.Enqueue(ctx, "send_email", map[string]any{
			"to":      "a@b.c",
			"headers": map[string]any{"x-tag": "welcome"},
		})
		require.NoError(t, err)
		require.NotEmpty(t, id)

		job, err := b.GetJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, job.ID)
		assert.Equal(t, "send_email", job.TaskName)
		assert.Equal(t, queue.StatusPending, job.Status)
		assert.Equal(t, 0, job.Retries)
		assert.Equal(t, queue.DefaultMaxRetries, job.MaxRetries)
		assert.Empty(t, job.Error)
		assert.Nil(t, job.CompletedAt)
		assert.True(t, clock.Now().Equal(job.CreatedAt))
		assert.True(t, clock.Now().Equal(job.RunAt))
		assert.Equal(t, "a@b.c", job.Payload["to"])
		assert.Equal(t, map[string]any{"x-tag": "welcome"}, job.Payload["headers"])
	})

	t.Run("get unknown job", func(t *testing.T) {
		b, _, ctx := setup(t)

		_, err := b.GetJob(ctx, "missing")
		assert.ErrorIs(t, err, queue.ErrJobNotFound)
	})

	t.Run("dequeue empty queue", func(t *testing.T) {
		b, _, ctx := setup(t)

		job, err := b.Dequeue(ctx)
		assert.ErrorIs(t, err, queue.ErrNoJobToClaim)
		assert.Nil(t, job)
	})

	t.Run("dequeue claims in order", func(t *testing.T) {
		b, clock, ctx := setup(t)

		first, err := b.Enqueue(ctx, "task", nil)
		require.NoError(t, err)
		clock.Advance(time.Millisecond)
		second, err := b.Enqueue(ctx, "task", nil)
		require.NoError(t, err)

		job, err := b.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, first, job.ID)
		assert.Equal(t, queue.StatusProcessing, job.Status)

		job, err = b.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, second, job.ID)

		_, err = b.Dequeue(ctx)
		assert.ErrorIs(t, err, queue.ErrNoJobToClaim)

		stored, err := b.GetJob(ctx, first)
		require.NoError(t, err)
		assert.Equal(t, queue.StatusProcessing, stored.Status)
	})

	t.Run("delay is honoured", func(t *testing.T) {
		b, clock, ctx := setup(t)

		id, err := b.Enqueue(ctx, "task", nil, queue.WithDelay(10*time.Second))
		require.NoError(t, err)

		job, err := b.GetJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, queue.StatusDelayed, job.Status)
		assert.True(t, clock.Now().Add(10*time.Second).Equal(job.RunAt))

		clock.Advance(9 * time.Second)
		_, err = b.Dequeue(ctx)
		assert.ErrorIs(t, err, queue.ErrNoJobToClaim)

		clock.Advance(time.Second)
		job, err = b.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, id, job.ID)
		assert.Equal(t, queue.StatusProcessing, job.Status)
	})

	t.Run("failure backoff sequence", func(t *testing.T) {
		b, clock, ctx := setup(t)

		id, err := b.Enqueue(ctx, "task", nil, queue.WithMaxRetries(2))
		require.NoError(t, err)

		for attempt, wait := range []time.Duration{2 * time.Second, 4 * time.Second} {
			job, err := b.Dequeue(ctx)
			require.NoError(t, err)
			require.Equal(t, id, job.ID)

			failedAt := clock.Now()
			require.NoError(t, b.FailJob(ctx, id, "boom"))

			job, err = b.GetJob(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, queue.StatusDelayed, job.Status)
			assert.Equal(t, attempt+1, job.Retries)
			assert.Equal(t, "boom", job.Error)
			assert.True(t, failedAt.Add(wait).Equal(job.RunAt), "attempt %d run_at", attempt+1)

			clock.Advance(wait - time.Millisecond)
			_, err = b.Dequeue(ctx)
			assert.ErrorIs(t, err, queue.ErrNoJobToClaim)
			clock.Advance(time.Millisecond)
		}

		job, err := b.Dequeue(ctx)
		require.NoError(t, err)
		require.NoError(t, b.FailJob(ctx, job.ID, "still broken"))

		job, err = b.GetJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, queue.StatusFailed, job.Status)
		assert.Equal(t, 3, job.Retries)
		assert.Equal(t, "still broken", job.Error)

		clock.Advance(time.Hour)
		_, err = b.Dequeue(ctx)
		assert.ErrorIs(t, err, queue.ErrNoJobToClaim)

		stats, err := b.GetStats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), stats.Failed)
	})

	t.Run("zero retries fails on first error", func(t *testing.T) {
		b, _, ctx := setup(t)

		id, err := b.Enqueue(ctx, "task", nil, queue.WithMaxRetries(0))
		require.NoError(t, err)
		_, err = b.Dequeue(ctx)
		require.NoError(t, err)
		require.NoError(t, b.FailJob(ctx, id, "boom"))

		job, err := b.GetJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, queue.StatusFailed, job.Status)
		assert.Equal(t, 1, job.Retries)
	})

	t.Run("complete job", func(t *testing.T) {
		b, clock, ctx := setup(t)

		id, err := b.Enqueue(ctx, "task", map[string]any{"to": "a@b.c"})
		require.NoError(t, err)
		_, err = b.Dequeue(ctx)
		require.NoError(t, err)

		clock.Advance(time.Second)
		require.NoError(t, b.CompleteJob(ctx, id, "sent"))

		job, err := b.GetJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, queue.StatusCompleted, job.Status)
		assert.Equal(t, "sent", job.Payload["result"])
		assert.Equal(t, "a@b.c", job.Payload["to"])
		require.NotNil(t, job.CompletedAt)
		assert.True(t, clock.Now().Equal(*job.CompletedAt))

		// Completing twice is a no-op
		require.NoError(t, b.CompleteJob(ctx, id, "again"))
		job, err = b.GetJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "sent", job.Payload["result"])

		stats, err := b.GetStats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), stats.Completed)
		assert.Zero(t, stats.Processing)
	})

	t.Run("complete without result", func(t *testing.T) {
		b, _, ctx := setup(t)

		id, err := b.Enqueue(ctx, "task", map[string]any{"to": "a@b.c"})
		require.NoError(t, err)
		_, err = b.Dequeue(ctx)
		require.NoError(t, err)
		require.NoError(t, b.CompleteJob(ctx, id, nil))

		job, err := b.GetJob(ctx, id)
		require.NoError(t, err)
		assert.NotContains(t, job.Payload, "result")
	})

	t.Run("state guards", func(t *testing.T) {
		b, _, ctx := setup(t)

		id, err := b.Enqueue(ctx, "task", nil)
		require.NoError(t, err)

		assert.ErrorIs(t, b.CompleteJob(ctx, id, nil), queue.ErrInvalidState)
		assert.ErrorIs(t, b.FailJob(ctx, id, "boom"), queue.ErrInvalidState)
		assert.ErrorIs(t, b.CompleteJob(ctx, "missing", nil), queue.ErrJobNotFound)
		assert.ErrorIs(t, b.FailJob(ctx, "missing", "boom"), queue.ErrJobNotFound)

		job, err := b.GetJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, queue.StatusPending, job.Status)
		assert.Zero(t, job.Retries)
	})

	t.Run("retry failed job", func(t *testing.T) {
		b, clock, ctx := setup(t)

		id, err := b.Enqueue(ctx, "task", nil, queue.WithMaxRetries(0))
		require.NoError(t, err)

		retried, err := b.RetryJob(ctx, id)
		require.NoError(t, err)
		assert.False(t, retried, "pending job must not be revived")

		_, err = b.Dequeue(ctx)
		require.NoError(t, err)
		require.NoError(t, b.FailJob(ctx, id, "boom"))

		clock.Advance(time.Minute)
		retried, err = b.RetryJob(ctx, id)
		require.NoError(t, err)
		assert.True(t, retried)

		job, err := b.GetJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, queue.StatusPending, job.Status)
		assert.Zero(t, job.Retries)
		assert.Empty(t, job.Error)
		assert.True(t, clock.Now().Equal(job.RunAt))

		claimed, err := b.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, id, claimed.ID)

		retried, err = b.RetryJob(ctx, "missing")
		assert.ErrorIs(t, err, queue.ErrJobNotFound)
		assert.False(t, retried)
	})

	t.Run("stats conservation", func(t *testing.T) {
		b, _, ctx := setup(t)

		for range 3 {
			_, err := b.Enqueue(ctx, "task", nil)
			require.NoError(t, err)
		}
		_, err := b.Enqueue(ctx, "task", nil, queue.WithDelay(time.Hour))
		require.NoError(t, err)
		failing, err := b.Enqueue(ctx, "task", nil, queue.WithMaxRetries(0))
		require.NoError(t, err)

		// Claim everything pending; complete one, fail the zero-retry job
		var claimed []*queue.Job
		for {
			job, err := b.Dequeue(ctx)
			if errors.Is(err, queue.ErrNoJobToClaim) {
				break
			}
			require.NoError(t, err)
			claimed = append(claimed, job)
		}
		require.Len(t, claimed, 4)

		require.NoError(t, b.FailJob(ctx, failing, "boom"))
		for _, job := range claimed {
			if job.ID != failing {
				require.NoError(t, b.CompleteJob(ctx, job.ID, nil))
				break
			}
		}

		stats, err := b.GetStats(ctx)
		require.NoError(t, err)
		assert.Equal(t, queue.Stats{
			Pending:    0,
			Processing: 2,
			Failed:     1,
			Delayed:    1,
			Completed:  1,
			TotalJobs:  5,
		}, *stats)
		assert.Equal(t, stats.TotalJobs,
			stats.Pending+stats.Processing+stats.Failed+stats.Delayed+stats.Completed)
	})

	t.Run("list jobs", func(t *testing.T) {
		b, clock, ctx := setup(t)

		var ids []string
		for range 5 {
			id, err := b.Enqueue(ctx, "task", nil)
			require.NoError(t, err)
			ids = append(ids, id)
			clock.Advance(time.Millisecond)
		}
		claimed, err := b.Dequeue(ctx)
		require.NoError(t, err)
		require.Equal(t, ids[0], claimed.ID)

		all, err := b.ListJobs(ctx, 10, 0, "")
		require.NoError(t, err)
		require.Len(t, all, 5)
		for i, job := range all {
			assert.Equal(t, ids[i], job.ID)
		}

		window, err := b.ListJobs(ctx, 2, 1, "")
		require.NoError(t, err)
		require.Len(t, window, 2)
		assert.Equal(t, ids[1], window[0].ID)
		assert.Equal(t, ids[2], window[1].ID)

		pending, err := b.ListJobs(ctx, 10, 0, queue.StatusPending)
		require.NoError(t, err)
		assert.Len(t, pending, 4)

		processing, err := b.ListJobs(ctx, 10, 0, queue.StatusProcessing)
		require.NoError(t, err)
		require.Len(t, processing, 1)
		assert.Equal(t, ids[0], processing[0].ID)

		beyond, err := b.ListJobs(ctx, 10, 50, "")
		require.NoError(t, err)
		assert.Empty(t, beyond)

		_, err = b.ListJobs(ctx, 0, 0, "")
		assert.ErrorIs(t, err, queue.ErrInvalidPagination)
		_, err = b.ListJobs(ctx, 10, -1, "")
		assert.ErrorIs(t, err, queue.ErrInvalidPagination)
	})

	t.Run("clear failed", func(t *testing.T) {
		b, _, ctx := setup(t)

		keep, err := b.Enqueue(ctx, "task", nil)
		require.NoError(t, err)
		_, err = b.Dequeue(ctx)
		require.NoError(t, err)

		var failed []string
		for range 2 {
			id, err := b.Enqueue(ctx, "task", nil, queue.WithMaxRetries(0))
			require.NoError(t, err)
			_, err = b.Dequeue(ctx)
			require.NoError(t, err)
			require.NoError(t, b.FailJob(ctx, id, "boom"))
			failed = append(failed, id)
		}

		cleared, err := b.ClearFailed(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), cleared)

		for _, id := range failed {
			_, err := b.GetJob(ctx, id)
			assert.ErrorIs(t, err, queue.ErrJobNotFound)
		}
		_, err = b.GetJob(ctx, keep)
		assert.NoError(t, err)

		stats, err := b.GetStats(ctx)
		require.NoError(t, err)
		assert.Zero(t, stats.Failed)
		assert.Equal(t, int64(1), stats.TotalJobs)

		cleared, err = b.ClearFailed(ctx)
		require.NoError(t, err)
		assert.Zero(t, cleared)
	})

	t.Run("prune completed", func(t *testing.T) {
		b, clock, ctx := setup(t)

		pruner, ok := b.(queue.Pruner)
		require.True(t, ok, "backend must implement Pruner")

		old, err := b.Enqueue(ctx, "task", nil)
		require.NoError(t, err)
		_, err = b.Dequeue(ctx)
		require.NoError(t, err)
		require.NoError(t, b.CompleteJob(ctx, old, nil))

		clock.Advance(2 * time.Hour)

		recent, err := b.Enqueue(ctx, "task", nil)
		require.NoError(t, err)
		_, err = b.Dequeue(ctx)
		require.NoError(t, err)
		require.NoError(t, b.CompleteJob(ctx, recent, nil))

		pruned, err := pruner.PruneCompleted(ctx, clock.Now().Add(-3*time.Hour))
		require.NoError(t, err)
		assert.Zero(t, pruned)

		pruned, err = pruner.PruneCompleted(ctx, clock.Now().Add(-time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(1), pruned)

		_, err = b.GetJob(ctx, old)
		assert.ErrorIs(t, err, queue.ErrJobNotFound)
		_, err = b.GetJob(ctx, recent)
		assert.NoError(t, err)

		stats, err := b.GetStats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), stats.Completed)
		assert.Equal(t, int64(1), stats.TotalJobs)
	})

	t.Run("concurrent claims are exclusive", func(t *testing.T) {
		b, _, ctx := setup(t)

		const jobs = 30
		for range jobs {
			_, err := b.Enqueue(ctx, "task", nil)
			require.NoError(t, err)
		}

		seen := drainConcurrently(ctx, b, 6)

		assert.Len(t, seen, jobs)
		for id, n := range seen {
			assert.Equal(t, 1, n, "job %s claimed more than once", id)
		}
	})

	t.Run("concurrent retries revive once", func(t *testing.T) {
		b, _, ctx := setup(t)

		for range 20 {
			id, err := b.Enqueue(ctx, "task", nil, queue.WithMaxRetries(0))
			require.NoError(t, err)
			_, err = b.Dequeue(ctx)
			require.NoError(t, err)
			require.NoError(t, b.FailJob(ctx, id, "boom"))

			var (
				wg      sync.WaitGroup
				revived atomic.Int32
			)
			for range 8 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					ok, err := b.RetryJob(ctx, id)
					assert.NoError(t, err)
					if ok {
						revived.Add(1)
					}
				}()
			}
			wg.Wait()
			require.Equal(t, int32(1), revived.Load())

			seen := drainConcurrently(ctx, b, 4)
			require.Equal(t, map[string]int{id: 1}, seen)

			require.NoError(t, b.CompleteJob(ctx, id, nil))
		}

		stats, err := b.GetStats(ctx)
		require.NoError(t, err)
		assert.Equal(t, queue.Stats{Completed: 20, TotalJobs: 20}, *stats)
	})

	t.Run("send email completes after a failed attempt", func(t *testing.T) {
		b, clock, ctx := setup(t)

		id, err := b.Enqueue(ctx, "send_email", map[string]any{"to": "a@b.c"}, queue.WithMaxRetries(2))
		require.NoError(t, err)

		job, err := b.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, "send_email", job.TaskName)
		assert.Equal(t, "a@b.c", job.Payload["to"])

		require.NoError(t, b.FailJob(ctx, id, "smtp unavailable"))
		_, err = b.Dequeue(ctx)
		assert.ErrorIs(t, err, queue.ErrNoJobToClaim)

		clock.Advance(2 * time.Second)
		job, err = b.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, job.Retries)

		require.NoError(t, b.CompleteJob(ctx, id, map[string]any{"message_id": "m-1"}))

		job, err = b.GetJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, queue.StatusCompleted, job.Status)
		assert.Equal(t, map[string]any{"message_id": "m-1"}, job.Payload["result"])
		assert.Equal(t, "smtp unavailable", job.Error)

		stats, err := b.GetStats(ctx)
		require.NoError(t, err)
		assert.Equal(t, queue.Stats{Completed: 1, TotalJobs: 1}, *stats)
	})

	t.Run("send email exhausts retries", func(t *testing.T) {
		b, clock, ctx := setup(t)

		id, err := b.Enqueue(ctx, "send_email", map[string]any{"to": "a@b.com"}, queue.WithMaxRetries(2))
		require.NoError(t, err)

		job, err := b.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, id, job.ID)
		assert.Equal(t, queue.StatusProcessing, job.Status)

		for attempt, backoff := range []time.Duration{2 * time.Second, 4 * time.Second} {
			failedAt := clock.Now()
			require.NoError(t, b.FailJob(ctx, id, "smtp down"))

			job, err = b.GetJob(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, queue.StatusDelayed, job.Status)
			assert.Equal(t, attempt+1, job.Retries)
			assert.True(t, failedAt.Add(backoff).Equal(job.RunAt), "run_at %s", job.RunAt)

			clock.Advance(backoff - time.Millisecond)
			_, err = b.Dequeue(ctx)
			require.ErrorIs(t, err, queue.ErrNoJobToClaim)

			clock.Advance(time.Millisecond)
			job, err = b.Dequeue(ctx)
			require.NoError(t, err)
			assert.Equal(t, id, job.ID)
		}

		require.NoError(t, b.FailJob(ctx, id, "smtp down"))

		job, err = b.GetJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, queue.StatusFailed, job.Status)
		assert.Equal(t, 3, job.Retries)
		assert.Equal(t, "smtp down", job.Error)
		assert.Equal(t, "a@b.com", job.Payload["to"])

		_, err = b.Dequeue(ctx)
		assert.ErrorIs(t, err, queue.ErrNoJobToClaim)

		stats, err := b.GetStats(ctx)
		require.NoError(t, err)
		assert.Equal(t, queue.Stats{Failed: 1, TotalJobs: 1}, *stats)
	})
}

// runDueClaimsExclusive checks that delayed jobs which became due are claimed once each
// under concurrent polling. Backends with two-step promotion do not guarantee this.
func runDueClaimsExclusive(t *testing.T, newBackend backendFactory) {
	t.Helper()

	t.Run("concurrent claims of due delayed jobs are exclusive", func(t *testing.T) {
		clock := newFakeClock()
		b := newBackend(t, clock)
		ctx := context.Background()

		const jobs = 200
		for i := range jobs {
			_, err := b.Enqueue(ctx, "task", nil, queue.WithDelay(time.Duration(i%7+1)*time.Second))
			require.NoError(t, err)
		}

		_, err := b.Dequeue(ctx)
		require.ErrorIs(t, err, queue.ErrNoJobToClaim)

		clock.Advance(10 * time.Second)
		seen := drainConcurrently(ctx, b, 16)

		assert.Len(t, seen, jobs)
		for id, n := range seen {
			assert.Equal(t, 1, n, "job %s claimed more than once", id)
		}
	})
}

// drainConcurrently polls b from several goroutines until the queue reports no job
// and returns how often each id was claimed
func drainConcurrently(ctx context.Context, b queue.Backend, workers int) map[string]int {
	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := b.Dequeue(ctx)
				if err != nil {
					return
				}
				mu.Lock()
				seen[job.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return seen
}
