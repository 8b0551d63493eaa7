package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobqueue/pkg/queue"
)

// harness runs commands against one shared in-memory backend
type harness struct {
	t       *testing.T
	backend *queue.MemoryBackend
	opened  []queue.Config
	logs    bytes.Buffer
}

func newHarness(t *testing.T) *harness {
	return &harness{t: t, backend: queue.NewMemoryBackend()}
}

func (h *harness) run(args ...string) (string, error) {
	h.t.Helper()

	var out bytes.Buffer
	a := newApp(&out, &h.logs)
	a.open = func(_ context.Context, cfg queue.Config, _ ...queue.BackendOption) (queue.Backend, queue.CloseFunc, error) {
		h.opened = append(h.opened, cfg)
		return h.backend, func(context.Context) error { return nil }, nil
	}

	cmd := newRootCmd(a)
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (h *harness) mustRun(args ...string) string {
	h.t.Helper()
	out, err := h.run(args...)
	require.NoError(h.t, err)
	return out
}

func TestEnqueueAndGet(t *testing.T) {
	h := newHarness(t)

	id := strings.TrimSpace(h.mustRun("enqueue", "send_email", `{"to":"a@b.c"}`, "--max-retries", "5"))
	require.NotEmpty(t, id)

	var job queue.Job
	require.NoError(t, json.Unmarshal([]byte(h.mustRun("get", id)), &job))
	assert.Equal(t, id, job.ID)
	assert.Equal(t, "send_email", job.TaskName)
	assert.Equal(t, "a@b.c", job.Payload["to"])
	assert.Equal(t, 5, job.MaxRetries)
	assert.Equal(t, queue.StatusPending, job.Status)
}

func TestEnqueue_Delay(t *testing.T) {
	h := newHarness(t)

	id := strings.TrimSpace(h.mustRun("enqueue", "report", `{}`, "--delay", "1h"))

	job, err := h.backend.GetJob(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusDelayed, job.Status)
	assert.WithinDuration(t, time.Now().Add(time.Hour), job.RunAt, time.Minute)
	assert.Equal(t, queue.DefaultMaxRetries, job.MaxRetries)
}

func TestEnqueue_InvalidInput(t *testing.T) {
	h := newHarness(t)

	_, err := h.run("enqueue", "task", `[1,2]`)
	assert.Error(t, err)

	_, err = h.run("enqueue", "task", `{}`, "--max-retries", "-1")
	assert.ErrorIs(t, err, queue.ErrInvalidMaxRetries)

	_, err = h.run("enqueue", "task")
	assert.Error(t, err)
}

func TestGet_NotFound(t *testing.T) {
	h := newHarness(t)

	_, err := h.run("get", "missing")
	assert.ErrorIs(t, err, queue.ErrJobNotFound)
}

func TestListAndStats(t *testing.T) {
	h := newHarness(t)
	for range 3 {
		h.mustRun("enqueue", "task", `{}`)
	}
	h.mustRun("enqueue", "task", `{}`, "--delay", "1m")

	var jobs []queue.Job
	require.NoError(t, json.Unmarshal([]byte(h.mustRun("list", "--limit", "2")), &jobs))
	assert.Len(t, jobs, 2)

	require.NoError(t, json.Unmarshal([]byte(h.mustRun("list", "--status", "delayed")), &jobs))
	assert.Len(t, jobs, 1)

	_, err := h.run("list", "--status", "bogus")
	assert.Error(t, err)

	_, err = h.run("list", "--limit", "0")
	assert.ErrorIs(t, err, queue.ErrInvalidPagination)

	var stats queue.Stats
	require.NoError(t, json.Unmarshal([]byte(h.mustRun("stats")), &stats))
	assert.Equal(t, queue.Stats{Pending: 3, Delayed: 1, TotalJobs: 4}, stats)
}

func TestRetryAndClearFailed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	id := strings.TrimSpace(h.mustRun("enqueue", "task", `{}`, "--max-retries", "0"))
	job, err := h.backend.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, h.backend.FailJob(ctx, job.ID, "boom"))

	assert.Contains(t, h.mustRun("retry", id), "revived")
	assert.Contains(t, h.mustRun("retry", id), "nothing to do")

	job, err = h.backend.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, h.backend.FailJob(ctx, job.ID, "boom again"))

	assert.Equal(t, "cleared 1 failed jobs\n", h.mustRun("clear-failed"))

	_, err = h.run("retry", id)
	assert.ErrorIs(t, err, queue.ErrJobNotFound)
}

func TestPrune(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.mustRun("enqueue", "task", `{}`)
	job, err := h.backend.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, h.backend.CompleteJob(ctx, job.ID, nil))

	assert.Equal(t, "pruned 0 completed jobs\n", h.mustRun("prune"))

	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, "pruned 1 completed jobs\n", h.mustRun("prune", "--older-than", "1ms", "--queue", "emails"))

	// Log records go to the log writer, tagged with the queue, and never mix with command output
	logs := h.logs.String()
	assert.Contains(t, logs, "pruned completed jobs")
	assert.Contains(t, logs, `"queue":"emails"`)
}

func TestFlagOverrides(t *testing.T) {
	h := newHarness(t)

	h.mustRun("stats", "--driver", "memory", "--queue", "emails")

	require.Len(t, h.opened, 1)
	assert.Equal(t, queue.DriverMemory, h.opened[0].Driver)
	assert.Equal(t, "emails", h.opened[0].Name)
}
