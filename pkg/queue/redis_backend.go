package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/jobqueue/pkg/logger"
	redisconn "github.com/dmitrymomot/jobqueue/pkg/redis"
)

// promoteAndClaimScript moves every due delayed id to the tail of the pending list
// and claims the head of pending in one step.
// KEYS: delayed, pending, processing. ARGV: current time in epoch milliseconds.
var promoteAndClaimScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, id in ipairs(due) do
	if redis.call('ZREM', KEYS[1], id) == 1 then
		redis.call('RPUSH', KEYS[2], id)
	end
end
return redis.call('LMOVE', KEYS[2], KEYS[3], 'LEFT', 'RIGHT')
`)

// reviveScript moves a failed id back to pending and stores its reset body.
// It does nothing when the id is no longer in the failed list.
// KEYS: failed, pending, jobs. ARGV: job id, body.
var reviveScript = redis.NewScript(`
if redis.call('LREM', KEYS[1], 0, ARGV[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[3], ARGV[1], ARGV[2])
redis.call('RPUSH', KEYS[2], ARGV[1])
return 1
`)

// redisKeys holds the key layout of one queue
type redisKeys struct {
	pending    string // list, FIFO of claimable ids
	processing string // list, claimed ids
	failed     string // list, terminally failed ids
	delayed    string // sorted set, score is run_at in epoch ms
	completed  string // sorted set, score is completed_at in epoch ms
	jobs       string // hash, id -> JSON body
}

func newRedisKeys(queue string) redisKeys {
	return redisKeys{
		pending:    queue + ":pending",
		processing: queue + ":processing",
		failed:     queue + ":failed",
		delayed:    queue + ":delayed",
		completed:  queue + ":completed",
		jobs:       queue + ":jobs",
	}
}

// RedisBackend implements Backend and Pruner on top of Redis lists, sorted sets and a hash.
//
// Among eligible jobs it preserves insertion order into the pending list; due delayed jobs
// join the tail of that list in run_at order when a worker polls.
// Mutations of a single call are sent as one MULTI/EXEC batch after the job body is read,
// so the read-modify-write as a whole is not atomic.
type RedisBackend struct {
	client redis.UniversalClient
	keys   redisKeys
	opts   backendOptions
}

// NewRedisBackend creates a backend storing queue queueName in client.
// The caller owns client and closes it.
func NewRedisBackend(client redis.UniversalClient, queueName string, opts ...BackendOption) (*RedisBackend, error) {
	if client == nil {
		return nil, ErrBackendNil
	}
	if queueName == "" {
		queueName = DefaultQueueName
	}

	return &RedisBackend{
		client: client,
		keys:   newRedisKeys(queueName),
		opts:   defaultBackendOptions(opts),
	}, nil
}

// Enqueue implements Backend
func (b *RedisBackend) Enqueue(ctx context.Context, taskName string, payload map[string]any, opts ...EnqueueOption) (string, error) {
	job, err := newJob(taskName, payload, b.opts.now(), opts)
	if err != nil {
		return "", err
	}

	body, err := encodeJob(job)
	if err != nil {
		return "", err
	}

	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, b.keys.jobs, job.ID, body)
		if job.Status == StatusDelayed {
			pipe.ZAdd(ctx, b.keys.delayed, redis.Z{Score: scoreOf(job.RunAt), Member: job.ID})
		} else {
			pipe.RPush(ctx, b.keys.pending, job.ID)
		}
		return nil
	})
	if err != nil {
		return "", storageErr("enqueue job", err)
	}

	return job.ID, nil
}

// Dequeue implements Backend
func (b *RedisBackend) Dequeue(ctx context.Context) (*Job, error) {
	for {
		now := b.opts.now()
		id, err := b.promoteAndClaim(ctx, now)
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoJobToClaim
		}
		if err != nil {
			return nil, storageErr("claim job", err)
		}

		job, err := b.load(ctx, id)
		if errors.Is(err, ErrStorage) {
			return nil, err
		}

		// Entries without a readable body, or whose body is not waiting to run, are duplicates or leftovers
		if err != nil || !claimable(job, now) {
			b.dropEntry(ctx, id, job, err)
			if err := b.client.LRem(ctx, b.keys.processing, 1, id).Err(); err != nil {
				return nil, storageErr("drop stale entry", err)
			}
			continue
		}

		job.Status = StatusProcessing
		if err := b.save(ctx, job); err != nil {
			return nil, err
		}

		return job, nil
	}
}

// claimable reports whether a claimed list entry may be handed to a worker
func claimable(job *Job, now time.Time) bool {
	switch job.Status {
	case StatusPending:
		return true
	case StatusDelayed:
		return !job.RunAt.After(now)
	default:
		return false
	}
}

func (b *RedisBackend) dropEntry(ctx context.Context, id string, job *Job, cause error) {
	attrs := []slog.Attr{logger.JobID(id)}
	if job != nil {
		attrs = append(attrs, logger.Status(job.Status))
	}
	if cause != nil {
		attrs = append(attrs, logger.Error(cause))
	}
	b.opts.logger.LogAttrs(ctx, slog.LevelWarn, "dropping stale queue entry", attrs...)
}

// promoteAndClaim moves due delayed ids to pending and claims one id.
// It returns redis.Nil when the pending list is empty.
func (b *RedisBackend) promoteAndClaim(ctx context.Context, now time.Time) (string, error) {
	if b.opts.atomicPromotion {
		keys := []string{b.keys.delayed, b.keys.pending, b.keys.processing}
		return promoteAndClaimScript.Run(ctx, b.client, keys, now.UnixMilli()).Text()
	}

	due, err := b.dueDelayed(ctx, now)
	if err != nil {
		return "", err
	}
	if err := b.promote(ctx, due); err != nil {
		return "", err
	}
	return b.claimNext(ctx)
}

// dueDelayed lists delayed ids whose run_at is not after now, earliest first
func (b *RedisBackend) dueDelayed(ctx context.Context, now time.Time) ([]string, error) {
	return b.client.ZRangeByScore(ctx, b.keys.delayed, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
}

// promote removes ids from the delayed set and appends them to pending.
// The ZREM result is not checked: two callers that listed the same due id both push it,
// and the job is then delivered twice.
func (b *RedisBackend) promote(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	_, err := b.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			pipe.ZRem(ctx, b.keys.delayed, id)
			pipe.RPush(ctx, b.keys.pending, id)
		}
		return nil
	})
	if err == nil {
		b.opts.logger.DebugContext(ctx, "promoted delayed jobs", logger.Count(int64(len(ids))))
	}
	return err
}

// claimNext atomically moves the head of pending to the tail of processing
func (b *RedisBackend) claimNext(ctx context.Context) (string, error) {
	return b.client.LMove(ctx, b.keys.pending, b.keys.processing, "LEFT", "RIGHT").Result()
}

// CompleteJob implements Backend
func (b *RedisBackend) CompleteJob(ctx context.Context, jobID string, result any) error {
	job, err := b.load(ctx, jobID)
	if err != nil {
		return err
	}

	switch job.Status {
	case StatusCompleted:
		return nil
	case StatusProcessing:
	default:
		return fmt.Errorf("complete job %s in status %s: %w", jobID, job.Status, ErrInvalidState)
	}

	applyCompletion(job, result, b.opts.now())
	body, err := encodeJob(job)
	if err != nil {
		return err
	}

	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, b.keys.processing, 0, jobID)
		pipe.HSet(ctx, b.keys.jobs, jobID, body)
		pipe.ZAdd(ctx, b.keys.completed, redis.Z{Score: scoreOf(*job.CompletedAt), Member: jobID})
		return nil
	})
	if err != nil {
		return storageErr("complete job", err)
	}

	return nil
}

// FailJob implements Backend
func (b *RedisBackend) FailJob(ctx context.Context, jobID string, errMsg string) error {
	job, err := b.load(ctx, jobID)
	if err != nil {
		return err
	}

	if job.Status != StatusProcessing {
		return fmt.Errorf("fail job %s in status %s: %w", jobID, job.Status, ErrInvalidState)
	}

	terminal := applyFailure(job, errMsg, b.opts.now())
	body, err := encodeJob(job)
	if err != nil {
		return err
	}

	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, b.keys.processing, 0, jobID)
		if terminal {
			pipe.RPush(ctx, b.keys.failed, jobID)
		} else {
			pipe.ZAdd(ctx, b.keys.delayed, redis.Z{Score: scoreOf(job.RunAt), Member: jobID})
		}
		pipe.HSet(ctx, b.keys.jobs, jobID, body)
		return nil
	})
	if err != nil {
		return storageErr("fail job", err)
	}

	return nil
}

// GetJob implements Backend
func (b *RedisBackend) GetJob(ctx context.Context, jobID string) (*Job, error) {
	return b.load(ctx, jobID)
}

// GetStats implements Backend.
// Counts come from the index structures, so a due delayed job that was promoted
// but not yet claimed counts as pending.
func (b *RedisBackend) GetStats(ctx context.Context) (*Stats, error) {
	var pending, processing, failed, delayed, completed, total *redis.IntCmd

	_, err := b.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pending = pipe.LLen(ctx, b.keys.pending)
		processing = pipe.LLen(ctx, b.keys.processing)
		failed = pipe.LLen(ctx, b.keys.failed)
		delayed = pipe.ZCard(ctx, b.keys.delayed)
		completed = pipe.ZCard(ctx, b.keys.completed)
		total = pipe.HLen(ctx, b.keys.jobs)
		return nil
	})
	if err != nil {
		return nil, storageErr("get stats", err)
	}

	return &Stats{
		Pending:    pending.Val(),
		Processing: processing.Val(),
		Failed:     failed.Val(),
		Delayed:    delayed.Val(),
		Completed:  completed.Val(),
		TotalJobs:  total.Val(),
	}, nil
}

// ListJobs implements Backend.
// It reads every body from the jobs hash, so the cost grows with the number of stored jobs.
func (b *RedisBackend) ListJobs(ctx context.Context, limit, offset int, status Status) ([]*Job, error) {
	if err := validatePage(limit, offset); err != nil {
		return nil, err
	}

	bodies, err := b.client.HVals(ctx, b.keys.jobs).Result()
	if err != nil {
		return nil, storageErr("list jobs", err)
	}

	matched := make([]*Job, 0, len(bodies))
	for _, body := range bodies {
		var job Job
		if err := json.Unmarshal([]byte(body), &job); err != nil {
			b.opts.logger.WarnContext(ctx, "skipping undecodable job body", logger.Error(err))
			continue
		}
		if status != "" && job.Status != status {
			continue
		}
		matched = append(matched, &job)
	}
	slices.SortFunc(matched, compareJobs)

	return page(matched, limit, offset), nil
}

// RetryJob implements Backend.
// The revive only happens if this call removed the id from the failed list,
// so concurrent retries of one job push it to pending once.
func (b *RedisBackend) RetryJob(ctx context.Context, jobID string) (bool, error) {
	job, err := b.load(ctx, jobID)
	if err != nil {
		return false, err
	}

	if job.Status != StatusFailed {
		return false, nil
	}

	applyRevival(job, b.opts.now())
	body, err := encodeJob(job)
	if err != nil {
		return false, err
	}

	keys := []string{b.keys.failed, b.keys.pending, b.keys.jobs}
	revived, err := reviveScript.Run(ctx, b.client, keys, jobID, body).Int()
	if err != nil {
		return false, storageErr("retry job", err)
	}

	return revived == 1, nil
}

// ClearFailed implements Backend.
// The failed list is read and dropped in one MULTI/EXEC, then the bodies are deleted.
func (b *RedisBackend) ClearFailed(ctx context.Context) (int64, error) {
	var ids *redis.StringSliceCmd

	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		ids = pipe.LRange(ctx, b.keys.failed, 0, -1)
		pipe.Del(ctx, b.keys.failed)
		return nil
	})
	if err != nil {
		return 0, storageErr("clear failed jobs", err)
	}

	cleared := ids.Val()
	if len(cleared) == 0 {
		return 0, nil
	}

	if err := b.client.HDel(ctx, b.keys.jobs, cleared...).Err(); err != nil {
		return 0, storageErr("delete failed job bodies", err)
	}

	return int64(len(cleared)), nil
}

// PruneCompleted implements Pruner
func (b *RedisBackend) PruneCompleted(ctx context.Context, before time.Time) (int64, error) {
	ids, err := b.client.ZRangeByScore(ctx, b.keys.completed, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(before.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, storageErr("list completed jobs", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = id
	}

	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, b.keys.completed, members...)
		pipe.HDel(ctx, b.keys.jobs, ids...)
		return nil
	})
	if err != nil {
		return 0, storageErr("prune completed jobs", err)
	}

	return int64(len(ids)), nil
}

// Ping implements Pinger
func (b *RedisBackend) Ping(ctx context.Context) error {
	return redisconn.Healthcheck(b.client)(ctx)
}

// Helper methods

func (b *RedisBackend) load(ctx context.Context, jobID string) (*Job, error) {
	raw, err := b.client.HGet(ctx, b.keys.jobs, jobID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("load job %s: %w", jobID, ErrJobNotFound)
	}
	if err != nil {
		return nil, storageErr("load job", err)
	}

	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", jobID, err)
	}

	return &job, nil
}

func (b *RedisBackend) save(ctx context.Context, job *Job) error {
	body, err := encodeJob(job)
	if err != nil {
		return err
	}
	if err := b.client.HSet(ctx, b.keys.jobs, job.ID, body).Err(); err != nil {
		return storageErr("save job", err)
	}
	return nil
}

func encodeJob(job *Job) ([]byte, error) {
	body, err := json.Marshal(job)
	if err != nil {
		return nil, errors.Join(ErrPayloadMarshal, err)
	}
	return body, nil
}

// scoreOf converts a timestamp to the epoch-millisecond score used by the sorted sets
func scoreOf(t time.Time) float64 {
	return float64(t.UnixMilli())
}
