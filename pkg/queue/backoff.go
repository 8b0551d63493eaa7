package queue

import (
	"math"
	"time"
)

// Backoff returns the delay applied after the given number of failed attempts: 2^retries seconds.
// There is no upper cap; the result saturates at the largest time.Duration instead of overflowing.
func Backoff(retries int) time.Duration {
	if retries <= 0 {
		return time.Second
	}
	// 2^34 seconds no longer fits in int64 nanoseconds
	if retries > 33 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(int64(1)<<retries) * time.Second
}

// applyFailure records a failed attempt on job.
// With retries left the job becomes delayed until now+Backoff, otherwise it fails for good.
// It reports whether the job reached the terminal failed state.
func applyFailure(job *Job, errMsg string, now time.Time) bool {
	job.Retries++
	job.Error = errMsg

	if job.Retries > job.MaxRetries {
		job.Status = StatusFailed
		return true
	}

	job.Status = StatusDelayed
	job.RunAt = now.Add(Backoff(job.Retries))
	return false
}

// applyRevival resets a failed job so it is picked up again immediately
func applyRevival(job *Job, now time.Time) {
	job.Status = StatusPending
	job.Retries = 0
	job.Error = ""
	job.RunAt = now
}

// applyCompletion marks job completed and merges result into its payload
func applyCompletion(job *Job, result any, now time.Time) {
	job.Status = StatusCompleted
	job.CompletedAt = &now
	if result != nil {
		if job.Payload == nil {
			job.Payload = make(map[string]any)
		}
		job.Payload["result"] = result
	}
}
