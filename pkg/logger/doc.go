// Package logger builds log/slog loggers for queue processes.
//
// New takes functional options for format, level, output, static attributes
// and context extractors. WithEnvironment applies per-environment presets and
// FromConfig builds a logger from LOG_LEVEL, LOG_FORMAT, APP_ENV and
// SERVICE_NAME.
//
// Attribute helpers such as JobID, TaskName, Queue, WorkerID and RetryCount
// keep key names identical across the worker, the janitor, the backends and
// the admin server:
//
//	log := logger.New(logger.WithEnvironment(logger.EnvDevelopment, "jobqueue"))
//	log.InfoContext(ctx, "job completed",
//		logger.JobID(job.ID),
//		logger.TaskName(job.TaskName),
//		logger.Duration(time.Since(start)),
//	)
//
// Error and Errors return an empty attribute for nil errors, so they can be
// passed unconditionally.
package logger
