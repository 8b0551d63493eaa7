package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/jobqueue/pkg/queue"
)

func enqueueCmd(a *app) *cobra.Command {
	var (
		maxRetries int
		delay      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "enqueue <task> <payload-json>",
		Short: "Add a job to the queue and print its id",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload map[string]any
			if err := json.Unmarshal([]byte(args[1]), &payload); err != nil {
				return fmt.Errorf("payload must be a JSON object: %w", err)
			}
			if payload == nil {
				payload = map[string]any{}
			}

			enq, err := queue.NewEnqueuer(a.backend, queue.WithDefaultMaxRetries(a.cfg.Queue.DefaultMaxRetries))
			if err != nil {
				return err
			}

			opts := []queue.EnqueueOption{queue.WithTaskName(args[0]), queue.WithDelay(delay)}
			if cmd.Flags().Changed("max-retries") {
				opts = append(opts, queue.WithMaxRetries(maxRetries))
			}

			id, err := enq.Enqueue(cmd.Context(), payload, opts...)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(a.out, id)
			return err
		},
	}

	cmd.Flags().IntVar(&maxRetries, "max-retries", queue.DefaultMaxRetries, "retries before the job fails for good (default QUEUE_DEFAULT_MAX_RETRIES)")
	cmd.Flags().DurationVar(&delay, "delay", 0, "postpone the first attempt")
	return cmd
}

func getCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Print a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := a.backend.GetJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.printJSON(job)
		},
	}
}

func listCmd(a *app) *cobra.Command {
	var (
		status string
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs ordered by creation time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s := queue.Status(status)
			if s != "" && !s.Valid() {
				return fmt.Errorf("unknown status %q", status)
			}

			jobs, err := a.backend.ListJobs(cmd.Context(), limit, offset, s)
			if err != nil {
				return err
			}
			return a.printJSON(jobs)
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status (pending, delayed, processing, completed, failed)")
	cmd.Flags().IntVar(&limit, "limit", 20, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of jobs to skip")
	return cmd
}

func statsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print per-status job counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stats, err := a.backend.GetStats(cmd.Context())
			if err != nil {
				return err
			}
			return a.printJSON(stats)
		},
	}
}

func retryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id>",
		Short: "Revive a failed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := a.backend.RetryJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				_, err = fmt.Fprintf(a.out, "job %s is not failed, nothing to do\n", args[0])
				return err
			}
			_, err = fmt.Fprintf(a.out, "job %s revived\n", args[0])
			return err
		},
	}
}

func clearFailedCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-failed",
		Short: "Delete every failed job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := a.backend.ClearFailed(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(a.out, "cleared %d failed jobs\n", n)
			return err
		},
	}
}

func pruneCmd(a *app) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete completed jobs older than the retention",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := a.pruner()
			if err != nil {
				return err
			}

			retention := a.cfg.Queue.CompletedRetention
			if cmd.Flags().Changed("older-than") {
				retention = olderThan
			}

			j, err := queue.NewJanitor(p,
				queue.WithRetention(retention),
				queue.WithJanitorLogger(a.log),
			)
			if err != nil {
				return err
			}

			n, err := j.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(a.out, "pruned %d completed jobs\n", n)
			return err
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", queue.DefaultRetention, "minimum age of completed jobs to delete (default QUEUE_COMPLETED_RETENTION)")
	return cmd
}
