package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/jobqueue/pkg/httpserver"
	"github.com/dmitrymomot/jobqueue/pkg/logger"
	"github.com/dmitrymomot/jobqueue/pkg/queue"
	"github.com/dmitrymomot/jobqueue/pkg/queueadmin"
)

func serveCmd(a *app) *cobra.Command {
	var (
		addr      string
		logTasks  []string
		noJanitor bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the admin HTTP server and the completed-job janitor",
		Long: "Run the admin HTTP server and the completed-job janitor until interrupted.\n" +
			"Each --log-task registers a worker handler that logs the job payload and completes it.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			g, ctx := errgroup.WithContext(ctx)

			srvCfg := a.cfg.Server
			if addr != "" {
				srvCfg.Addr = addr
			}
			srv := httpserver.NewFromConfig(srvCfg, httpserver.WithLogger(a.log))
			router := queueadmin.Router(a.backend, queueadmin.WithLogger(a.log))
			g.Go(func() error { return srv.Run(ctx, router) })

			if !noJanitor {
				if p, err := a.pruner(); err == nil {
					opts := append(queue.JanitorOptionsFromConfig(a.cfg.Queue), queue.WithJanitorLogger(a.log))
					j, err := queue.NewJanitor(p, opts...)
					if err != nil {
						return err
					}
					g.Go(j.Run(ctx))
				}
			}

			if len(logTasks) > 0 {
				w, err := newLogWorker(a, logTasks)
				if err != nil {
					return err
				}
				g.Go(w.Run(ctx))
			}

			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides ADMIN_HTTP_ADDR)")
	cmd.Flags().StringSliceVar(&logTasks, "log-task", nil, "task names to consume with a logging handler")
	cmd.Flags().BoolVar(&noJanitor, "no-janitor", false, "do not prune completed jobs")
	return cmd
}

// newLogWorker builds a worker whose handlers log each payload and succeed
func newLogWorker(a *app, tasks []string) (*queue.Worker, error) {
	opts := append(queue.WorkerOptionsFromConfig(a.cfg.Queue), queue.WithWorkerLogger(a.log))
	w, err := queue.NewWorker(a.backend, opts...)
	if err != nil {
		return nil, err
	}

	for _, task := range tasks {
		h := queue.NewNamedHandler(task, func(ctx context.Context, payload map[string]any) (any, error) {
			a.log.InfoContext(ctx, "job received",
				logger.TaskName(task),
				slog.Any("payload", payload),
			)
			return nil, nil
		})
		if err := w.RegisterHandler(h); err != nil {
			return nil, err
		}
	}
	return w, nil
}
