package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/dmitrymomot/jobqueue/pkg/config"
	"github.com/dmitrymomot/jobqueue/pkg/httpserver"
	"github.com/dmitrymomot/jobqueue/pkg/logger"
	"github.com/dmitrymomot/jobqueue/pkg/queue"
)

// settings is everything the binary reads from the environment
type settings struct {
	Queue  queue.Config
	Log    logger.Config
	Server httpserver.Config
}

type openFunc func(ctx context.Context, cfg queue.Config, opts ...queue.BackendOption) (queue.Backend, queue.CloseFunc, error)

// app carries state shared by subcommands between PersistentPreRunE and PersistentPostRunE
type app struct {
	out    io.Writer // command results
	errOut io.Writer // log records
	open   openFunc

	envFiles []string
	driver   string
	name     string

	cfg     settings
	log     *slog.Logger
	backend queue.Backend
	closeFn queue.CloseFunc
}

func newApp(out, errOut io.Writer) *app {
	return &app{out: out, errOut: errOut, open: queue.Open}
}

// setup loads configuration, builds the logger and opens the backend
func (a *app) setup(cmd *cobra.Command) error {
	if err := config.LoadEnv(a.envFiles...); err != nil {
		return err
	}
	if err := config.Load(&a.cfg); err != nil {
		return err
	}
	if a.driver != "" {
		a.cfg.Queue.Driver = queue.Driver(a.driver)
	}
	if a.name != "" {
		a.cfg.Queue.Name = a.name
	}

	log, err := logger.FromConfig(a.cfg.Log,
		logger.WithOutput(a.errOut),
		logger.WithAttr(logger.Queue(a.cfg.Queue.Name)),
		logger.WithContextValue("request_id", middleware.RequestIDKey),
	)
	if err != nil {
		return err
	}
	logger.SetAsDefault(log)
	a.log = log

	backend, closeFn, err := a.open(cmd.Context(), a.cfg.Queue, queue.WithBackendLogger(a.log))
	if err != nil {
		return fmt.Errorf("open %s backend: %w", a.cfg.Queue.Driver, err)
	}
	a.backend, a.closeFn = backend, closeFn
	return nil
}

// teardown closes the backend. It is safe to call more than once.
func (a *app) teardown(ctx context.Context) error {
	if a.closeFn == nil {
		return nil
	}
	err := a.closeFn(context.WithoutCancel(ctx))
	a.backend, a.closeFn = nil, nil
	return err
}

func (a *app) pruner() (queue.Pruner, error) {
	p, ok := a.backend.(queue.Pruner)
	if !ok {
		return nil, errors.New("backend does not support pruning")
	}
	return p, nil
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
