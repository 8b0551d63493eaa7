package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrymomot/jobqueue/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := newApp(os.Stdout, os.Stderr)
	runErr := newRootCmd(a).ExecuteContext(ctx)
	// PersistentPostRunE is skipped when a command fails
	closeErr := a.teardown(ctx)

	if runErr == nil && closeErr == nil {
		return
	}
	if a.log != nil {
		a.log.Error("jobqueue failed", logger.Errors(runErr, closeErr))
	}
	fmt.Fprintln(os.Stderr, "Error:", errors.Join(runErr, closeErr))
	stop()
	os.Exit(1)
}
