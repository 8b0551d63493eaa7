package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "jobqueue",
		Short:         "Inspect and operate a durable job queue",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.teardown(cmd.Context())
		},
	}

	flags := root.PersistentFlags()
	flags.StringSliceVar(&a.envFiles, "env-file", nil, "dotenv files to load before reading the environment")
	flags.StringVar(&a.driver, "driver", "", "backend driver: redis, mongo or memory (overrides QUEUE_DRIVER)")
	flags.StringVar(&a.name, "queue", "", "queue name (overrides QUEUE_NAME)")

	root.AddCommand(
		enqueueCmd(a),
		getCmd(a),
		listCmd(a),
		statsCmd(a),
		retryCmd(a),
		clearFailedCmd(a),
		pruneCmd(a),
		serveCmd(a),
	)

	return root
}
