package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"appointment-sync/internal/config"
	"appointment-sync/internal/logging"
)

var (
	cfg    config.Config
	logger zerolog.Logger
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "appointment-sync",
		Short:         "Keeps a local copy of scheduling-provider appointments in sync",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load()
			if err != nil {
				return err
			}
			logger = logging.New(cfg.LogLevel, cfg.LogPretty)
			return nil
		},
	}
	root.AddCommand(
		newServeCommand(),
		newSyncCommand(),
		newSweepCommand(),
		newRegisterCommand(),
		newMigrateCommand(),
		newTokenCommand(),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}
