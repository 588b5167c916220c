// Command tellecast runs the Tellecast realtime backend processes.
package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/5l1v3r1/tellecast-sub000/internal/config"
	"github.com/5l1v3r1/tellecast-sub000/internal/observability"
)

// app is the state shared by every subcommand once the root has run.
type app struct {
	cfg *config.Config
	log *zap.Logger
}

func main() {
	a := &app{}
	root := &cobra.Command{
		Use:           "tellecast",
		Short:         "Tellecast realtime presence and notification backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}
	root.AddCommand(
		a.serverCommand(),
		a.websocketsCommand(),
		a.workersCommand(),
		a.thumbnailsCommand(),
		a.usersCommand(),
		a.userCommand(),
	)

	if err := root.Execute(); err != nil {
		if a.log != nil {
			a.log.Error("command failed", zap.Error(err))
			a.close()
		} else {
			log.Println(err)
		}
		os.Exit(1)
	}
}

func (a *app) init() error {
	a.cfg = config.Load()
	if err := a.cfg.Validate(); err != nil {
		return err
	}
	logger, err := observability.NewLogger(a.cfg.LogLevel, a.cfg.Environment)
	if err != nil {
		return err
	}
	a.log = logger
	if err := observability.InitSentry(a.cfg.SentryDSN, a.cfg.Environment); err != nil {
		a.log.Warn("sentry disabled", zap.Error(err))
	}
	return nil
}

func (a *app) close() {
	observability.Flush()
	if a.log != nil {
		_ = a.log.Sync()
	}
}
