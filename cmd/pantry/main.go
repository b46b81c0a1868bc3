package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dukerupert/pantry/internal/config"
	"github.com/dukerupert/pantry/internal/logging"
)

// app carries what every subcommand needs after the root command has loaded
// the configuration.
type app struct {
	configPath string
	cfg        config.Config
	logger     *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "pantry",
		Short:         "Household food inventory sync service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = logging.Setup(cfg.LogLevel, cfg.LogFormat)
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", os.Getenv("PANTRY_CONFIG"), "path to a YAML config file")

	root.AddCommand(
		newServeCmd(a),
		newWatchCmd(a),
		newLookupCmd(a),
		newBackupCmd(a),
		newRestoreCmd(a),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
