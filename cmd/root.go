// Package cmd defines and implements the CLI commands for the partsmirror executable.
package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tkuosman/partsmirror/internal/config"
	"github.com/tkuosman/partsmirror/internal/logging"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "partsmirror",
		Short: "Mirrors a vehicle parts listing site into a local database.",
		Long: `partsmirror walks a parts listing site category by category, extracts
part records from the model pages, and keeps a local mirror with full
change history: price edits, disappearances, restorations, and image
revisions are all tracked across crawl passes.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newPageCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return newRootCmd().ExecuteContext(ctx)
}

// loadEnvironment builds the pieces every subcommand needs: validated
// configuration and a logger matching its logging settings.
func loadEnvironment() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, nil
}
