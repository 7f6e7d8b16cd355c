package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newPageCmd creates the 'page' subcommand, which re-harvests a single
// model page without walking any category index.
func newPageCmd() *cobra.Command {
	var downloadImages bool

	cmd := &cobra.Command{
		Use:   "page <url>",
		Short: "Re-scrapes a single model page",
		Long: `Fetches one model page URL and reconciles its parts against the
mirror, exactly as a full crawl pass would. Useful for refreshing a
single vehicle or for verifying extraction against a new page layout.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadEnvironment()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck // best-effort flush

			a, err := buildApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}

			url := args[0]
			err = a.run(cmd.Context(), func(ctx context.Context) error {
				return a.orch.ScrapePage(ctx, url, downloadImages)
			})
			if err != nil {
				return fmt.Errorf("scrape page: %w", err)
			}
			logger.Info("page scrape finished", zap.String("url", url))
			return nil
		},
	}

	cmd.Flags().BoolVar(&downloadImages, "download-images", true, "synchronize part images to the local mirror")

	return cmd
}
