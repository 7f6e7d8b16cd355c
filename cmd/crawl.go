package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tkuosman/partsmirror/internal/orchestrator"
)

// newCrawlCmd creates and configures the 'crawl' subcommand, which runs
// one full mirror pass over the configured categories.
func newCrawlCmd() *cobra.Command {
	var (
		filter         string
		maxPages       int
		downloadImages bool
	)

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs one full mirror pass over the configured categories",
		Long: `Walks each configured category index, visits the model pages it links
to, and reconciles the extracted parts against the mirror: new parts are
inserted, changed parts get a history snapshot, and parts missing from
their page are tombstoned.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadEnvironment()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck // best-effort flush

			if len(cfg.Site.Categories) == 0 {
				return fmt.Errorf("no categories configured; set site.categories")
			}

			a, err := buildApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}

			opts := orchestrator.RunOptions{
				Filter:              filter,
				MaxPagesPerCategory: maxPages,
				DownloadImages:      downloadImages,
			}
			err = a.run(cmd.Context(), func(ctx context.Context) error {
				return a.orch.Run(ctx, opts)
			})
			if err != nil {
				return fmt.Errorf("crawl: %w", err)
			}
			logger.Info("crawl finished", zap.String("filter", filter))
			return nil
		},
	}

	cmd.Flags().StringVar(&filter, "filter", "", "brand/model filter expression (comma = OR, space = AND)")
	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "limit model pages per category (0 = unlimited)")
	cmd.Flags().BoolVar(&downloadImages, "download-images", true, "synchronize part images to the local mirror")

	return cmd
}
