package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-ingest/internal/crawler"
	"github.com/JakeFAU/crawl-ingest/internal/dispatcher"
	"github.com/JakeFAU/crawl-ingest/internal/storage/postgres"
)

func newCrawlCmd() *cobra.Command {
	var (
		targetURL string
		sourceID  string
		depth     int
	)
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl one URL in the foreground and print the result",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if targetURL == "" {
				return crawler.ErrEmptyURL
			}
			if err := dispatcher.ValidateURL(targetURL); err != nil {
				return err
			}
			normalized, err := crawler.NormalizeURL(targetURL)
			if err != nil {
				return err
			}
			cfg, logger, err := fromContext(cmd.Context())
			if err != nil {
				return err
			}
			app, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			defer func() {
				if cerr := app.Close(context.WithoutCancel(cmd.Context())); cerr != nil {
					logger.Warn("close failed", zap.Error(cerr))
				}
			}()

			src, err := crawler.ResolveSource(cmd.Context(), app.Sources(), sourceID, normalized)
			if err != nil {
				return err
			}
			res, err := app.Controller().Crawl(cmd.Context(), crawler.CrawlRequest{
				URL:      normalized,
				Source:   src,
				MaxDepth: depth,
			}, func(p int) {
				logger.Debug("crawl progress", zap.Int("progress", p))
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("crawl %s: %w", normalized, err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().StringVar(&targetURL, "url", "", "URL to start crawling from")
	cmd.Flags().StringVar(&sourceID, "source", "", "source id (defaults to the generic source)")
	cmd.Flags().IntVar(&depth, "depth", dispatcher.DefaultDepth, "maximum number of pages to follow")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := fromContext(cmd.Context())
			if err != nil {
				return err
			}
			pool, err := postgres.Open(cmd.Context(), postgres.Config{
				DSN:             cfg.DB.DSN,
				MaxConns:        cfg.DB.MaxConns,
				MinConns:        cfg.DB.MinConns,
				MaxConnLifetime: cfg.DB.MaxConnLifetime,
			})
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := postgres.Migrate(cmd.Context(), pool); err != nil {
				return err
			}
			logger.Info("schema migrated")
			return nil
		},
	}
}
