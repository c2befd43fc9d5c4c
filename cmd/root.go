// Package cmd defines the CLI commands for the ingest executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-ingest/internal/config"
	"github.com/JakeFAU/crawl-ingest/internal/logging"
	"github.com/JakeFAU/crawl-ingest/internal/server"
)

type ctxKey string

const (
	cfgKey    ctxKey = "config"
	loggerKey ctxKey = "logger"
)

// newApp builds the application. Tests replace it.
var newApp = server.Build

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Crawl news sources and keep a versioned, searchable document store.",
		Long: `ingest crawls configured news sources through a rotating proxy pool,
extracts article content and stores it as versioned documents. It runs as an
HTTP service with a worker pool or as a one-shot crawler.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(logging.Options{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			ctx := context.WithValue(cmd.Context(), cfgKey, cfg)
			ctx = context.WithValue(ctx, loggerKey, logger)
			cmd.SetContext(ctx)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if logger, ok := cmd.Context().Value(loggerKey).(*zap.Logger); ok {
				_ = logger.Sync()
			}
		},
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")
	cmd.AddCommand(newServeCmd(), newCrawlCmd(), newMigrateCmd())
	return cmd
}

// Execute runs the root command until SIGINT or SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func fromContext(ctx context.Context) (config.Config, *zap.Logger, error) {
	cfg, ok := ctx.Value(cfgKey).(config.Config)
	logger, lok := ctx.Value(loggerKey).(*zap.Logger)
	if !ok || !lok {
		return config.Config{}, nil, errors.New("configuration not loaded")
	}
	return cfg, logger, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the crawl worker pool",
		RunE: func(cmd *cobra.Command, _ []string) error {
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
			return app.Run(cmd.Context())
		},
	}
}
