package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/deusflow/newspipe/internal/api"
	"github.com/deusflow/newspipe/internal/app"
	"github.com/deusflow/newspipe/internal/config"
	"github.com/deusflow/newspipe/internal/logger"
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "newspipe",
		Short: "News ingestion, enhancement and retention pipeline",
		Long: `newspipe pulls Malagasy news feeds, filters and classifies the items,
rewrites them with AI providers and stores them under a retention cap.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		createServeCmd(),
		createRunCmd(),
		createEnhanceCmd(),
		createCheckStoreCmd(),
	)

	err := rootCmd.Execute()
	logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}

func setup() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger.Init(cfg.Debug)
	return cfg, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func createServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the cron trigger, health and metrics endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			pipeline, closeApp, err := app.Build(ctx, cfg, logger.Logger)
			if err != nil {
				return err
			}
			defer closeApp()

			if cfg.CronSecret == "" || !cfg.IsProduction() {
				logger.Warn("trigger endpoints are not protected by CRON_SECRET")
			}

			if cfg.PipelineSchedule != "" {
				c := cron.New()
				if _, err := c.AddFunc(cfg.PipelineSchedule, func() {
					logger.Info("running scheduled pipeline")
					if _, err := pipeline.Run(ctx); err != nil {
						logger.Error(err, "scheduled run failed")
					}
				}); err != nil {
					return fmt.Errorf("invalid PIPELINE_SCHEDULE %q: %w", cfg.PipelineSchedule, err)
				}
				c.Start()
				defer c.Stop()
				logger.Info("in-process schedule enabled", "schedule", cfg.PipelineSchedule)
			}

			apiOpts := api.Options{
				CronSecret:     cfg.CronSecret,
				Production:     cfg.IsProduction(),
				AllowedOrigins: cfg.AllowedOrigins,
				Log:            logger.Logger.WithName("api"),
			}
			if q := pipeline.Quotas(); q != nil {
				apiOpts.Quotas = q
			}

			srv := &http.Server{
				Addr:    cfg.HTTPAddr,
				Handler: api.NewServer(pipeline, apiOpts).Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			logger.Info("starting server", "addr", cfg.HTTPAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
}

func createRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one full ingestion and print the summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			pipeline, closeApp, err := app.Build(ctx, cfg, logger.Logger)
			if err != nil {
				return err
			}
			defer closeApp()

			summary, err := pipeline.Run(ctx)
			if err != nil {
				return err
			}
			return printJSON(summary)
		},
	}
}

func createEnhanceCmd() *cobra.Command {
	var (
		limit int
		force bool
	)

	cmd := &cobra.Command{
		Use:   "enhance",
		Short: "Enhance stored articles that were saved without AI rewrite",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			pipeline, closeApp, err := app.Build(ctx, cfg, logger.Logger)
			if err != nil {
				return err
			}
			defer closeApp()

			summary, err := pipeline.EnhanceBacklog(ctx, limit, force)
			if err != nil {
				return err
			}
			return printJSON(summary)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", app.DefaultBacklogLimit, "Maximum number of articles to enhance (max 50)")
	cmd.Flags().BoolVar(&force, "force", false, "Re-enhance articles that were already enhanced")
	return cmd
}

func createCheckStoreCmd() *cobra.Command {
	var recent int

	cmd := &cobra.Command{
		Use:   "check-store",
		Short: "Check the article store connection and print statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			store, err := app.OpenStore(ctx, cfg, logger.Logger)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Ping(ctx); err != nil {
				return fmt.Errorf("store ping: %w", err)
			}
			fmt.Println("Store reachable")

			stats, err := store.Stats(ctx)
			if err != nil {
				return fmt.Errorf("store stats: %w", err)
			}
			keys := make([]string, 0, len(stats))
			for k := range stats {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			fmt.Println("\nStatistics:")
			for _, k := range keys {
				fmt.Printf("  %s: %d\n", k, stats[k])
			}

			articles, err := store.ListForEnhancement(ctx, recent, true)
			if err != nil {
				return fmt.Errorf("list recent: %w", err)
			}
			fmt.Printf("\nRecent articles (last %d):\n", recent)
			if len(articles) == 0 {
				fmt.Println("  (none stored yet)")
			}
			for i, a := range articles {
				fmt.Printf("  %d. %s\n", i+1, a.Title)
				fmt.Printf("     slug: %s | enhanced: %v | published: %s\n", a.Slug, a.AIEnhanced, a.PublishedAt.Format("2006-01-02 15:04"))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&recent, "recent", 5, "Number of recent articles to list")
	return cmd
}
