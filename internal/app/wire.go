package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/deusflow/newspipe/internal/cache"
	"github.com/deusflow/newspipe/internal/config"
	"github.com/deusflow/newspipe/internal/enhance"
	"github.com/deusflow/newspipe/internal/gemini"
	"github.com/deusflow/newspipe/internal/ratelimit"
	"github.com/deusflow/newspipe/internal/retention"
	"github.com/deusflow/newspipe/internal/retry"
	"github.com/deusflow/newspipe/internal/rss"
	"github.com/deusflow/newspipe/internal/scraper"
	"github.com/deusflow/newspipe/internal/storage"
	"github.com/deusflow/newspipe/internal/telegram"
)

// OpenStore connects to Postgres when DatabaseURL is set, retrying while the
// database comes up, and otherwise opens the JSON file store.
func OpenStore(ctx context.Context, cfg *config.Config, log logr.Logger) (storage.ArticleStore, error) {
	if cfg.DatabaseURL == "" {
		log.Info("DATABASE_URL not set, using file store", "path", cfg.StoreFile)
		fs := storage.NewFileStore(cfg.StoreFile)
		if err := fs.Load(); err != nil {
			return nil, err
		}
		return fs, nil
	}

	var store *storage.PostgresStore
	err := retry.WithRetry(ctx, retry.RetryConfig{
		MaxAttempts: cfg.RetryAttempts,
		Delay:       cfg.RetryDelay,
		Backoff:     true,
		OnRetry: func(attempt int, err error) {
			log.Info("database not reachable, retrying", "severity", "warn", "attempt", attempt, "error", err.Error())
		},
	}, func() error {
		var err error
		store, err = storage.NewPostgresStore(ctx, cfg.DatabaseURL, log.WithName("postgres"))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return store, nil
}

// Build assembles an App from configuration. The returned close function
// releases the store and provider clients.
func Build(ctx context.Context, cfg *config.Config, log logr.Logger) (*App, func() error, error) {
	store, err := OpenStore(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}
	closers := []func() error{store.Close}
	closeAll := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		return errors.Join(errs...)
	}

	sources, err := rss.LoadSources(cfg.SourcesPath, log.WithName("sources"))
	if err != nil {
		_ = closeAll()
		return nil, nil, err
	}

	providers, err := buildProviders(ctx, cfg, &closers)
	if err != nil {
		_ = closeAll()
		return nil, nil, err
	}

	deps := Deps{
		Store:     store,
		Sources:   sources,
		Fetcher:   rss.NewFetcher(nil, cfg.FetchTimeout, cfg.UserAgent, cfg.FetchConcurrency, log.WithName("fetch")),
		Retention: retention.NewManager(store, cfg.RetentionCap, cfg.RetentionExtra, log.WithName("retention")),
	}

	if len(providers) > 0 {
		limits := map[string]int{}
		for _, p := range cfg.EnabledProviders() {
			limits[p.Name] = p.DailyLimit
		}

		var resultCache enhance.ResultCache = enhance.NewMemoryCache(cache.New())
		if pg, ok := store.(*storage.PostgresStore); ok {
			resultCache = NewPostgresCacheAdapter(pg, log.WithName("enhancement-cache"))
		}

		deps.Quotas = ratelimit.NewAIRateLimiter(limits, cfg.MaxAIRequests, log.WithName("ratelimit"))
		orch := enhance.New(providers, enhance.Options{
			FullText:        scraper.New(nil, cfg.FullTextTimeout, cfg.UserAgent, cfg.FullTextMaxChars, log.WithName("scraper")),
			Limiter:         deps.Quotas,
			Cache:           resultCache,
			CacheTTL:        cfg.CacheTTL,
			ProviderTimeout: cfg.ProviderTimeout,
			Log:             log.WithName("enhance"),
		})
		deps.Enhancer = orch
		log.Info("enhancement providers registered", "providers", orch.Providers())
	} else {
		log.Info("no AI provider key configured, articles are saved without enhancement", "severity", "warn")
	}

	if cfg.TelegramToken != "" {
		deps.Notifier = telegram.NewNotifier(cfg.TelegramToken, cfg.TelegramChatID, log.WithName("telegram"))
	}

	a := New(deps, Options{
		EnhanceDelay: cfg.EnhanceDelay,
		Backlog:      enhance.Backlog{BatchSize: cfg.BacklogBatchSize, BatchPause: cfg.BacklogPause},
		Log:          log.WithName("pipeline"),
	})
	return a, closeAll, nil
}

func buildProviders(ctx context.Context, cfg *config.Config, closers *[]func() error) ([]enhance.Provider, error) {
	var providers []enhance.Provider
	for _, p := range cfg.EnabledProviders() {
		switch p.Name {
		case "gemini":
			c, err := gemini.NewClient(ctx, p.APIKey, p.Model)
			if err != nil {
				return nil, err
			}
			*closers = append(*closers, func() error { c.Close(); return nil })
			providers = append(providers, c)
		default:
			providers = append(providers, enhance.NewChatProvider(p.Name, p.APIKey, p.Model, p.BaseURL, nil))
		}
	}
	return providers, nil
}

// Quotas returns the provider quota tracker, or nil when no provider is
// configured.
func (a *App) Quotas() *ratelimit.AIRateLimiter {
	return a.quotas
}

// Store exposes the article store for diagnostics.
func (a *App) Store() storage.ArticleStore {
	return a.store
}
