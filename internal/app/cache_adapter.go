package app

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-logr/logr"

	"github.com/deusflow/newspipe/internal/enhance"
	"github.com/deusflow/newspipe/internal/news"
	"github.com/deusflow/newspipe/internal/storage"
)

// enhancementStore is the part of storage.PostgresStore the shared cache needs.
type enhancementStore interface {
	GetEnhancement(ctx context.Context, contentHash string) (*storage.EnhancementCacheItem, error)
	SetEnhancement(ctx context.Context, item storage.EnhancementCacheItem) error
	CleanupEnhancements(ctx context.Context) (int, error)
}

// PostgresCacheAdapter shares provider results between instances through the
// enhancement_cache table. Cache failures are logged and read as misses.
type PostgresCacheAdapter struct {
	store enhancementStore
	log   logr.Logger
}

var (
	_ enhance.ResultCache = (*PostgresCacheAdapter)(nil)
	_ enhance.Pruner      = (*PostgresCacheAdapter)(nil)
)

func NewPostgresCacheAdapter(store enhancementStore, log logr.Logger) *PostgresCacheAdapter {
	return &PostgresCacheAdapter{store: store, log: log}
}

func (p *PostgresCacheAdapter) Get(ctx context.Context, key string) (*news.Enhanced, bool) {
	item, err := p.store.GetEnhancement(ctx, key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			p.log.Error(err, "enhancement cache read failed")
		}
		return nil, false
	}

	var e news.Enhanced
	if err := json.Unmarshal(item.Payload, &e); err != nil {
		p.log.Error(err, "enhancement cache entry unreadable", "key", key)
		return nil, false
	}
	if e.Provider == "" {
		e.Provider = item.AIProvider
	}
	return &e, true
}

func (p *PostgresCacheAdapter) Set(ctx context.Context, key string, e *news.Enhanced, ttl time.Duration) {
	payload, err := json.Marshal(e)
	if err != nil {
		p.log.Error(err, "encode enhancement for cache")
		return
	}
	item := storage.EnhancementCacheItem{
		ContentHash: key,
		Payload:     payload,
		AIProvider:  e.Provider,
		ExpiresAt:   time.Now().Add(ttl),
	}
	if err := p.store.SetEnhancement(ctx, item); err != nil {
		p.log.Error(err, "enhancement cache write failed")
	}
}

func (p *PostgresCacheAdapter) Prune(ctx context.Context) (int, error) {
	return p.store.CleanupEnhancements(ctx)
}
