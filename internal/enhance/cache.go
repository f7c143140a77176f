package enhance

import (
	"context"
	"time"

	"github.com/deusflow/newspipe/internal/cache"
	"github.com/deusflow/newspipe/internal/news"
)

// ResultCache stores provider results keyed by a content hash. Expiry is
// checked on read.
type ResultCache interface {
	Get(ctx context.Context, key string) (*news.Enhanced, bool)
	Set(ctx context.Context, key string, e *news.Enhanced, ttl time.Duration)
}

// Pruner drops expired cache entries in bulk and reports how many went.
type Pruner interface {
	Prune(ctx context.Context) (int, error)
}

// MemoryCache keeps results in process.
type MemoryCache struct {
	c *cache.Cache
}

var (
	_ ResultCache = (*MemoryCache)(nil)
	_ Pruner      = (*MemoryCache)(nil)
)

func NewMemoryCache(c *cache.Cache) *MemoryCache {
	return &MemoryCache{c: c}
}

func (m *MemoryCache) Get(_ context.Context, key string) (*news.Enhanced, bool) {
	v, ok := m.c.Get(key)
	if !ok {
		return nil, false
	}
	e, ok := v.(*news.Enhanced)
	if !ok {
		return nil, false
	}
	cp := *e
	cp.Tags = append([]string(nil), e.Tags...)
	return &cp, true
}

func (m *MemoryCache) Set(_ context.Context, key string, e *news.Enhanced, ttl time.Duration) {
	cp := *e
	cp.Tags = append([]string(nil), e.Tags...)
	m.c.Set(key, &cp, ttl)
}

func (m *MemoryCache) Prune(context.Context) (int, error) {
	return m.c.Cleanup(), nil
}
