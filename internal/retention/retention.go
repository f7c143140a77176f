// Package retention keeps the article table under its cap.
package retention

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/deusflow/newspipe/internal/storage"
)

const (
	DefaultCap   = 500
	DefaultExtra = 50
)

// Result describes one enforcement pass.
type Result struct {
	Before    int
	Target    int
	Deleted   int
	Shortfall int // featured rows that could not be evicted
}

// Manager evicts the oldest non-featured articles once Count exceeds Cap,
// deleting Extra more so that the next runs do not evict again immediately.
type Manager struct {
	store storage.ArticleStore
	cap   int
	extra int
	log   logr.Logger
}

func NewManager(store storage.ArticleStore, maxArticles, extra int, log logr.Logger) *Manager {
	if maxArticles <= 0 {
		maxArticles = DefaultCap
	}
	if extra < 0 {
		extra = DefaultExtra
	}
	return &Manager{store: store, cap: maxArticles, extra: extra, log: log}
}

func (m *Manager) Enforce(ctx context.Context) (Result, error) {
	count, err := m.store.Count(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("count articles: %w", err)
	}
	res := Result{Before: count}
	if count <= m.cap {
		return res, nil
	}

	res.Target = count - m.cap + m.extra
	ids, err := m.store.OldestNonFeatured(ctx, res.Target)
	if err != nil {
		return res, fmt.Errorf("select eviction candidates: %w", err)
	}

	deleted, err := m.store.DeleteMany(ctx, ids)
	res.Deleted = deleted
	if err != nil {
		return res, fmt.Errorf("evict articles: %w", err)
	}
	res.Shortfall = res.Target - deleted

	m.log.Info("retention enforced", "before", count, "deleted", deleted, "target", res.Target)
	if res.Shortfall > 0 {
		m.log.Info("retention shortfall, remaining rows are featured", "severity", "warn", "shortfall", res.Shortfall)
	}
	return res, nil
}
