// Package storage persists articles and read-only categories.
package storage

import (
	"context"
	"errors"

	"github.com/deusflow/newspipe/internal/news"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("source URL already stored")
	ErrSlugTaken = errors.New("slug already taken")
)

// ArticleStore is the only shared mutable resource across pipeline runs.
type ArticleStore interface {
	Ping(ctx context.Context) error
	Count(ctx context.Context) (int, error)
	FindBySourceURL(ctx context.Context, sourceURL string) (*news.Article, error)
	SlugExists(ctx context.Context, slug string) (bool, error)
	// Create assigns ID and CreatedAt. It returns ErrDuplicate when the
	// source URL exists and ErrSlugTaken when the slug does.
	Create(ctx context.Context, a *news.Article) error
	Update(ctx context.Context, a *news.Article) error
	Get(ctx context.Context, id string) (*news.Article, error)
	DeleteMany(ctx context.Context, ids []string) (int, error)
	// OldestNonFeatured returns ids of non-featured articles, oldest published first.
	OldestNonFeatured(ctx context.Context, limit int) ([]string, error)
	FindCategoryByName(ctx context.Context, name string) (*news.CategoryRecord, error)
	// ListForEnhancement returns newest first; without force only articles
	// that were never enhanced.
	ListForEnhancement(ctx context.Context, limit int, force bool) ([]news.Article, error)
	// TryLock takes the run guard. ok is false when another run holds it.
	TryLock(ctx context.Context) (unlock func(), ok bool, err error)
	Stats(ctx context.Context) (map[string]int, error)
	Close() error
}
