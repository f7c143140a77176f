// Package persist turns classified candidates into stored articles.
package persist

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/deusflow/newspipe/internal/cache"
	"github.com/deusflow/newspipe/internal/news"
	"github.com/deusflow/newspipe/internal/rss"
	"github.com/deusflow/newspipe/internal/storage"
)

// categoryTTL bounds how long a category lookup, hit or miss, is reused.
const categoryTTL = 10 * time.Minute

// Gateway is the only writer of new articles during a run.
type Gateway struct {
	store storage.ArticleStore
	log   logr.Logger
	now   func() time.Time

	categories *cache.Cache
}

func NewGateway(store storage.ArticleStore, log logr.Logger) *Gateway {
	return &Gateway{
		store:      store,
		log:        log,
		now:        time.Now,
		categories: cache.New(),
	}
}

// IsDuplicate reports whether an article with this source URL is stored.
func (g *Gateway) IsDuplicate(ctx context.Context, sourceURL string) (bool, error) {
	_, err := g.store.FindBySourceURL(ctx, sourceURL)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, storage.ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("lookup source url: %w", err)
	}
}

// ForgetCategories drops cached category lookups so the next run sees
// categories added or removed since.
func (g *Gateway) ForgetCategories() {
	g.categories.Clear()
}

// ResolveCategory maps a category to a stored category id by display name.
// A missing category yields a nil reference; categories are never created.
func (g *Gateway) ResolveCategory(ctx context.Context, c news.Category) (*string, error) {
	if v, ok := g.categories.Get(string(c)); ok {
		return v.(*string), nil
	}

	var id *string
	rec, err := g.store.FindCategoryByName(ctx, news.DisplayName(c))
	switch {
	case err == nil:
		id = &rec.ID
	case errors.Is(err, storage.ErrNotFound):
		g.log.V(1).Info("category not stored, leaving article unassigned", "category", c)
	default:
		return nil, fmt.Errorf("resolve category %s: %w", c, err)
	}

	g.categories.Set(string(c), id, categoryTTL)
	return id, nil
}

// UniqueSlug derives a slug from title that is not yet stored. A collision
// gets a unix-seconds suffix, and a second collision a random fragment.
func (g *Gateway) UniqueSlug(ctx context.Context, title string) (string, error) {
	base := Slugify(title)
	candidates := []string{
		base,
		base + "-" + strconv.FormatInt(g.now().Unix(), 10),
		base + "-" + shortID(),
	}
	for _, slug := range candidates[:2] {
		taken, err := g.store.SlugExists(ctx, slug)
		if err != nil {
			return "", fmt.Errorf("check slug: %w", err)
		}
		if !taken {
			return slug, nil
		}
	}
	return candidates[2], nil
}

// Save writes a candidate, rewritten by e when e is not nil. It returns
// storage.ErrDuplicate when the source URL was stored concurrently.
func (g *Gateway) Save(ctx context.Context, c news.Candidate, e *news.Enhanced) (*news.Article, error) {
	categoryID, err := g.ResolveCategory(ctx, c.Category)
	if err != nil {
		return nil, err
	}

	a := &news.Article{
		Title:            c.Title,
		Summary:          c.Description,
		Content:          firstNonEmpty(rss.CleanText(c.Content), c.Description, c.Title),
		OriginalContent:  c.Description,
		SourceURL:        c.Link,
		SourceName:       c.SourceName,
		ImageURL:         c.ImageURL,
		Status:           news.StatusPublished,
		PublishedAt:      c.Published,
		FromFeed:         true,
		CategoryID:       categoryID,
		ReliabilityScore: news.NeutralScore,
		ReliabilityLabel: news.NeutralLabel,
	}
	if a.PublishedAt.IsZero() {
		a.PublishedAt = g.now()
	}
	if e != nil {
		a.Title = firstNonEmpty(e.Title, a.Title)
		a.Summary = firstNonEmpty(e.Summary, a.Summary)
		a.Content = firstNonEmpty(e.Content, a.Content)
		a.Tags = e.Tags
		a.ReliabilityScore = e.ReliabilityScore
		a.ReliabilityLabel = e.ReliabilityLabel
		a.FactCheckNotes = e.FactCheckNotes
		a.AIEnhanced = true
	}

	a.Slug, err = g.UniqueSlug(ctx, a.Title)
	if err != nil {
		return nil, err
	}

	err = g.store.Create(ctx, a)
	if errors.Is(err, storage.ErrSlugTaken) {
		// another writer took the slug between check and insert
		a.Slug = Slugify(a.Title) + "-" + shortID()
		err = g.store.Create(ctx, a)
	}
	if err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, err
		}
		return nil, fmt.Errorf("save %q: %w", a.SourceURL, err)
	}
	return a, nil
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
