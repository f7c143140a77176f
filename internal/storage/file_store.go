package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/deusflow/newspipe/internal/news"
)

// fileData is the on-disk layout of a FileStore.
type fileData struct {
	Categories []news.CategoryRecord `json:"categories"`
	Articles   []news.Article        `json:"articles"`
}

// FileStore keeps articles in memory and, when filePath is set, mirrors them
// to a JSON file after every write. It enforces the same uniqueness rules as
// the database.
type FileStore struct {
	filePath string

	mu         sync.RWMutex
	articles   map[string]*news.Article
	bySource   map[string]string
	bySlug     map[string]string
	categories []news.CategoryRecord

	runMu sync.Mutex
}

var _ ArticleStore = (*FileStore)(nil)

// NewFileStore creates a store backed by filePath; an empty path keeps
// everything in memory.
func NewFileStore(filePath string) *FileStore {
	return &FileStore{
		filePath: filePath,
		articles: make(map[string]*news.Article),
		bySource: make(map[string]string),
		bySlug:   make(map[string]string),
	}
}

// Load loads existing data from file
func (fs *FileStore) Load() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.filePath == "" {
		return nil
	}
	data, err := os.ReadFile(fs.filePath)
	if os.IsNotExist(err) {
		// File doesn't exist, start empty
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read store file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var fd fileData
	if err := json.Unmarshal(data, &fd); err != nil {
		return fmt.Errorf("failed to unmarshal store: %w", err)
	}

	fs.categories = fd.Categories
	for i := range fd.Articles {
		a := fd.Articles[i]
		fs.index(&a)
	}
	return nil
}

// save writes the whole store. Caller holds mu.
func (fs *FileStore) save() error {
	if fs.filePath == "" {
		return nil
	}
	fd := fileData{Categories: fs.categories, Articles: make([]news.Article, 0, len(fs.articles))}
	for _, a := range fs.articles {
		fd.Articles = append(fd.Articles, *a)
	}
	sort.Slice(fd.Articles, func(i, j int) bool { return fd.Articles[i].CreatedAt.Before(fd.Articles[j].CreatedAt) })

	data, err := json.MarshalIndent(fd, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal store: %w", err)
	}
	if dir := filepath.Dir(fs.filePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create store dir: %w", err)
		}
	}
	tmp := fs.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write store file: %w", err)
	}
	return os.Rename(tmp, fs.filePath)
}

func (fs *FileStore) index(a *news.Article) {
	fs.articles[a.ID] = a
	if a.SourceURL != "" {
		fs.bySource[a.SourceURL] = a.ID
	}
	fs.bySlug[a.Slug] = a.ID
}

func (fs *FileStore) unindex(a *news.Article) {
	delete(fs.articles, a.ID)
	if a.SourceURL != "" && fs.bySource[a.SourceURL] == a.ID {
		delete(fs.bySource, a.SourceURL)
	}
	if fs.bySlug[a.Slug] == a.ID {
		delete(fs.bySlug, a.Slug)
	}
}

// AddCategory registers a category record; categories are managed outside
// the pipeline.
func (fs *FileStore) AddCategory(name, slug string) (news.CategoryRecord, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	c := news.CategoryRecord{ID: uuid.NewString(), Name: name, Slug: slug}
	fs.categories = append(fs.categories, c)
	return c, fs.save()
}

func (fs *FileStore) Ping(context.Context) error { return nil }

func (fs *FileStore) Count(context.Context) (int, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return len(fs.articles), nil
}

func (fs *FileStore) FindBySourceURL(_ context.Context, sourceURL string) (*news.Article, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	id, ok := fs.bySource[sourceURL]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(fs.articles[id]), nil
}

func (fs *FileStore) Get(_ context.Context, id string) (*news.Article, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	a, ok := fs.articles[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(a), nil
}

func (fs *FileStore) SlugExists(_ context.Context, slug string) (bool, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	_, ok := fs.bySlug[slug]
	return ok, nil
}

func (fs *FileStore) Create(_ context.Context, a *news.Article) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if a.SourceURL != "" {
		if _, ok := fs.bySource[a.SourceURL]; ok {
			return ErrDuplicate
		}
	}
	if _, ok := fs.bySlug[a.Slug]; ok {
		return ErrSlugTaken
	}

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	fs.index(clone(a))
	return fs.save()
}

func (fs *FileStore) Update(_ context.Context, a *news.Article) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	old, ok := fs.articles[a.ID]
	if !ok {
		return ErrNotFound
	}
	if id, ok := fs.bySlug[a.Slug]; ok && id != a.ID {
		return ErrSlugTaken
	}
	if id, ok := fs.bySource[a.SourceURL]; ok && a.SourceURL != "" && id != a.ID {
		return ErrDuplicate
	}

	a.CreatedAt = old.CreatedAt
	a.UpdatedAt = time.Now().UTC()
	fs.unindex(old)
	fs.index(clone(a))
	return fs.save()
}

func (fs *FileStore) DeleteMany(_ context.Context, ids []string) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	n := 0
	for _, id := range ids {
		if a, ok := fs.articles[id]; ok {
			fs.unindex(a)
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return n, fs.save()
}

func (fs *FileStore) OldestNonFeatured(_ context.Context, limit int) ([]string, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	var pool []*news.Article
	for _, a := range fs.articles {
		if !a.Featured {
			pool = append(pool, a)
		}
	}
	sort.Slice(pool, func(i, j int) bool {
		if !pool[i].PublishedAt.Equal(pool[j].PublishedAt) {
			return pool[i].PublishedAt.Before(pool[j].PublishedAt)
		}
		return pool[i].CreatedAt.Before(pool[j].CreatedAt)
	})

	if limit < len(pool) {
		pool = pool[:max(limit, 0)]
	}
	ids := make([]string, len(pool))
	for i, a := range pool {
		ids[i] = a.ID
	}
	return ids, nil
}

func (fs *FileStore) FindCategoryByName(_ context.Context, name string) (*news.CategoryRecord, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	for _, c := range fs.categories {
		if strings.EqualFold(c.Name, name) {
			cp := c
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (fs *FileStore) ListForEnhancement(_ context.Context, limit int, force bool) ([]news.Article, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	var out []news.Article
	for _, a := range fs.articles {
		if force || !a.AIEnhanced {
			out = append(out, *clone(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PublishedAt.After(out[j].PublishedAt) })
	if limit >= 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// TryLock guards runs within this process only.
func (fs *FileStore) TryLock(context.Context) (func(), bool, error) {
	if !fs.runMu.TryLock() {
		return nil, false, nil
	}
	return fs.runMu.Unlock, true, nil
}

func (fs *FileStore) Stats(context.Context) (map[string]int, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	slugByID := map[string]string{}
	for _, c := range fs.categories {
		slugByID[c.ID] = c.Slug
	}

	stats := map[string]int{"total_items": len(fs.articles)}
	for _, a := range fs.articles {
		if a.Featured {
			stats["featured_items"]++
		}
		if a.AIEnhanced {
			stats["enhanced_items"]++
		}
		category := "none"
		if a.CategoryID != nil {
			if s, ok := slugByID[*a.CategoryID]; ok {
				category = s
			}
		}
		stats["category_"+category]++
	}
	return stats, nil
}

func (fs *FileStore) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.save()
}

func clone(a *news.Article) *news.Article {
	cp := *a
	cp.Tags = append([]string(nil), a.Tags...)
	if a.CategoryID != nil {
		id := *a.CategoryID
		cp.CategoryID = &id
	}
	return &cp
}
