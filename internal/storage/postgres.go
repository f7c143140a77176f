package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/deusflow/newspipe/internal/news"
)

// runLockKey identifies the pipeline run guard among advisory locks.
const runLockKey int64 = 0x6e657773 // "news"

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var articleColumns = []string{
	"id", "slug", "title", "summary", "content", "original_content",
	"source_url", "source_name", "image_url", "status", "published_at",
	"from_feed", "ai_enhanced", "category_id", "reliability_score",
	"reliability_label", "fact_check_notes", "featured", "tags",
	"created_at", "updated_at",
}

// PostgresStore manages articles in PostgreSQL database
type PostgresStore struct {
	db  *sql.DB
	log logr.Logger
}

var _ ArticleStore = (*PostgresStore)(nil)

// EnhancementCacheItem is a cached provider result
type EnhancementCacheItem struct {
	ContentHash string
	Payload     []byte
	AIProvider  string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	UseCount    int
}

// NewPostgresStore connects, pings and initializes the schema
func NewPostgresStore(ctx context.Context, connectionString string, log logr.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test connection
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgresStore{db: db, log: log}
	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Info("PostgreSQL store connected")
	return store, nil
}

// initSchema creates the necessary tables if they don't exist
func (ps *PostgresStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS categories (
		id UUID PRIMARY KEY,
		name TEXT UNIQUE NOT NULL,
		slug TEXT UNIQUE NOT NULL
	);

	CREATE TABLE IF NOT EXISTS articles (
		id UUID PRIMARY KEY,
		slug TEXT UNIQUE NOT NULL,
		title TEXT NOT NULL,
		summary TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		original_content TEXT NOT NULL DEFAULT '',
		source_url TEXT UNIQUE,
		source_name TEXT NOT NULL DEFAULT '',
		image_url TEXT NOT NULL DEFAULT '',
		status VARCHAR(20) NOT NULL DEFAULT 'published',
		published_at TIMESTAMPTZ NOT NULL,
		from_feed BOOLEAN NOT NULL DEFAULT FALSE,
		ai_enhanced BOOLEAN NOT NULL DEFAULT FALSE,
		category_id UUID REFERENCES categories(id) ON DELETE SET NULL,
		reliability_score INTEGER NOT NULL DEFAULT 50,
		reliability_label VARCHAR(20) NOT NULL DEFAULT 'unverified',
		fact_check_notes TEXT NOT NULL DEFAULT '',
		featured BOOLEAN NOT NULL DEFAULT FALSE,
		tags TEXT[] NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_articles_eviction ON articles(featured, published_at);
	CREATE INDEX IF NOT EXISTS idx_articles_ai_enhanced ON articles(ai_enhanced, published_at DESC);

	-- Provider results shared across instances (saves tokens!)
	CREATE TABLE IF NOT EXISTS enhancement_cache (
		content_hash VARCHAR(64) PRIMARY KEY,
		payload JSONB NOT NULL,
		ai_provider VARCHAR(50),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		expires_at TIMESTAMPTZ NOT NULL,
		last_used_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		use_count INTEGER NOT NULL DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_enhancement_cache_expires_at ON enhancement_cache(expires_at);
	`

	if _, err := ps.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	ps.log.V(1).Info("database schema initialized")
	return nil
}

func (ps *PostgresStore) Ping(ctx context.Context) error {
	return ps.db.PingContext(ctx)
}

func (ps *PostgresStore) Count(ctx context.Context) (int, error) {
	query, args, err := psql.Select("COUNT(*)").From("articles").ToSql()
	if err != nil {
		return 0, err
	}
	var n int
	if err := ps.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count articles: %w", err)
	}
	return n, nil
}

func (ps *PostgresStore) FindBySourceURL(ctx context.Context, sourceURL string) (*news.Article, error) {
	return ps.getOne(ctx, sq.Eq{"source_url": sourceURL})
}

func (ps *PostgresStore) Get(ctx context.Context, id string) (*news.Article, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	return ps.getOne(ctx, sq.Eq{"id": id})
}

func (ps *PostgresStore) getOne(ctx context.Context, where sq.Sqlizer) (*news.Article, error) {
	query, args, err := psql.Select(articleColumns...).From("articles").Where(where).Limit(1).ToSql()
	if err != nil {
		return nil, err
	}
	a, err := scanArticle(ps.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get article: %w", err)
	}
	return a, nil
}

func (ps *PostgresStore) SlugExists(ctx context.Context, slug string) (bool, error) {
	query, args, err := psql.Select("1").From("articles").Where(sq.Eq{"slug": slug}).Limit(1).ToSql()
	if err != nil {
		return false, err
	}
	var one int
	err = ps.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check slug: %w", err)
	}
	return true, nil
}

// Create inserts with INSERT ON CONFLICT so that a concurrent run cannot
// store the same source URL twice
func (ps *PostgresStore) Create(ctx context.Context, a *news.Article) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	query, args, err := psql.Insert("articles").
		Columns(articleColumns...).
		Values(articleValues(a)...).
		Suffix("ON CONFLICT (source_url) DO NOTHING RETURNING id").
		ToSql()
	if err != nil {
		return err
	}

	var id string
	err = ps.db.QueryRowContext(ctx, query, args...).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ErrDuplicate
	case err != nil:
		return mapConstraintError(err)
	}
	return nil
}

func (ps *PostgresStore) Update(ctx context.Context, a *news.Article) error {
	a.UpdatedAt = time.Now().UTC()

	set := map[string]interface{}{}
	values := articleValues(a)
	for i, col := range articleColumns {
		if col == "id" || col == "created_at" {
			continue
		}
		set[col] = values[i]
	}

	query, args, err := psql.Update("articles").SetMap(set).Where(sq.Eq{"id": a.ID}).ToSql()
	if err != nil {
		return err
	}
	res, err := ps.db.ExecContext(ctx, query, args...)
	if err != nil {
		return mapConstraintError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (ps *PostgresStore) DeleteMany(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query, args, err := psql.Delete("articles").Where(sq.Eq{"id": ids}).ToSql()
	if err != nil {
		return 0, err
	}
	res, err := ps.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete articles: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (ps *PostgresStore) OldestNonFeatured(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	query, args, err := psql.Select("id").From("articles").
		Where(sq.Eq{"featured": false}).
		OrderBy("published_at ASC", "created_at ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := ps.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query eviction candidates: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (ps *PostgresStore) FindCategoryByName(ctx context.Context, name string) (*news.CategoryRecord, error) {
	query, args, err := psql.Select("id", "name", "slug").From("categories").
		Where("LOWER(name) = LOWER(?)", name).Limit(1).ToSql()
	if err != nil {
		return nil, err
	}
	var c news.CategoryRecord
	err = ps.db.QueryRowContext(ctx, query, args...).Scan(&c.ID, &c.Name, &c.Slug)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find category: %w", err)
	}
	return &c, nil
}

func (ps *PostgresStore) ListForEnhancement(ctx context.Context, limit int, force bool) ([]news.Article, error) {
	q := psql.Select(articleColumns...).From("articles").OrderBy("published_at DESC").Limit(uint64(limit))
	if !force {
		q = q.Where(sq.Eq{"ai_enhanced": false})
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := ps.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query backlog: %w", err)
	}
	defer rows.Close()

	var out []news.Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// TryLock takes a session advisory lock on a dedicated connection; the lock
// lives as long as that connection.
func (ps *PostgresStore) TryLock(ctx context.Context) (func(), bool, error) {
	conn, err := ps.db.Conn(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var ok bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", runLockKey).Scan(&ok); err != nil {
		_ = conn.Close()
		return nil, false, fmt.Errorf("advisory lock: %w", err)
	}
	if !ok {
		_ = conn.Close()
		return nil, false, nil
	}

	unlock := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", runLockKey); err != nil {
			ps.log.Error(err, "advisory unlock failed")
		}
		_ = conn.Close()
	}
	return unlock, true, nil
}

// Stats returns store statistics
func (ps *PostgresStore) Stats(ctx context.Context) (map[string]int, error) {
	stats := make(map[string]int)

	var total, featured, enhanced int
	err := ps.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE featured),
		       COUNT(*) FILTER (WHERE ai_enhanced)
		FROM articles`).Scan(&total, &featured, &enhanced)
	if err != nil {
		return nil, err
	}
	stats["total_items"] = total
	stats["featured_items"] = featured
	stats["enhanced_items"] = enhanced

	// Items by category
	rows, err := ps.db.QueryContext(ctx, `
		SELECT COALESCE(c.slug, 'none'), COUNT(*)
		FROM articles a LEFT JOIN categories c ON c.id = a.category_id
		GROUP BY 1`)
	if err == nil {
		defer rows.Close()
		for rows.Next() {
			var category string
			var count int
			if err := rows.Scan(&category, &count); err == nil {
				stats["category_"+category] = count
			}
		}
	}

	var cached int
	if err := ps.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM enhancement_cache WHERE expires_at > NOW()`).Scan(&cached); err == nil {
		stats["cached_enhancements"] = cached
	}

	return stats, nil
}

// GetEnhancement retrieves a cached provider result. Expired rows read as a miss.
func (ps *PostgresStore) GetEnhancement(ctx context.Context, contentHash string) (*EnhancementCacheItem, error) {
	var item EnhancementCacheItem
	var provider sql.NullString

	err := ps.db.QueryRowContext(ctx, `
		UPDATE enhancement_cache
		SET last_used_at = NOW(), use_count = use_count + 1
		WHERE content_hash = $1 AND expires_at > NOW()
		RETURNING content_hash, payload, ai_provider, created_at, expires_at, use_count
	`, contentHash).Scan(&item.ContentHash, &item.Payload, &provider, &item.CreatedAt, &item.ExpiresAt, &item.UseCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get enhancement from cache: %w", err)
	}
	item.AIProvider = provider.String
	return &item, nil
}

// SetEnhancement stores a provider result
func (ps *PostgresStore) SetEnhancement(ctx context.Context, item EnhancementCacheItem) error {
	query := `
		INSERT INTO enhancement_cache (content_hash, payload, ai_provider, created_at, expires_at, last_used_at, use_count)
		VALUES ($1, $2, $3, NOW(), $4, NOW(), 1)
		ON CONFLICT (content_hash) DO UPDATE SET
			payload = EXCLUDED.payload,
			ai_provider = EXCLUDED.ai_provider,
			expires_at = EXCLUDED.expires_at,
			last_used_at = NOW(),
			use_count = enhancement_cache.use_count + 1
	`
	if _, err := ps.db.ExecContext(ctx, query, item.ContentHash, item.Payload, item.AIProvider, item.ExpiresAt); err != nil {
		return fmt.Errorf("failed to set enhancement cache: %w", err)
	}
	return nil
}

// CleanupEnhancements removes expired cache rows
func (ps *PostgresStore) CleanupEnhancements(ctx context.Context) (int, error) {
	res, err := ps.db.ExecContext(ctx, `DELETE FROM enhancement_cache WHERE expires_at < NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		ps.log.V(1).Info("cleaned up expired enhancement cache rows", "rows", n)
	}
	return int(n), nil
}

// Close closes the database connection
func (ps *PostgresStore) Close() error {
	if ps.db != nil {
		return ps.db.Close()
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanArticle(row rowScanner) (*news.Article, error) {
	var a news.Article
	var category, sourceURL sql.NullString
	var label string
	err := row.Scan(
		&a.ID, &a.Slug, &a.Title, &a.Summary, &a.Content, &a.OriginalContent,
		&sourceURL, &a.SourceName, &a.ImageURL, &a.Status, &a.PublishedAt,
		&a.FromFeed, &a.AIEnhanced, &category, &a.ReliabilityScore,
		&label, &a.FactCheckNotes, &a.Featured, pq.Array(&a.Tags),
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if category.Valid {
		a.CategoryID = &category.String
	}
	a.SourceURL = sourceURL.String
	a.ReliabilityLabel = news.ReliabilityLabel(label)
	return &a, nil
}

// articleValues follows articleColumns order. Empty source URLs are stored
// as NULL so that manually created articles do not collide.
func articleValues(a *news.Article) []interface{} {
	var category, sourceURL interface{}
	if a.CategoryID != nil {
		category = *a.CategoryID
	}
	if a.SourceURL != "" {
		sourceURL = a.SourceURL
	}
	tags := a.Tags
	if tags == nil {
		tags = []string{}
	}
	return []interface{}{
		a.ID, a.Slug, a.Title, a.Summary, a.Content, a.OriginalContent,
		sourceURL, a.SourceName, a.ImageURL, a.Status, a.PublishedAt,
		a.FromFeed, a.AIEnhanced, category, a.ReliabilityScore,
		string(a.ReliabilityLabel), a.FactCheckNotes, a.Featured, pq.Array(tags),
		a.CreatedAt, a.UpdatedAt,
	}
}

// mapConstraintError turns unique violations into sentinel errors.
func mapConstraintError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		switch pqErr.Constraint {
		case "articles_slug_key":
			return ErrSlugTaken
		case "articles_source_url_key":
			return ErrDuplicate
		}
	}
	return fmt.Errorf("write article: %w", err)
}
