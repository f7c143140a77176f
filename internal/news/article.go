package news

import (
	"time"

	"github.com/deusflow/newspipe/internal/rss"
)

// Category is the slug of an editorial category.
type Category string

const (
	CategorySociete       Category = "societe"
	CategoryPolitique     Category = "politique"
	CategoryEconomie      Category = "economie"
	CategorySport         Category = "sport"
	CategoryCulture       Category = "culture"
	CategoryInternational Category = "international"
	CategoryEnvironnement Category = "environnement"
	CategoryTechnologie   Category = "technologie"
	CategoryActualite     Category = "actualite"
)

var displayNames = map[Category]string{
	CategorySociete:       "Société",
	CategoryPolitique:     "Politique",
	CategoryEconomie:      "Économie",
	CategorySport:         "Sport",
	CategoryCulture:       "Culture",
	CategoryInternational: "International",
	CategoryEnvironnement: "Environnement",
	CategoryTechnologie:   "Technologie",
	CategoryActualite:     "Actualités",
}

// DisplayName is the name under which the category record is stored.
func DisplayName(c Category) string {
	if n, ok := displayNames[c]; ok {
		return n
	}
	return displayNames[CategoryActualite]
}

// IsPriority reports whether c sorts ahead of every other category.
func (c Category) IsPriority() bool {
	return c == CategorySociete || c == CategoryPolitique
}

// ReliabilityLabel grades how well an article's claims hold up.
type ReliabilityLabel string

const (
	LabelVerified   ReliabilityLabel = "verified"
	LabelLikely     ReliabilityLabel = "likely"
	LabelUnverified ReliabilityLabel = "unverified"
	LabelDisputed   ReliabilityLabel = "disputed"
)

// ParseLabel maps free text to a label; anything unknown is unverified.
func ParseLabel(s string) ReliabilityLabel {
	switch l := ReliabilityLabel(s); l {
	case LabelVerified, LabelLikely, LabelUnverified, LabelDisputed:
		return l
	}
	return LabelUnverified
}

// Neutral reliability values for articles that were never enhanced.
const (
	NeutralScore = 50
	NeutralLabel = LabelUnverified
)

// Article statuses.
const (
	StatusPublished = "published"
	StatusDraft     = "draft"
)

// Candidate is a parsed and classified feed item within one run.
type Candidate struct {
	rss.Item
	SourceID   string
	SourceName string
	Priority   rss.Priority
	Category   Category
}

// Enhanced is a provider rewrite of an article.
type Enhanced struct {
	Title            string
	Summary          string
	Content          string
	Tags             []string
	ReliabilityScore int
	ReliabilityLabel ReliabilityLabel
	FactCheckNotes   string
	Provider         string
}

// CategoryRecord is a stored category row. This pipeline never creates one.
type CategoryRecord struct {
	ID   string
	Name string
	Slug string
}

// Article is the durable entity.
type Article struct {
	ID               string
	Slug             string
	Title            string
	Summary          string
	Content          string
	OriginalContent  string
	SourceURL        string
	SourceName       string
	ImageURL         string
	Status           string
	PublishedAt      time.Time
	FromFeed         bool
	AIEnhanced       bool
	CategoryID       *string
	ReliabilityScore int
	ReliabilityLabel ReliabilityLabel
	FactCheckNotes   string
	Featured         bool
	Tags             []string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
