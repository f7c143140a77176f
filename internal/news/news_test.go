package news

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deusflow/newspipe/internal/rss"
)

func TestIsBlocked(t *testing.T) {
	tests := []struct {
		name        string
		title, desc string
		want        bool
	}{
		{"french title", "Avis de DÉCÈS", "", true},
		{"french description", "Hommage", "La famille annonce les obsèques de son père", true},
		{"malagasy", "Fanambarana", "Nodimandry tamin'ny 3 jona", true},
		{"malagasy lower", "fahafatesana", "", true},
		{"ordinary", "Grève des enseignants à Antananarivo", "Les cours sont suspendus", false},
		{"bare word", "Décès d'un ancien maire", "", true},
		{"unaccented word", "Annonce de deces", "", true},
		{"malagasy word", "Maty ny mpamily", "", true},
		{"inside predecesseur", "Le predecesseur du ministre", "", false},
		{"inside prédécesseur", "Son prédécesseur a démissionné", "", false},
		{"ancestors", "Famadihana : hommage aux razana", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsBlocked(tt.title, tt.desc))
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		title, desc string
		want        Category
	}{
		{"Grève des enseignants à Antananarivo", "", CategorySociete},
		// priority beats secondary when both match
		{"Grève au port", "Le prix du riz et l'inflation inquiètent", CategorySociete},
		{"Le gouvernement adopte le budget", "", CategoryPolitique},
		{"Les Barea en finale", "Match décisif samedi", CategorySport},
		{"Transports urbains", "Nouvelles lignes de bus", CategoryActualite},
		{"L'agriculture en hausse", "", CategoryActualite},
		{"Visite à l'ONU", "", CategoryInternational},
		{"Un bonus pour tous", "", CategoryActualite},
		{"Cyclone attendu au nord", "", CategoryEnvironnement},
		{"Déploiement de la 5G", "", CategoryTechnologie},
		{"Fête au village", "", CategoryActualite},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.title, tt.desc))
		})
	}
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Société", DisplayName(CategorySociete))
	assert.Equal(t, "Économie", DisplayName(CategoryEconomie))
	assert.Equal(t, "Actualités", DisplayName(Category("unknown")))
}

func TestParseLabel(t *testing.T) {
	assert.Equal(t, LabelLikely, ParseLabel("likely"))
	assert.Equal(t, LabelUnverified, ParseLabel("certain"))
	assert.Equal(t, LabelUnverified, ParseLabel(""))
}

func TestBuildCandidatesDropsBlockedAndSorts(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	high := rss.FeedSource{ID: "a", Name: "A", Priority: rss.PriorityHigh}
	normal := rss.FeedSource{ID: "b", Name: "B", Priority: rss.PriorityNormal}

	batches := []SourceBatch{
		{Source: normal, Items: []rss.Item{
			{Title: "Festival de musique", Link: "https://b/1", Published: base.Add(3 * time.Hour)},
			{Title: "Condoléances", Link: "https://b/2", Published: base},
			{Title: "Le ministre parle", Link: "https://b/3", Published: base.Add(time.Hour)},
		}},
		{Source: high, Items: []rss.Item{
			{Title: "Grève", Link: "https://a/1", Published: base.Add(30 * time.Minute)},
			{Title: "Festival repris", Link: "https://b/1", Published: base.Add(4 * time.Hour)},
			{Title: "Concert", Link: "https://a/2", Published: base.Add(5 * time.Hour)},
		}},
	}

	got, stats := BuildCandidates(batches)
	assert.Equal(t, 1, stats.Blocked)
	assert.Equal(t, 1, stats.Duplicates)
	require.Len(t, got, 4)

	assert.Equal(t, "https://b/3", got[0].Link)
	assert.Equal(t, CategoryPolitique, got[0].Category)
	assert.Equal(t, "https://a/1", got[1].Link)
	assert.Equal(t, CategorySociete, got[1].Category)
	assert.Equal(t, "https://a/2", got[2].Link)
	assert.Equal(t, "https://b/1", got[3].Link)
	assert.Equal(t, "B", got[3].SourceName)
}

func TestSortCandidatesTierBreaksTimestampTies(t *testing.T) {
	ts := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	c := []Candidate{
		{Item: rss.Item{Link: "n", Published: ts}, Priority: rss.PriorityNormal, Category: CategorySport},
		{Item: rss.Item{Link: "h", Published: ts}, Priority: rss.PriorityHigh, Category: CategorySport},
	}
	SortCandidates(c)
	assert.Equal(t, "h", c[0].Link)
}
