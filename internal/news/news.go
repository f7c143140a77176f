package news

import (
	"regexp"
	"sort"
	"strings"

	"github.com/deusflow/newspipe/internal/rss"
)

// Obituary and death-notice terms, French then Malagasy.
var blockKeywords = []string{
	"nécrologie", "necrologie",
	"avis de décès", "avis de deces",
	"décédé", "décédée", "est décédé", "est décédée",
	"condoléances", "condoleances",
	"obsèques", "obseques",
	"funérailles", "funerailles",
	"inhumation", "veillée mortuaire", "levée du corps",
	"paix à son âme", "repose en paix",
	"nous a quittés", "nous a quittées",
	"faire-part",
	"fahafatesana", "nodimandry", "fandevenana",
	"famangiana", "fiaraha-miory", "fialan-tsasatra mandrakizay",
	"lasa nodimandry",
}

// Blocked only as whole words: "deces" sits inside "prédécesseur".
var blockWords = []string{"décès", "deces", "maty"}

// Priority categories, checked in this order before everything else.
var societeKeywords = []string{
	"grève", "greve", "gréviste", "manifestation", "syndicat", "enseignant",
	"éducation", "école", "lycée", "université", "étudiant", "santé", "hôpital",
	"insécurité", "dahalo", "délestage", "jirama", "coupure d'eau", "pauvreté",
	"famine", "kere", "social", "société", "fokontany",
}

var politiqueKeywords = []string{
	"politique", "gouvernement", "ministre", "président", "présidentielle",
	"assemblée nationale", "sénat", "sénateur", "député", "élection", "électoral",
	"ceni", "parti politique", "opposition", "premier ministre", "conseil des ministres",
}

type categoryKeywords struct {
	category Category
	keywords *keywordSet
}

// classifiers is evaluated top to bottom; the first match wins.
var classifiers = []categoryKeywords{
	{CategorySociete, newKeywordSet(societeKeywords)},
	{CategoryPolitique, newKeywordSet(politiqueKeywords)},
	{CategoryEconomie, newKeywordSet([]string{
		"économie", "économique", "ariary", "inflation", "fmi", "banque mondiale",
		"banque", "entreprise", "exportation", "importation", "vanille", "investissement",
		"budget", "croissance", "pib", "commerce", "carburant", "prix du riz",
	})},
	{CategorySport, newKeywordSet([]string{
		"football", "barea", "match", "championnat", "sportif", "sportive", "le sport", "du sport", "athlète", "basket",
		"rugby", "makis", "jeux des îles", "cosafa", "coupe du monde", "médaille",
	})},
	{CategoryCulture, newKeywordSet([]string{
		"la culture", "culturel", "musique", "concert", "festival", "artiste", "cinéma",
		"film", "littérature", "exposition", "patrimoine", "hira gasy", "spectacle",
	})},
	{CategoryInternational, newKeywordSet([]string{
		"international", "onu", "union africaine", "sadc", "diplomatie", "ambassade",
		"ambassadeur", "états-unis", "la chine", "chinois", "france", "russie", "ukraine",
	})},
	{CategoryEnvironnement, newKeywordSet([]string{
		"environnement", "climat", "climatique", "cyclone", "sécheresse", "forêt",
		"déforestation", "biodiversité", "lémurien", "pollution", "inondation",
		"aire protégée", "reboisement",
	})},
	{CategoryTechnologie, newKeywordSet([]string{
		"technologie", "numérique", "internet", "téléphonie", "startup",
		"intelligence artificielle", "digital", "innovation", "cybersécurité",
		"fibre optique", "4g", "5g",
	})},
}

var blocklist = newKeywordSet(blockKeywords).withWords(blockWords...)

// keywordSet distinguishes phrases and short words (avoids "onu" matching "bonus").
type keywordSet struct {
	substrings []string
	words      []*regexp.Regexp
}

func newKeywordSet(keywords []string) *keywordSet {
	ks := &keywordSet{}
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		// Short tokens (<=3) -> whole word match; phrases and longer words -> substring
		if !strings.Contains(k, " ") && len(k) <= 3 {
			ks.words = append(ks.words, wordPattern(k))
			continue
		}
		ks.substrings = append(ks.substrings, k)
	}
	return ks
}

// withWords adds keywords that only match as whole words.
func (ks *keywordSet) withWords(words ...string) *keywordSet {
	for _, w := range words {
		ks.words = append(ks.words, wordPattern(strings.ToLower(w)))
	}
	return ks
}

// wordPattern matches w between non-letters; \b is ASCII-only and splits
// accented words.
func wordPattern(w string) *regexp.Regexp {
	return regexp.MustCompile(`(?:^|[^\p{L}\p{N}])` + regexp.QuoteMeta(w) + `(?:[^\p{L}\p{N}]|$)`)
}

// matches expects lower-cased text.
func (ks *keywordSet) matches(text string) bool {
	for _, k := range ks.substrings {
		if strings.Contains(text, k) {
			return true
		}
	}
	for _, re := range ks.words {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// IsBlocked reports whether the item is an obituary or death notice.
func IsBlocked(title, description string) bool {
	return blocklist.matches(strings.ToLower(title + " " + description))
}

// Classify returns the first category whose keywords match, or actualite.
func Classify(title, description string) Category {
	text := strings.ToLower(title + " " + description)
	for _, c := range classifiers {
		if c.keywords.matches(text) {
			return c.category
		}
	}
	return CategoryActualite
}

// SourceBatch is the parsed output of one source.
type SourceBatch struct {
	Source rss.FeedSource
	Items  []rss.Item
}

// BuildStats counts what BuildCandidates dropped.
type BuildStats struct {
	Blocked    int
	Duplicates int // same link seen earlier in this run
}

// BuildCandidates merges all batches, drops blocked items and repeated links,
// classifies the rest and returns them sorted.
func BuildCandidates(batches []SourceBatch) ([]Candidate, BuildStats) {
	var stats BuildStats
	seenLinks := map[string]struct{}{}
	var candidates []Candidate

	for _, b := range batches {
		for _, item := range b.Items {
			if IsBlocked(item.Title, item.Description) {
				stats.Blocked++
				continue
			}
			if _, dup := seenLinks[item.Link]; dup {
				stats.Duplicates++
				continue
			}
			seenLinks[item.Link] = struct{}{}

			candidates = append(candidates, Candidate{
				Item:       item,
				SourceID:   b.Source.ID,
				SourceName: b.Source.Name,
				Priority:   b.Source.Priority,
				Category:   Classify(item.Title, item.Description),
			})
		}
	}

	SortCandidates(candidates)
	return candidates, stats
}

// SortCandidates puts priority categories first, then newer items first.
// Equal timestamps fall back to the source tier.
func SortCandidates(c []Candidate) {
	sort.SliceStable(c, func(i, j int) bool {
		pi, pj := c[i].Category.IsPriority(), c[j].Category.IsPriority()
		if pi != pj {
			return pi
		}
		if !c[i].Published.Equal(c[j].Published) {
			return c[i].Published.After(c[j].Published)
		}
		return c[i].Priority == rss.PriorityHigh && c[j].Priority != rss.PriorityHigh
	})
}
