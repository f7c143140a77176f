package rss

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"gopkg.in/yaml.v3"
)

// Priority is a source's fetch tier.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
)

// Per-run item quotas by tier.
const (
	highPriorityQuota   = 15
	normalPriorityQuota = 8
)

// FeedSource is one configured feed. Not persisted.
type FeedSource struct {
	ID       string   `yaml:"id"`
	Name     string   `yaml:"name"`
	FeedURL  string   `yaml:"feed_url"`
	BaseURL  string   `yaml:"base_url"`
	Priority Priority `yaml:"priority"`
}

// ItemQuota is the maximum number of items taken from this source per run.
func (s FeedSource) ItemQuota() int {
	if s.Priority == PriorityHigh {
		return highPriorityQuota
	}
	return normalPriorityQuota
}

// SourcesConfig is YAML config structure
//
//	sources:
//	  - id: midi
//	    name: Midi Madagasikara
//	    feed_url: https://...
//	    base_url: https://...
//	    priority: high
type SourcesConfig struct {
	Sources []FeedSource `yaml:"sources"`
}

// DefaultSources is used when no sources file is present.
func DefaultSources() []FeedSource {
	return []FeedSource{
		{ID: "midi", Name: "Midi Madagasikara", FeedURL: "https://midi-madagasikara.mg/feed/", BaseURL: "https://midi-madagasikara.mg", Priority: PriorityHigh},
		{ID: "newsmada", Name: "NewsMada", FeedURL: "https://www.newsmada.com/feed/", BaseURL: "https://www.newsmada.com", Priority: PriorityHigh},
		{ID: "lexpress", Name: "L'Express de Madagascar", FeedURL: "https://lexpress.mg/feed/", BaseURL: "https://lexpress.mg", Priority: PriorityHigh},
		{ID: "2424", Name: "2424.mg", FeedURL: "https://www.2424.mg/feed/", BaseURL: "https://www.2424.mg", Priority: PriorityNormal},
		{ID: "madagascar-tribune", Name: "Madagascar Tribune", FeedURL: "https://www.madagascar-tribune.com/spip.php?page=backend", BaseURL: "https://www.madagascar-tribune.com", Priority: PriorityNormal},
		{ID: "rfi-afrique", Name: "RFI Afrique", FeedURL: "https://www.rfi.fr/fr/afrique/rss", BaseURL: "https://www.rfi.fr", Priority: PriorityNormal},
	}
}

// LoadSources reads feed sources from YAML file. A missing file yields the
// built-in defaults; entries without a name or feed URL are skipped.
func LoadSources(path string, log logr.Logger) ([]FeedSource, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Info("sources file not found, using defaults", "path", path)
		return DefaultSources(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read sources %s: %w", path, err)
	}

	var cfg SourcesConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse sources %s: %w", path, err)
	}

	out := make([]FeedSource, 0, len(cfg.Sources))
	for i, s := range cfg.Sources {
		s.Name = strings.TrimSpace(s.Name)
		s.FeedURL = strings.TrimSpace(s.FeedURL)
		if s.Name == "" || s.FeedURL == "" {
			log.Info("skipping invalid source entry", "index", i)
			continue
		}
		if s.ID == "" {
			s.ID = strings.ToLower(strings.ReplaceAll(s.Name, " ", "-"))
		}
		if s.Priority != PriorityHigh {
			s.Priority = PriorityNormal
		}
		out = append(out, s)
	}
	return out, nil
}
