package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/deusflow/newspipe/internal/enhance"
	"github.com/deusflow/newspipe/internal/metrics"
	"github.com/deusflow/newspipe/internal/news"
	"github.com/deusflow/newspipe/internal/scraper"
)

var errNotEnhanced = errors.New("no provider produced a valid result")

// NormalizeBacklogLimit applies the default and the hard maximum.
func NormalizeBacklogLimit(limit int) int {
	if limit <= 0 {
		return DefaultBacklogLimit
	}
	return min(limit, MaxBacklogLimit)
}

// EnhanceBacklog rewrites stored articles that were saved without
// enhancement, or all recent ones when force is set. Slugs are never changed
// and original content is only filled when it was empty.
func (a *App) EnhanceBacklog(ctx context.Context, limit int, force bool) (*Summary, error) {
	start := a.now()

	unlock, err := a.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	s := &Summary{Success: true, Details: []Detail{}}
	if a.enhancer == nil {
		s.Success = false
		s.Message = "no enhancement provider configured"
		a.stamp(s, start)
		return s, nil
	}

	articles, err := a.store.ListForEnhancement(ctx, NormalizeBacklogLimit(limit), force)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	s.Total = len(articles)

	errs := enhance.Process(ctx, a.opts.Backlog, articles, func(ctx context.Context, art news.Article) error {
		return a.enhanceStored(ctx, art)
	})
	for i, art := range articles {
		d := Detail{ID: art.ID, Title: scraper.Truncate(art.Title, maxTitleRunes), Status: StatusEnhanced}
		if errs[i] != nil {
			d = failed(d, errs[i])
		}
		s.add(d)
	}
	// backlog updates rows, it does not save new ones
	s.Saved = 0
	s.Message = fmt.Sprintf("%d of %d articles enhanced", s.Enhanced, s.Total)

	for range s.Enhanced {
		metrics.Global.IncrementEnhanced()
	}
	a.stamp(s, start)
	a.log.Info("backlog finished", "enhanced", s.Enhanced, "failed", s.Failed, "total", s.Total, "force", force)
	return s, nil
}

func (a *App) enhanceStored(ctx context.Context, art news.Article) error {
	e, _ := a.enhancer.Enhance(ctx, enhance.Request{
		Title:      art.Title,
		Summary:    art.Summary,
		Category:   news.Classify(art.Title, art.Summary),
		SourceName: art.SourceName,
		SourceURL:  art.SourceURL,
	})
	if e == nil {
		return errNotEnhanced
	}

	if art.OriginalContent == "" {
		art.OriginalContent = art.Content
	}
	art.Title = firstNonEmpty(e.Title, art.Title)
	art.Summary = firstNonEmpty(e.Summary, art.Summary)
	art.Content = firstNonEmpty(e.Content, art.Content)
	art.Tags = e.Tags
	art.ReliabilityScore = e.ReliabilityScore
	art.ReliabilityLabel = e.ReliabilityLabel
	art.FactCheckNotes = e.FactCheckNotes
	art.AIEnhanced = true

	if err := a.store.Update(ctx, &art); err != nil {
		return fmt.Errorf("update %s: %w", art.ID, err)
	}
	return nil
}

func (a *App) stamp(s *Summary, start time.Time) {
	s.DurationMS = a.now().Sub(start).Milliseconds()
	s.Timestamp = a.now().UTC().Format(time.RFC3339)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
