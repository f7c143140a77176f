// Package app sequences pipeline runs: retention, fetch, classify, enhance
// and persist.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/deusflow/newspipe/internal/enhance"
	"github.com/deusflow/newspipe/internal/metrics"
	"github.com/deusflow/newspipe/internal/news"
	"github.com/deusflow/newspipe/internal/persist"
	"github.com/deusflow/newspipe/internal/ratelimit"
	"github.com/deusflow/newspipe/internal/retention"
	"github.com/deusflow/newspipe/internal/rss"
	"github.com/deusflow/newspipe/internal/scraper"
	"github.com/deusflow/newspipe/internal/storage"
	"github.com/deusflow/newspipe/internal/telegram"
)

var (
	ErrStoreUnavailable = errors.New("article store unavailable")
	ErrRunInProgress    = errors.New("pipeline run already in progress")
)

// Per-item statuses reported in Detail.
const (
	StatusEnhanced  = "enhanced"
	StatusSaved     = "saved"
	StatusDuplicate = "duplicate"
	StatusFailed    = "failed"
)

const (
	maxTitleRunes       = 60
	DefaultBacklogLimit = 10
	MaxBacklogLimit     = 50
)

// FeedFetcher downloads feed bodies.
type FeedFetcher interface {
	FetchAll(ctx context.Context, sources []rss.FeedSource) []rss.FetchResult
}

// Enhancer rewrites one article, or returns nil when no provider succeeded.
type Enhancer interface {
	Enhance(ctx context.Context, req enhance.Request) (*news.Enhanced, []enhance.Attempt)
}

// Notifier receives run reports.
type Notifier interface {
	SendMessage(ctx context.Context, text string) error
}

// Detail is the outcome of one candidate or backlog item.
type Detail struct {
	ID     string `json:"id,omitempty"`
	Title  string `json:"title"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Summary is the structured result of a run, returned to the trigger caller.
type Summary struct {
	Success       bool     `json:"success"`
	Message       string   `json:"message"`
	Saved         int      `json:"saved"`
	Enhanced      int      `json:"enhanced"`
	Failed        int      `json:"failed"`
	Duplicates    int      `json:"duplicates"`
	Blocked       int      `json:"blocked"`
	Total         int      `json:"total"`
	Evicted       int      `json:"evicted"`
	SourcesFailed int      `json:"sourcesFailed"`
	Details       []Detail `json:"details"`
	DurationMS    int64    `json:"duration"`
	Timestamp     string   `json:"timestamp"`
}

func (s *Summary) add(d Detail) {
	switch d.Status {
	case StatusEnhanced:
		s.Enhanced++
		s.Saved++
	case StatusSaved:
		s.Saved++
	case StatusDuplicate:
		s.Duplicates++
	case StatusFailed:
		s.Failed++
	}
	s.Details = append(s.Details, d)
}

// Deps are the collaborators of an App. Enhancer, Notifier, Retention and
// Quotas may be nil.
type Deps struct {
	Store     storage.ArticleStore
	Sources   []rss.FeedSource
	Fetcher   FeedFetcher
	Enhancer  Enhancer
	Retention *retention.Manager
	Notifier  Notifier
	Quotas    *ratelimit.AIRateLimiter
}

type Options struct {
	EnhanceDelay time.Duration
	Backlog      enhance.Backlog
	Log          logr.Logger
}

type App struct {
	store     storage.ArticleStore
	sources   []rss.FeedSource
	fetcher   FeedFetcher
	enhancer  Enhancer
	retention *retention.Manager
	notifier  Notifier
	quotas    *ratelimit.AIRateLimiter
	gateway   *persist.Gateway
	opts      Options
	log       logr.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)
}

func New(deps Deps, opts Options) *App {
	return &App{
		store:     deps.Store,
		sources:   deps.Sources,
		fetcher:   deps.Fetcher,
		enhancer:  deps.Enhancer,
		retention: deps.Retention,
		notifier:  deps.Notifier,
		quotas:    deps.Quotas,
		gateway:   persist.NewGateway(deps.Store, opts.Log.WithName("persist")),
		opts:      opts,
		log:       opts.Log,
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

// Run performs one full ingestion. Per-item problems are reported inside the
// summary; an error means no summary could be produced.
func (a *App) Run(ctx context.Context) (*Summary, error) {
	start := a.now()

	unlock, err := a.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	s := &Summary{Success: true, Details: []Detail{}}
	a.gateway.ForgetCategories()

	if a.retention != nil {
		res, err := a.retention.Enforce(ctx)
		if err != nil {
			a.log.Error(err, "retention pass failed, continuing ingestion")
		}
		s.Evicted = res.Deleted
	}

	batches, sourcesFailed := a.collect(ctx)
	s.SourcesFailed = sourcesFailed

	candidates, stats := news.BuildCandidates(batches)
	s.Blocked = stats.Blocked
	s.Duplicates = stats.Duplicates
	s.Total = len(candidates)
	a.log.Info("candidates ready", "candidates", len(candidates), "blocked", stats.Blocked, "sourcesFailed", sourcesFailed)

	var failures []string
	for i, c := range candidates {
		if ctx.Err() != nil {
			s.Success = false
			s.Message = fmt.Sprintf("run interrupted after %d of %d candidates: %v", i, len(candidates), ctx.Err())
			break
		}

		d := a.processCandidate(ctx, c)
		s.add(d)
		if d.Status == StatusFailed {
			failures = append(failures, d.Title+": "+d.Error)
		}
		if d.Status == StatusEnhanced && a.opts.EnhanceDelay > 0 && i < len(candidates)-1 {
			a.sleep(ctx, a.opts.EnhanceDelay)
		}
	}

	if s.Message == "" {
		s.Message = fmt.Sprintf("%d saved (%d enhanced), %d duplicates, %d blocked, %d failed",
			s.Saved, s.Enhanced, s.Duplicates, s.Blocked, s.Failed)
	}
	a.finish(ctx, s, start, failures)
	return s, nil
}

// begin checks the store and takes the single-flight guard.
func (a *App) begin(ctx context.Context) (func(), error) {
	if err := a.store.Ping(ctx); err != nil {
		metrics.Global.SetError(err.Error())
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	unlock, ok, err := a.store.TryLock(ctx)
	if err != nil {
		metrics.Global.SetError(err.Error())
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !ok {
		return nil, ErrRunInProgress
	}
	return unlock, nil
}

func (a *App) collect(ctx context.Context) ([]news.SourceBatch, int) {
	results := a.fetcher.FetchAll(ctx, a.sources)
	now := a.now()

	var batches []news.SourceBatch
	sourcesFailed := 0
	for _, r := range results {
		if r.Err != nil {
			sourcesFailed++
			continue
		}
		items, discarded := rss.ParseItems(r.Body, r.Source, now)
		if discarded > 0 {
			a.log.V(1).Info("items discarded", "source", r.Source.Name, "discarded", discarded)
		}
		batches = append(batches, news.SourceBatch{Source: r.Source, Items: items})
	}
	return batches, sourcesFailed
}

func (a *App) processCandidate(ctx context.Context, c news.Candidate) (d Detail) {
	d = Detail{Title: scraper.Truncate(c.Title, maxTitleRunes)}
	defer func() {
		if r := recover(); r != nil {
			a.log.Error(fmt.Errorf("panic: %v", r), "candidate processing panicked", "link", c.Link)
			d.Status = StatusFailed
			d.Error = fmt.Sprintf("panic: %v", r)
		}
	}()

	dup, err := a.gateway.IsDuplicate(ctx, c.Link)
	if err != nil {
		return failed(d, err)
	}
	if dup {
		d.Status = StatusDuplicate
		return d
	}

	var e *news.Enhanced
	if a.enhancer != nil {
		e, _ = a.enhancer.Enhance(ctx, enhance.Request{
			Title:      c.Title,
			Summary:    c.Description,
			Category:   c.Category,
			SourceName: c.SourceName,
			SourceURL:  c.Link,
		})
	}

	art, err := a.gateway.Save(ctx, c, e)
	if errors.Is(err, storage.ErrDuplicate) {
		d.Status = StatusDuplicate
		return d
	}
	if err != nil {
		return failed(d, err)
	}

	d.ID = art.ID
	d.Title = scraper.Truncate(art.Title, maxTitleRunes)
	d.Status = StatusSaved
	if art.AIEnhanced {
		d.Status = StatusEnhanced
	}
	return d
}

func failed(d Detail, err error) Detail {
	d.Status = StatusFailed
	d.Error = err.Error()
	return d
}

func (a *App) finish(ctx context.Context, s *Summary, start time.Time, failures []string) {
	took := a.now().Sub(start)
	s.DurationMS = took.Milliseconds()
	s.Timestamp = a.now().UTC().Format(time.RFC3339)

	counts := metrics.RunCounts{
		Seen:       s.Total,
		Saved:      s.Saved,
		Enhanced:   s.Enhanced,
		Failed:     s.Failed,
		Duplicates: s.Duplicates,
		Blocked:    s.Blocked,
		Evicted:    s.Evicted,
		SourceErrs: s.SourcesFailed,
	}
	metrics.Global.RecordRun(counts)
	metrics.Global.RecordProcessingTime(took)
	metrics.Global.SetLastRun()

	a.maintain(ctx)

	a.log.Info("run finished", "saved", s.Saved, "enhanced", s.Enhanced, "duplicates", s.Duplicates,
		"blocked", s.Blocked, "failed", s.Failed, "evicted", s.Evicted, "durationMs", s.DurationMS)

	if a.notifier != nil && (s.Saved > 0 || s.Failed > 0) {
		if err := a.notifier.SendMessage(ctx, telegram.FormatRunReport(counts, took, failures)); err != nil {
			a.log.Error(err, "run report not delivered")
		}
	}
}

// maintain prunes expired enhancement results and logs quota usage.
func (a *App) maintain(ctx context.Context) {
	if p, ok := a.enhancer.(enhance.Pruner); ok {
		n, err := p.Prune(ctx)
		if err != nil {
			a.log.Error(err, "enhancement cache prune failed")
		} else if n > 0 {
			a.log.V(1).Info("expired enhancement results pruned", "entries", n)
		}
	}
	if a.quotas != nil {
		a.quotas.LogStats()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
