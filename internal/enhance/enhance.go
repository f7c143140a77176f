package enhance

import (
	"context"
	"fmt"
	"iter"
	"time"
	"unicode/utf8"

	"github.com/go-logr/logr"

	"github.com/deusflow/newspipe/internal/cache"
	"github.com/deusflow/newspipe/internal/news"
)

// Request is what the orchestrator needs to rewrite one article.
type Request struct {
	Title      string
	Summary    string
	Category   news.Category
	SourceName string
	SourceURL  string
}

// FullTexter fetches the plain text of an article page.
type FullTexter interface {
	FullText(ctx context.Context, url string) (string, error)
}

// Limiter is the daily request budget shared by all providers.
type Limiter interface {
	Use(provider string) error
	RecordCacheHit(estimatedTokens int)
}

// Options configures an Orchestrator. Nil collaborators are skipped.
type Options struct {
	FullText        FullTexter
	Limiter         Limiter
	Cache           ResultCache
	CacheTTL        time.Duration
	ProviderTimeout time.Duration
	Log             logr.Logger
}

// Orchestrator tries providers in order and returns the first valid result.
type Orchestrator struct {
	providers []Provider
	opts      Options
	log       logr.Logger
}

func New(providers []Provider, opts Options) *Orchestrator {
	return &Orchestrator{providers: providers, opts: opts, log: opts.Log}
}

// Providers returns provider names in try order.
func (o *Orchestrator) Providers() []string {
	names := make([]string, len(o.providers))
	for i, p := range o.providers {
		names[i] = p.Name()
	}
	return names
}

// Prune removes expired entries from the result cache when it supports bulk
// removal.
func (o *Orchestrator) Prune(ctx context.Context) (int, error) {
	p, ok := o.opts.Cache.(Pruner)
	if !ok {
		return 0, nil
	}
	return p.Prune(ctx)
}

// Enhance returns the rewritten article, or nil when no provider produced a
// valid result. A nil result is the degraded mode, not an error.
func (o *Orchestrator) Enhance(ctx context.Context, req Request) (*news.Enhanced, []Attempt) {
	if len(o.providers) == 0 {
		return nil, nil
	}

	key := cache.GenerateKey(req.Title, req.Summary, req.SourceURL)
	if o.opts.Cache != nil {
		if hit, ok := o.opts.Cache.Get(ctx, key); ok {
			if o.opts.Limiter != nil {
				o.opts.Limiter.RecordCacheHit(estimateTokens(req))
			}
			o.log.V(1).Info("enhancement served from cache", "title", req.Title)
			return hit, nil
		}
	}

	prompt := BuildPrompt(req, o.sourceText(ctx, req))
	result, attempts := FirstSuccess(o.attempts(ctx, prompt))

	for _, a := range attempts {
		if a.Err != nil {
			o.log.Info("provider attempt failed", "provider", a.Provider, "title", req.Title, "reason", a.Err.Error())
		}
	}
	if result == nil {
		o.log.Info("all providers failed, keeping feed text", "title", req.Title, "attempts", len(attempts))
		return nil, attempts
	}

	if o.opts.Cache != nil {
		o.opts.Cache.Set(ctx, key, result, o.opts.CacheTTL)
	}
	return result, attempts
}

// attempts lazily calls each provider in order; a consumer that stops early
// prevents the remaining calls.
func (o *Orchestrator) attempts(ctx context.Context, prompt string) iter.Seq[Attempt] {
	return func(yield func(Attempt) bool) {
		for _, p := range o.providers {
			if ctx.Err() != nil {
				return
			}
			if !yield(o.try(ctx, p, prompt)) {
				return
			}
		}
	}
}

func (o *Orchestrator) try(ctx context.Context, p Provider, prompt string) Attempt {
	name := p.Name()
	if o.opts.Limiter != nil {
		if err := o.opts.Limiter.Use(name); err != nil {
			return Attempt{Provider: name, Err: fmt.Errorf("%w: %v", ErrQuotaExhausted, err)}
		}
	}

	callCtx := ctx
	if o.opts.ProviderTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, o.opts.ProviderTimeout)
		defer cancel()
	}

	text, err := p.Generate(callCtx, prompt)
	if err != nil {
		return Attempt{Provider: name, Err: err}
	}
	result, err := ParseOutput(text)
	if err != nil {
		return Attempt{Provider: name, Err: err}
	}
	result.Provider = name
	return Attempt{Provider: name, Result: result}
}

// sourceText prefers the page's full text when it is longer than the summary.
func (o *Orchestrator) sourceText(ctx context.Context, req Request) string {
	if req.SourceURL != "" && o.opts.FullText != nil {
		full, err := o.opts.FullText.FullText(ctx, req.SourceURL)
		if err != nil {
			o.log.V(1).Info("full text unavailable", "url", req.SourceURL, "error", err.Error())
		} else if utf8.RuneCountInString(full) > utf8.RuneCountInString(req.Summary) {
			return full
		}
	}
	if req.Summary != "" {
		return req.Summary
	}
	return req.Title
}

// roughly 4 characters per token for prompt plus answer
func estimateTokens(req Request) int {
	return (len(req.Title)+len(req.Summary))/4 + 800
}
