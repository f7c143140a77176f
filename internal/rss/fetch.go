package rss

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
)

const maxFeedBytes = 5 << 20

// FetchResult is the raw body of one source, or the reason it failed.
type FetchResult struct {
	Source FeedSource
	Body   []byte
	Err    error
}

// Fetcher downloads feed bodies with bounded concurrency.
type Fetcher struct {
	client      *http.Client
	userAgent   string
	concurrency int
	log         logr.Logger
}

// NewFetcher creates a fetcher. A nil client gets one with the given timeout.
func NewFetcher(client *http.Client, timeout time.Duration, userAgent string, concurrency int, log logr.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Fetcher{client: client, userAgent: userAgent, concurrency: concurrency, log: log}
}

// FetchAll downloads every source. Results keep the order of sources; a
// failing source only sets its own Err.
func (f *Fetcher) FetchAll(ctx context.Context, sources []FeedSource) []FetchResult {
	results := make([]FetchResult, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)
	for i, src := range sources {
		g.Go(func() error {
			body, err := f.Fetch(gctx, src)
			results[i] = FetchResult{Source: src, Body: body, Err: err}
			if err != nil {
				f.log.Info("feed fetch failed", "source", src.Name, "url", src.FeedURL, "error", err.Error())
				return nil
			}
			f.log.V(1).Info("feed fetched", "source", src.Name, "bytes", len(body))
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// Fetch issues one GET for the source's feed URL.
func (f *Fetcher) Fetch(ctx context.Context, src FeedSource) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.FeedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, */*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", src.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch %s: HTTP %d", src.Name, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", src.Name, err)
	}
	return body, nil
}
