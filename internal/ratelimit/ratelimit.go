package ratelimit

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

// ErrLimitExceeded is returned by Use when a provider or the total budget is spent.
var ErrLimitExceeded = errors.New("AI rate limit exceeded")

// AIRateLimiter manages daily request budgets for all AI providers
type AIRateLimiter struct {
	mu          sync.Mutex
	counts      map[string]int
	limits      map[string]int // 0 or missing = unlimited
	totalCount  int
	maxTotal    int
	resetTime   time.Time
	tokensSaved int // Track how many tokens we saved via caching
	cacheHits   int
	cacheMisses int

	now func() time.Time
	log logr.Logger
}

// NewAIRateLimiter creates a new rate limiter with per-provider and total daily limits
func NewAIRateLimiter(limits map[string]int, maxTotal int, log logr.Logger) *AIRateLimiter {
	l := make(map[string]int, len(limits))
	for k, v := range limits {
		l[k] = v
	}
	rl := &AIRateLimiter{
		counts:   map[string]int{},
		limits:   l,
		maxTotal: maxTotal,
		now:      time.Now,
		log:      log,
	}
	rl.resetTime = rl.now().Add(24 * time.Hour) // Reset daily
	return rl
}

// Use records one request to provider, or refuses it when a budget is spent
func (rl *AIRateLimiter) Use(provider string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.checkReset()
	if err := rl.check(provider); err != nil {
		return err
	}

	rl.counts[provider]++
	rl.totalCount++
	rl.cacheMisses++

	rl.log.V(1).Info("AI usage", "provider", provider, "used", rl.counts[provider],
		"limit", rl.limits[provider], "total", rl.totalCount, "totalLimit", rl.maxTotal)
	return nil
}

func (rl *AIRateLimiter) check(provider string) error {
	if limit := rl.limits[provider]; limit > 0 && rl.counts[provider] >= limit {
		rl.log.Info("provider rate limit reached", "provider", provider, "used", rl.counts[provider], "limit", limit)
		return fmt.Errorf("%s: %w", provider, ErrLimitExceeded)
	}
	if rl.maxTotal > 0 && rl.totalCount >= rl.maxTotal {
		rl.log.Info("total AI rate limit reached", "used", rl.totalCount, "limit", rl.maxTotal)
		return fmt.Errorf("total: %w", ErrLimitExceeded)
	}
	return nil
}

// RecordCacheHit records when a cached result saved a provider call
func (rl *AIRateLimiter) RecordCacheHit(estimatedTokens int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.cacheHits++
	rl.tokensSaved += estimatedTokens

	rl.log.V(1).Info("enhancement cache hit", "tokensSaved", estimatedTokens,
		"totalSaved", rl.tokensSaved, "hitRate", rl.hitRate())
}

func (rl *AIRateLimiter) hitRate() float64 {
	total := rl.cacheHits + rl.cacheMisses
	if total == 0 {
		return 0
	}
	return float64(rl.cacheHits) / float64(total) * 100
}

// GetStats returns current rate limiter statistics
func (rl *AIRateLimiter) GetStats() map[string]interface{} {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.stats()
}

func (rl *AIRateLimiter) stats() map[string]interface{} {
	out := map[string]interface{}{
		"total_used":     rl.totalCount,
		"total_limit":    rl.maxTotal,
		"cache_hits":     rl.cacheHits,
		"cache_misses":   rl.cacheMisses,
		"cache_hit_rate": rl.hitRate(),
		"tokens_saved":   rl.tokensSaved,
		"reset_time":     rl.resetTime,
	}
	for _, name := range rl.providers() {
		out[name+"_used"] = rl.counts[name]
		out[name+"_limit"] = rl.limits[name]
	}
	return out
}

func (rl *AIRateLimiter) providers() []string {
	seen := map[string]struct{}{}
	for k := range rl.limits {
		seen[k] = struct{}{}
	}
	for k := range rl.counts {
		seen[k] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for k := range seen {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// LogStats logs current statistics
func (rl *AIRateLimiter) LogStats() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.logStats()
}

func (rl *AIRateLimiter) logStats() {
	kv := make([]interface{}, 0, 16)
	for _, name := range rl.providers() {
		kv = append(kv, name, fmt.Sprintf("%d/%d", rl.counts[name], rl.limits[name]))
	}
	kv = append(kv,
		"total", fmt.Sprintf("%d/%d", rl.totalCount, rl.maxTotal),
		"cacheHits", rl.cacheHits,
		"cacheMisses", rl.cacheMisses,
		"tokensSaved", rl.tokensSaved,
	)
	rl.log.Info("AI rate limiter statistics", kv...)
}

// checkReset resets counters if reset time has passed. Caller holds mu.
func (rl *AIRateLimiter) checkReset() {
	if !rl.now().After(rl.resetTime) {
		return
	}
	rl.log.Info("resetting AI rate limiter counters")
	rl.logStats() // final stats before reset

	rl.counts = map[string]int{}
	rl.totalCount = 0
	rl.cacheHits = 0
	rl.cacheMisses = 0
	rl.tokensSaved = 0
	rl.resetTime = rl.now().Add(24 * time.Hour)
}
