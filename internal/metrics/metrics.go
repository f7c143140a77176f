package metrics

import (
	"sync"
	"time"
)

type Metrics struct {
	mu sync.RWMutex

	// Counters
	Runs              int64
	ItemsSeen         int64
	ArticlesSaved     int64
	ArticlesEnhanced  int64
	ItemsFailed       int64
	DuplicatesSkipped int64
	BlockedFiltered   int64
	ArticlesEvicted   int64
	SourcesFailed     int64
	ReportsSent       int64

	// Timings
	LastProcessingTime    time.Duration
	AverageProcessingTime time.Duration
	TotalProcessingTime   time.Duration
	ProcessingCount       int64

	// Status
	LastRunTime   time.Time
	LastErrorTime time.Time
	LastError     string
	IsHealthy     bool
}

var Global = &Metrics{IsHealthy: true}

// RunCounts carries the totals of one pipeline run.
type RunCounts struct {
	Seen       int
	Saved      int
	Enhanced   int
	Failed     int
	Duplicates int
	Blocked    int
	Evicted    int
	SourceErrs int
}

func (m *Metrics) RecordRun(c RunCounts) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Runs++
	m.ItemsSeen += int64(c.Seen)
	m.ArticlesSaved += int64(c.Saved)
	m.ArticlesEnhanced += int64(c.Enhanced)
	m.ItemsFailed += int64(c.Failed)
	m.DuplicatesSkipped += int64(c.Duplicates)
	m.BlockedFiltered += int64(c.Blocked)
	m.ArticlesEvicted += int64(c.Evicted)
	m.SourcesFailed += int64(c.SourceErrs)
}

func (m *Metrics) IncrementEnhanced() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ArticlesEnhanced++
}

func (m *Metrics) IncrementReportsSent() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReportsSent++
}

func (m *Metrics) RecordProcessingTime(duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.LastProcessingTime = duration
	m.TotalProcessingTime += duration
	m.ProcessingCount++

	if m.ProcessingCount > 0 {
		m.AverageProcessingTime = m.TotalProcessingTime / time.Duration(m.ProcessingCount)
	}
}

func (m *Metrics) SetLastRun() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastRunTime = time.Now()
	m.IsHealthy = true
}

func (m *Metrics) SetError(err string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastError = err
	m.LastErrorTime = time.Now()
	m.IsHealthy = false
}

func (m *Metrics) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.IsHealthy
}

func (m *Metrics) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"runs":                       m.Runs,
		"items_seen":                 m.ItemsSeen,
		"articles_saved":             m.ArticlesSaved,
		"articles_enhanced":          m.ArticlesEnhanced,
		"items_failed":               m.ItemsFailed,
		"duplicates_skipped":         m.DuplicatesSkipped,
		"blocked_filtered":           m.BlockedFiltered,
		"articles_evicted":           m.ArticlesEvicted,
		"sources_failed":             m.SourcesFailed,
		"reports_sent":               m.ReportsSent,
		"last_processing_time_ms":    m.LastProcessingTime.Milliseconds(),
		"average_processing_time_ms": m.AverageProcessingTime.Milliseconds(),
		"last_run_time":              formatTime(m.LastRunTime),
		"last_error_time":            formatTime(m.LastErrorTime),
		"last_error":                 m.LastError,
		"is_healthy":                 m.IsHealthy,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
