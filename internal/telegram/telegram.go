package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/deusflow/newspipe/internal/metrics"
	"github.com/deusflow/newspipe/internal/retry"
)

const (
	defaultAPIBase = "https://api.telegram.org"
	maxMessageLen  = 4000
)

// Notifier posts run reports to a chat or channel.
type Notifier struct {
	token   string
	chatID  string
	apiBase string
	client  *http.Client
	retry   retry.RetryConfig
	log     logr.Logger
}

func NewNotifier(token, chatID string, log logr.Logger) *Notifier {
	return &Notifier{
		token:   token,
		chatID:  chatID,
		apiBase: defaultAPIBase,
		client:  &http.Client{Timeout: 30 * time.Second},
		retry:   retry.RetryConfig{MaxAttempts: 3, Delay: 2 * time.Second, Backoff: true},
		log:     log,
	}
}

// WithAPIBase points the notifier at another Bot API host.
func (n *Notifier) WithAPIBase(base string) *Notifier {
	n.apiBase = strings.TrimRight(base, "/")
	return n
}

// SendMessage sends text message to Telegram chat/channel with retry logic
func (n *Notifier) SendMessage(ctx context.Context, text string) error {
	cfg := n.retry
	cfg.OnRetry = func(attempt int, err error) {
		n.log.Info("telegram send failed, retrying", "severity", "warn", "attempt", attempt, "error", err.Error())
	}
	err := retry.WithRetry(ctx, cfg, func() error {
		return n.sendMessageOnce(ctx, text)
	})
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	metrics.Global.IncrementReportsSent()
	return nil
}

// sendMessageOnce does one try to send message
func (n *Notifier) sendMessageOnce(ctx context.Context, text string) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", n.apiBase, n.token)

	payload := map[string]interface{}{
		"chat_id":                  n.chatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return retry.Permanent(fmt.Errorf("encode message: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("telegram API error: status %d", resp.StatusCode)
	default:
		return retry.Permanent(fmt.Errorf("telegram API error: status %d", resp.StatusCode))
	}
}

// FormatRunReport renders a short HTML report of one pipeline run.
func FormatRunReport(c metrics.RunCounts, took time.Duration, failures []string) string {
	var b strings.Builder
	b.WriteString("<b>newspipe</b> run finished\n")
	fmt.Fprintf(&b, "Candidates: %d\n", c.Seen)
	fmt.Fprintf(&b, "Saved: %d (enhanced %d)\n", c.Saved, c.Enhanced)
	fmt.Fprintf(&b, "Duplicates: %d, blocked: %d\n", c.Duplicates, c.Blocked)
	if c.Failed > 0 || c.SourceErrs > 0 {
		fmt.Fprintf(&b, "Failed items: %d, failed sources: %d\n", c.Failed, c.SourceErrs)
	}
	if c.Evicted > 0 {
		fmt.Fprintf(&b, "Evicted: %d\n", c.Evicted)
	}
	fmt.Fprintf(&b, "Duration: %s", took.Round(time.Second))

	for _, f := range failures {
		line := "\n• " + html.EscapeString(f)
		if b.Len()+len(line) > maxMessageLen {
			break
		}
		b.WriteString(line)
	}
	return b.String()
}
