package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deusflow/newspipe/internal/metrics"
)

func fastNotifier(srvURL string) *Notifier {
	n := NewNotifier("TOKEN", "@chan", logr.Discard()).WithAPIBase(srvURL)
	n.retry.Delay = time.Millisecond
	return n
}

func TestSendMessagePostsPayload(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, fastNotifier(srv.URL).SendMessage(context.Background(), "<b>hi</b>"))
	assert.Equal(t, "@chan", got["chat_id"])
	assert.Equal(t, "HTML", got["parse_mode"])
	assert.Equal(t, "<b>hi</b>", got["text"])
}

func TestSendMessageRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, fastNotifier(srv.URL).SendMessage(context.Background(), "report"))
	assert.Equal(t, int32(3), calls.Load())
}

func TestSendMessageDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	err := fastNotifier(srv.URL).SendMessage(context.Background(), "report")
	assert.ErrorContains(t, err, "status 400")
	assert.Equal(t, int32(1), calls.Load())
}

func TestFormatRunReport(t *testing.T) {
	text := FormatRunReport(metrics.RunCounts{Seen: 12, Saved: 4, Enhanced: 3, Duplicates: 7, Blocked: 1, Failed: 1}, 95*time.Second, []string{"Grève <JIRAMA>"})
	assert.Contains(t, text, "Saved: 4 (enhanced 3)")
	assert.Contains(t, text, "Duplicates: 7, blocked: 1")
	assert.Contains(t, text, "Failed items: 1")
	assert.Contains(t, text, "Grève &lt;JIRAMA&gt;")
	assert.Contains(t, text, "1m35s")
	assert.NotContains(t, text, "Evicted")
}
