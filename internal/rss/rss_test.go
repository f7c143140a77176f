package rss

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:media="http://search.yahoo.com/mrss/" xmlns:content="http://purl.org/rss/1.0/modules/content/">
<channel>
  <title>Test</title>
  <item>
    <title>Grève des enseignants &amp; parents</title>
    <link>https://x.mg/a1</link>
    <description><![CDATA[<p>Les <b>enseignants</b> en grève.</p>]]></description>
    <pubDate>Mon, 02 Jun 2025 08:00:00 +0300</pubDate>
    <enclosure url="https://x.mg/img/a1.jpg" type="image/jpeg" length="100"/>
  </item>
  <item>
    <title>Media item</title>
    <link>https://x.mg/a2</link>
    <description>Texte</description>
    <media:content url="https://x.mg/img/a2.png" medium="image"/>
  </item>
  <item>
    <title>Inline image</title>
    <link>https://x.mg/a3</link>
    <description><![CDATA[<p><img src="/uploads/a3.webp"/> Corps</p>]]></description>
  </item>
  <item>
    <title></title>
    <link>https://x.mg/no-title</link>
  </item>
  <item>
    <title>No link</title>
  </item>
</channel>
</rss>`

func TestParseItemsRSS(t *testing.T) {
	now := time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)
	src := FeedSource{Name: "X", FeedURL: "https://x.mg/feed", BaseURL: "https://x.mg", Priority: PriorityHigh}

	items, discarded := ParseItems([]byte(sampleRSS), src, now)
	require.Len(t, items, 3)
	assert.Equal(t, 2, discarded)

	assert.Equal(t, "Grève des enseignants & parents", items[0].Title)
	assert.Equal(t, "Les enseignants en grève.", items[0].Description)
	assert.Equal(t, "https://x.mg/img/a1.jpg", items[0].ImageURL)
	assert.True(t, items[0].Published.Equal(time.Date(2025, 6, 2, 5, 0, 0, 0, time.UTC)))

	assert.Equal(t, "https://x.mg/img/a2.png", items[1].ImageURL)
	assert.Equal(t, now, items[1].Published)

	assert.Equal(t, "https://x.mg/uploads/a3.webp", items[2].ImageURL)
	assert.Equal(t, "Corps", items[2].Description)
}

func TestParseItemsAtom(t *testing.T) {
	atom := `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Atom</title>
  <entry>
    <title>Entrée atom</title>
    <link href="https://y.mg/e1"/>
    <summary>Résumé</summary>
    <updated>2025-06-01T10:00:00Z</updated>
  </entry>
</feed>`
	items, discarded := ParseItems([]byte(atom), FeedSource{Name: "Y", FeedURL: "https://y.mg/atom"}, time.Now())
	require.Len(t, items, 1)
	assert.Zero(t, discarded)
	assert.Equal(t, "https://y.mg/e1", items[0].Link)
	assert.Equal(t, "Résumé", items[0].Description)
	assert.Equal(t, 2025, items[0].Published.Year())
}

func TestParseItemsRegexFallback(t *testing.T) {
	// not a recognisable feed document, so gofeed refuses it
	broken := `<html><body>
<item><title><![CDATA[Titre &eacute;trange]]></title><link>https://z.mg/1</link>
<description><![CDATA[<img src="https://z.mg/i.jpg"> Texte <em>riche</em>]]></description>
<pubDate>Tue, 03 Jun 2025 10:00:00 +0000</pubDate></item>
<item><title>Sans lien</title></item>
</body></html>`
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	items, discarded := ParseItems([]byte(broken), FeedSource{Name: "Z", FeedURL: "https://z.mg/rss"}, now)
	require.Len(t, items, 1)
	assert.Equal(t, 1, discarded)
	assert.Equal(t, "Titre étrange", items[0].Title)
	assert.Equal(t, "https://z.mg/1", items[0].Link)
	assert.Equal(t, "Texte riche", items[0].Description)
	assert.Equal(t, "https://z.mg/i.jpg", items[0].ImageURL)
	assert.Equal(t, 3, items[0].Published.Day())
}

func TestParseItemsQuota(t *testing.T) {
	var b strings.Builder
	b.WriteString(`<rss version="2.0"><channel><title>q</title>`)
	for i := 0; i < 20; i++ {
		b.WriteString(`<item><title>T</title><link>https://q.mg/` + string(rune('a'+i)) + `</link></item>`)
	}
	b.WriteString(`</channel></rss>`)

	high, _ := ParseItems([]byte(b.String()), FeedSource{Priority: PriorityHigh}, time.Now())
	normal, _ := ParseItems([]byte(b.String()), FeedSource{Priority: PriorityNormal}, time.Now())
	assert.Len(t, high, 15)
	assert.Len(t, normal, 8)
	assert.Equal(t, "https://q.mg/a", normal[0].Link)
}

func TestFetchAllIsolatesFailures(t *testing.T) {
	var gotUA string
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte(sampleRSS))
	}))
	defer ok.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer bad.Close()

	f := NewFetcher(nil, 2*time.Second, "newspipe-test", 2, logr.Discard())
	results := f.FetchAll(context.Background(), []FeedSource{
		{Name: "bad", FeedURL: bad.URL},
		{Name: "ok", FeedURL: ok.URL},
		{Name: "unreachable", FeedURL: "http://127.0.0.1:1/feed"},
	})

	require.Len(t, results, 3)
	assert.Equal(t, "bad", results[0].Source.Name)
	assert.Error(t, results[0].Err)
	assert.NoError(t, results[1].Err)
	assert.Contains(t, string(results[1].Body), "<rss")
	assert.Error(t, results[2].Err)
	assert.Equal(t, "newspipe-test", gotUA)
}

func TestFetchTimeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()

	f := NewFetcher(nil, 100*time.Millisecond, "ua", 1, logr.Discard())
	_, err := f.Fetch(context.Background(), FeedSource{Name: "slow", FeedURL: slow.URL})
	assert.Error(t, err)
}

func TestLoadSources(t *testing.T) {
	dir := t.TempDir()

	missing, err := LoadSources(filepath.Join(dir, "none.yaml"), logr.Discard())
	require.NoError(t, err)
	assert.Equal(t, DefaultSources(), missing)

	path := filepath.Join(dir, "sources.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`sources:
  - name: Local Paper
    feed_url: https://local.mg/feed
    priority: high
  - name: ""
    feed_url: https://broken.mg/feed
  - name: Other
    feed_url: https://other.mg/rss
    priority: urgent
`), 0o644))

	got, err := LoadSources(path, logr.Discard())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "local-paper", got[0].ID)
	assert.Equal(t, 15, got[0].ItemQuota())
	assert.Equal(t, PriorityNormal, got[1].Priority)
	assert.Equal(t, 8, got[1].ItemQuota())
}

func TestCleanText(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"plain", "  Texte   simple ", "Texte simple"},
		{"entities", "R&amp;D à Tana", "R&D à Tana"},
		{"markup", "<p>Un <b>deux</b></p>", "Un deux"},
		{"script and style bodies", "<p>Texte</p><script>alert(1)</script><style>p{color:red}</style>", "Texte"},
		{"cdata", "<![CDATA[<em>Flux</em>]]>", "Flux"},
		{"image only", `<img src="https://x.mg/i.jpg">`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanText(tt.in))
		})
	}
}
