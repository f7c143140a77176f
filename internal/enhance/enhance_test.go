package enhance

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deusflow/newspipe/internal/cache"
	"github.com/deusflow/newspipe/internal/news"
	"github.com/deusflow/newspipe/internal/ratelimit"
)

type fakeProvider struct {
	name  string
	text  string
	err   error
	calls atomic.Int32
	seen  string
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Generate(_ context.Context, prompt string) (string, error) {
	f.calls.Add(1)
	f.seen = prompt
	return f.text, f.err
}

type fakeFullText struct {
	text string
	err  error
}

func (f fakeFullText) FullText(context.Context, string) (string, error) { return f.text, f.err }

const validJSON = `{"title":"Titre B","summary":"Résumé","content":"Contenu complet","tags":["grève","Grève","éducation"],"reliabilityScore":82,"reliabilityLabel":"likely","factCheckNotes":"RAS"}`

func req() Request {
	return Request{Title: "Grève", Summary: "Les enseignants", Category: news.CategorySociete, SourceName: "Midi", SourceURL: "https://x.mg/a1"}
}

func TestFallbackToSecondProvider(t *testing.T) {
	a := &fakeProvider{name: "a", text: "désolé, je ne peux pas {pas du json"}
	b := &fakeProvider{name: "b", text: "Voici:\n```json\n" + validJSON + "\n```"}
	c := &fakeProvider{name: "c", text: validJSON}

	o := New([]Provider{a, b, c}, Options{Log: logr.Discard()})
	got, attempts := o.Enhance(context.Background(), req())

	require.NotNil(t, got)
	assert.Equal(t, "Titre B", got.Title)
	assert.Equal(t, "b", got.Provider)
	assert.Equal(t, []string{"grève", "éducation"}, got.Tags)
	assert.Equal(t, news.LabelLikely, got.ReliabilityLabel)

	require.Len(t, attempts, 2)
	assert.Error(t, attempts[0].Err)
	assert.True(t, attempts[1].OK())
	assert.Zero(t, c.calls.Load(), "providers after the first success are never called")
}

func TestAllProvidersFailIsDegradedMode(t *testing.T) {
	a := &fakeProvider{name: "a", err: errors.New("HTTP 503")}
	b := &fakeProvider{name: "b", text: ""}
	c := &fakeProvider{name: "c", text: `{"title":"","content":"x"}`}

	got, attempts := New([]Provider{a, b, c}, Options{Log: logr.Discard()}).Enhance(context.Background(), req())
	assert.Nil(t, got)
	require.Len(t, attempts, 3)
	assert.ErrorIs(t, attempts[1].Err, ErrEmptyText)
	assert.ErrorIs(t, attempts[2].Err, ErrIncomplete)
}

func TestNoProviders(t *testing.T) {
	got, attempts := New(nil, Options{Log: logr.Discard()}).Enhance(context.Background(), req())
	assert.Nil(t, got)
	assert.Empty(t, attempts)
}

func TestQuotaExhaustedProviderIsSkipped(t *testing.T) {
	limiter := ratelimit.NewAIRateLimiter(map[string]int{"a": 1}, 0, logr.Discard())
	require.NoError(t, limiter.Use("a"))

	a := &fakeProvider{name: "a", text: validJSON}
	b := &fakeProvider{name: "b", text: validJSON}
	got, attempts := New([]Provider{a, b}, Options{Limiter: limiter, Log: logr.Discard()}).Enhance(context.Background(), req())

	require.NotNil(t, got)
	assert.Equal(t, "b", got.Provider)
	assert.ErrorIs(t, attempts[0].Err, ErrQuotaExhausted)
	assert.Zero(t, a.calls.Load())
}

func TestCacheHitSkipsProviders(t *testing.T) {
	rc := NewMemoryCache(cache.New())
	a := &fakeProvider{name: "a", text: validJSON}
	o := New([]Provider{a}, Options{Cache: rc, CacheTTL: time.Hour, Log: logr.Discard()})

	first, _ := o.Enhance(context.Background(), req())
	require.NotNil(t, first)
	second, attempts := o.Enhance(context.Background(), req())
	require.NotNil(t, second)

	assert.Equal(t, first.Title, second.Title)
	assert.Nil(t, attempts)
	assert.Equal(t, int32(1), a.calls.Load())
}

func TestPruneDropsExpiredResults(t *testing.T) {
	ctx := context.Background()
	rc := NewMemoryCache(cache.New())
	rc.Set(ctx, "old", &news.Enhanced{Title: "vieux"}, -time.Minute)
	rc.Set(ctx, "fresh", &news.Enhanced{Title: "frais"}, time.Hour)

	o := New([]Provider{&fakeProvider{name: "a"}}, Options{Cache: rc, Log: logr.Discard()})
	n, err := o.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, ok := rc.Get(ctx, "fresh")
	assert.True(t, ok)

	n, err = New(nil, Options{Log: logr.Discard()}).Prune(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSourceTextPrefersLongerFullText(t *testing.T) {
	a := &fakeProvider{name: "a", text: validJSON}

	o := New([]Provider{a}, Options{FullText: fakeFullText{text: "Texte intégral beaucoup plus long que le résumé du flux"}, Log: logr.Discard()})
	o.Enhance(context.Background(), req())
	assert.Contains(t, a.seen, "Texte intégral")

	o = New([]Provider{a}, Options{FullText: fakeFullText{text: "court"}, Log: logr.Discard()})
	o.Enhance(context.Background(), req())
	assert.Contains(t, a.seen, "Texte: Les enseignants")

	o = New([]Provider{a}, Options{FullText: fakeFullText{err: errors.New("timeout")}, Log: logr.Discard()})
	r := req()
	r.Summary = ""
	o.Enhance(context.Background(), r)
	assert.Contains(t, a.seen, "Texte: Grève")
}

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name, in, want string
		ok             bool
	}{
		{"bare", `{"a":1}`, `{"a":1}`, true},
		{"prose around", `Voici le résultat: {"a":{"b":2}} merci`, `{"a":{"b":2}}`, true},
		{"brace in string", `{"a":"x } y","b":"{"}`, `{"a":"x } y","b":"{"}`, true},
		{"escaped quote", `{"a":"il dit \"}\" puis"}`, `{"a":"il dit \"}\" puis"}`, true},
		{"first of two", `{"a":1} {"b":2}`, `{"a":1}`, true},
		{"unbalanced", `{"a":{"b":1}`, ``, false},
		{"none", `pas de json`, ``, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractJSONObject(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseOutputLooseShapes(t *testing.T) {
	e, err := ParseOutput(`{"title":" T ","content":"C","tags":"a, b ,a","reliabilityScore":"140","reliabilityLabel":"Certain","factCheckNotes":["x","y"]}`)
	require.NoError(t, err)
	assert.Equal(t, "T", e.Title)
	assert.Equal(t, []string{"a", "b"}, e.Tags)
	assert.Equal(t, 100, e.ReliabilityScore)
	assert.Equal(t, news.LabelUnverified, e.ReliabilityLabel)
	assert.Equal(t, "x y", e.FactCheckNotes)

	_, err = ParseOutput(`{"title": "T", "content": }`)
	assert.ErrorIs(t, err, ErrInvalidJSON)
	_, err = ParseOutput("no json here")
	assert.ErrorIs(t, err, ErrNoJSON)
}

func TestParseOutputScoreEdges(t *testing.T) {
	tests := []struct {
		name  string
		score string
		want  int
	}{
		{"null", `null`, news.NeutralScore},
		{"missing", ``, news.NeutralScore},
		{"huge", `1e300`, 100},
		{"very negative", `-1e300`, 0},
		{"nan string", `"NaN"`, news.NeutralScore},
		{"percent string", `"72.6%"`, 73},
		{"object", `{"v":1}`, news.NeutralScore},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := `{"title":"T","content":"C"}`
			if tt.score != "" {
				doc = `{"title":"T","content":"C","reliabilityScore":` + tt.score + `}`
			}
			e, err := ParseOutput(doc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, e.ReliabilityScore)
		})
	}
}

func TestNormalizeLimitsTags(t *testing.T) {
	e := &news.Enhanced{Tags: []string{"1", "2", "3", "4", "5", "6", "7", "8", "9", "#10"}, ReliabilityScore: -4}
	Normalize(e)
	assert.Len(t, e.Tags, 8)
	assert.Zero(t, e.ReliabilityScore)
	assert.Equal(t, news.LabelUnverified, e.ReliabilityLabel)
}

func TestChatProvider(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "c1", "object": "chat.completion", "created": 1, "model": "m",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": validJSON},
				"finish_reason": "stop",
			}},
		})
	}))
	defer srv.Close()

	p := NewChatProvider("groq", "k", "m", srv.URL, nil)
	text, err := p.Generate(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, validJSON, text)
	assert.Equal(t, "Bearer k", gotAuth)
	assert.Equal(t, "groq", p.Name())
}

func TestChatProviderHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"rate limited"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewChatProvider("mistral", "k", "m", srv.URL, nil).Generate(context.Background(), "p")
	assert.Error(t, err)
}

func TestChatProviderCompatibilityPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/compatibility/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer ck", r.Header.Get("Authorization"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "command-r-08-2024", body["model"])
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "c2", "object": "chat.completion", "created": 1, "model": "command-r-08-2024",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": `{"title":"T","content":"C"}`},
				"finish_reason": "stop",
			}},
		})
	}))
	defer srv.Close()

	p := NewChatProvider("cohere", "ck", "command-r-08-2024", srv.URL+"/compatibility/v1/", nil)
	text, err := p.Generate(context.Background(), "p")
	require.NoError(t, err)
	e, err := ParseOutput(text)
	require.NoError(t, err)
	assert.Equal(t, "T", e.Title)
	assert.Equal(t, news.NeutralScore, e.ReliabilityScore)
	assert.Equal(t, "cohere", p.Name())
}
