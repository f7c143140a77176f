package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const page = `<html><head><style>.x{}</style><script>var a = "secret";</script></head>
<body>
<header><p>Menu principal du site avec beaucoup de liens</p></header>
<nav>Accueil Politique Sport</nav>
<article>
  <p>Les enseignants de la capitale ont entamé une grève illimitée lundi.</p>
  <p>Lire aussi : un autre article sans rapport avec le sujet</p>
  <p>Le ministère appelle au dialogue   et promet une réponse rapide.</p>
</article>
<aside><p>Publicité encombrante qui ne doit pas apparaître</p></aside>
<footer><p>Tous droits réservés, mentions légales et contact</p></footer>
</body></html>`

func TestFullTextStripsNoise(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()

	s := New(nil, time.Second, "test", 2000, logr.Discard())
	text, err := s.FullText(context.Background(), srv.URL)
	require.NoError(t, err)

	assert.Equal(t, "Les enseignants de la capitale ont entamé une grève illimitée lundi. Le ministère appelle au dialogue et promet une réponse rapide.", text)
	assert.NotContains(t, text, "secret")
	assert.NotContains(t, text, "Menu")
	assert.NotContains(t, text, "Publicité")
}

func TestFullTextTruncates(t *testing.T) {
	long := strings.Repeat("é", 5000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html><body><article><p>" + long + "</p></article></body></html>"))
	}))
	defer srv.Close()

	s := New(nil, time.Second, "test", 2000, logr.Discard())
	text, err := s.FullText(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, 2000, utf8.RuneCountInString(text))
}

func TestFullTextHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	s := New(nil, time.Second, "test", 2000, logr.Discard())
	_, err := s.FullText(context.Background(), srv.URL)
	assert.Error(t, err)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "ab", Truncate("abc", 2))
	assert.Equal(t, "abc", Truncate("abc", 0))
}
