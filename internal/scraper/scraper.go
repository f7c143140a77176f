package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-logr/logr"
)

const maxPageBytes = 4 << 20

// Regions removed before any text is taken.
const noiseSelector = "script, style, nav, footer, header, aside, noscript, iframe, form"

// Scraper fetches article pages and reduces them to plain text.
type Scraper struct {
	client    *http.Client
	userAgent string
	maxChars  int
	log       logr.Logger
}

// New creates a scraper. A nil client gets one with the given timeout.
func New(client *http.Client, timeout time.Duration, userAgent string, maxChars int, log logr.Logger) *Scraper {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &Scraper{client: client, userAgent: userAgent, maxChars: maxChars, log: log}
}

// FullText gets the plain text of the article at url, truncated to maxChars runes.
func (s *Scraper) FullText(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("error loading page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP error: %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", fmt.Errorf("error parsing HTML: %w", err)
	}

	text := Truncate(extractText(doc, url), s.maxChars)
	if text == "" {
		return "", fmt.Errorf("can't get content")
	}
	s.log.V(1).Info("full text extracted", "url", url, "chars", len([]rune(text)))
	return text, nil
}

// Site-specific paragraph selectors, tried before the generic ones.
var siteSelectors = map[string][]string{
	"midi-madagasikara.mg": {".td-post-content p", ".entry-content p"},
	"newsmada.com":         {".entry-content p", ".post-content p"},
	"lexpress.mg":          {".article-content p", ".entry-content p"},
	"2424.mg":              {".article-body p", ".entry-content p"},
	"rfi.fr":               {".t-content__body p", "article p"},
}

var genericSelectors = []string{
	"article p",
	".article p",
	".content p",
	".post-content p",
	".entry-content p",
	"main p",
	"#content p",
	"p",
}

func extractText(doc *goquery.Document, url string) string {
	doc.Find(noiseSelector).Remove()

	var selectors []string
	for host, sel := range siteSelectors {
		if strings.Contains(url, host) {
			selectors = append(selectors, sel...)
			break
		}
	}
	selectors = append(selectors, genericSelectors...)

	for _, selector := range selectors {
		var paragraphs []string
		doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
			text := collapse(sel.Text())
			if len(text) > 20 && !isJunk(text) {
				paragraphs = append(paragraphs, text)
			}
		})
		if len(paragraphs) > 0 {
			return strings.Join(paragraphs, " ")
		}
	}

	// no paragraph markup at all
	return collapse(doc.Find("body").Text())
}

var junkIndicators = []string{
	"lire aussi", "à lire également", "partager sur", "abonnez-vous",
	"newsletter", "cookies", "tous droits réservés",
}

func isJunk(text string) bool {
	lower := strings.ToLower(text)
	for _, j := range junkIndicators {
		if strings.Contains(lower, j) {
			return true
		}
	}
	return false
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n]))
}
