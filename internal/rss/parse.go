package rss

import (
	"bytes"
	"html"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"
)

// Item is one feed entry after lenient extraction.
type Item struct {
	Title       string
	Link        string
	Description string
	Content     string // raw item markup when the feed carries one, used for image lookup
	Published   time.Time
	ImageURL    string
}

// ParseItems extracts items from one feed body. Items without a title or link
// are dropped and counted in discarded; at most src.ItemQuota() items are kept.
func ParseItems(body []byte, src FeedSource, now time.Time) (items []Item, discarded int) {
	base := src.BaseURL
	if base == "" {
		base = src.FeedURL
	}

	raw, err := parseWithGofeed(body, base)
	if err != nil {
		raw = parseWithRegex(body, base)
	}

	quota := src.ItemQuota()
	for _, it := range raw {
		if it.Title == "" || it.Link == "" {
			discarded++
			continue
		}
		if it.Published.IsZero() {
			it.Published = now
		}
		if len(items) < quota {
			items = append(items, it)
		}
	}
	return items, discarded
}

func parseWithGofeed(body []byte, base string) ([]Item, error) {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	out := make([]Item, 0, len(feed.Items))
	for _, fi := range feed.Items {
		it := Item{
			Title:       CleanText(fi.Title),
			Link:        resolveURL(base, strings.TrimSpace(firstLink(fi))),
			Description: CleanText(firstNonEmpty(fi.Description, fi.Content)),
			Content:     fi.Content,
		}
		switch {
		case fi.PublishedParsed != nil:
			it.Published = *fi.PublishedParsed
		case fi.UpdatedParsed != nil:
			it.Published = *fi.UpdatedParsed
		}
		it.ImageURL = resolveURL(base, gofeedImage(fi))
		out = append(out, it)
	}
	return out, nil
}

func firstLink(fi *gofeed.Item) string {
	if fi.Link != "" {
		return fi.Link
	}
	if len(fi.Links) > 0 {
		return fi.Links[0]
	}
	return ""
}

// gofeedImage walks the image chain: item image, image enclosure, media
// extension, then the first inline <img> of content and description.
func gofeedImage(fi *gofeed.Item) string {
	if fi.Image != nil && fi.Image.URL != "" {
		return fi.Image.URL
	}
	for _, enc := range fi.Enclosures {
		if enc == nil || enc.URL == "" {
			continue
		}
		if strings.HasPrefix(enc.Type, "image/") || hasImageExt(enc.URL) {
			return enc.URL
		}
	}
	if u := mediaImage(fi.Extensions); u != "" {
		return u
	}
	if u := firstInlineImage(fi.Content); u != "" {
		return u
	}
	return firstInlineImage(fi.Description)
}

func mediaImage(exts ext.Extensions) string {
	media, ok := exts["media"]
	if !ok {
		return ""
	}
	for _, e := range media["content"] {
		u := e.Attrs["url"]
		if u == "" {
			continue
		}
		medium, typ := e.Attrs["medium"], e.Attrs["type"]
		if medium == "image" || strings.HasPrefix(typ, "image/") || (medium == "" && typ == "") || hasImageExt(u) {
			return u
		}
	}
	for _, e := range media["thumbnail"] {
		if u := e.Attrs["url"]; u != "" {
			return u
		}
	}
	// media:group wraps content elements in some feeds
	for _, g := range media["group"] {
		for _, e := range g.Children["content"] {
			if u := e.Attrs["url"]; u != "" {
				return u
			}
		}
		for _, e := range g.Children["thumbnail"] {
			if u := e.Attrs["url"]; u != "" {
				return u
			}
		}
	}
	return ""
}

func firstInlineImage(markup string) string {
	if !strings.Contains(markup, "<img") {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return ""
	}
	var src string
	doc.Find("img").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		for _, attr := range []string{"src", "data-src", "data-lazy-src"} {
			if v, ok := s.Attr(attr); ok && strings.TrimSpace(v) != "" && !strings.HasPrefix(v, "data:") {
				src = strings.TrimSpace(v)
				return false
			}
		}
		return true
	})
	return src
}

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true, ".avif": true}

func hasImageExt(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return imageExts[strings.ToLower(path.Ext(u.Path))]
}

func resolveURL(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if r.IsAbs() {
		return ref
	}
	b, err := url.Parse(base)
	if err != nil || !b.IsAbs() {
		return ref
	}
	return b.ResolveReference(r).String()
}

// CleanText unescapes entities, strips markup along with script and style
// bodies, and collapses whitespace.
func CleanText(s string) string {
	s = strings.TrimSpace(unwrapCDATA(s))
	if s == "" {
		return ""
	}
	if strings.ContainsAny(s, "<>") {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(s)); err == nil {
			doc.Find("script, style, noscript, iframe").Remove()
			s = doc.Text()
		}
	}
	// double-encoded entities are common in WordPress feeds
	s = html.UnescapeString(s)
	return strings.Join(strings.Fields(s), " ")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// Regex fallback for feeds gofeed rejects.

var (
	reBlock     = regexp.MustCompile(`(?is)<(item|entry)\b[^>]*>(.*?)</(?:item|entry)>`)
	reCDATA     = regexp.MustCompile(`(?s)^\s*<!\[CDATA\[(.*?)\]\]>\s*$`)
	reAtomLink  = regexp.MustCompile(`(?is)<link\b[^>]*\bhref\s*=\s*["']([^"']+)["'][^>]*/?>`)
	reEnclosure = regexp.MustCompile(`(?is)<enclosure\b[^>]*>`)
	reMedia     = regexp.MustCompile(`(?is)<media:(?:content|thumbnail)\b[^>]*>`)
	reAttrURL   = regexp.MustCompile(`(?is)\burl\s*=\s*["']([^"']+)["']`)
	reAttrType  = regexp.MustCompile(`(?is)\btype\s*=\s*["']([^"']+)["']`)
	reImgSrc    = regexp.MustCompile(`(?is)<img\b[^>]*\bsrc\s*=\s*["']([^"']+)["']`)
)

func tagRegexp(name string) *regexp.Regexp {
	return regexp.MustCompile(`(?is)<` + regexp.QuoteMeta(name) + `\b[^>]*>(.*?)</` + regexp.QuoteMeta(name) + `>`)
}

var (
	reTitle       = tagRegexp("title")
	reLink        = tagRegexp("link")
	reDescription = tagRegexp("description")
	reSummary     = tagRegexp("summary")
	reEncoded     = tagRegexp("content:encoded")
	reContent     = tagRegexp("content")
	rePubDate     = tagRegexp("pubDate")
	rePublished   = tagRegexp("published")
	reUpdated     = tagRegexp("updated")
	reDCDate      = tagRegexp("dc:date")
)

var dateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2 Jan 2006 15:04:05 -0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func parseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func parseWithRegex(body []byte, base string) []Item {
	var out []Item
	for _, m := range reBlock.FindAllSubmatch(body, -1) {
		block := string(m[2])

		it := Item{
			Title: CleanText(submatch(reTitle, block)),
			Link:  strings.TrimSpace(unwrapCDATA(submatch(reLink, block))),
		}
		if it.Link == "" {
			if lm := reAtomLink.FindStringSubmatch(block); lm != nil {
				it.Link = html.UnescapeString(lm[1])
			}
		}
		it.Link = resolveURL(base, it.Link)

		content := unwrapCDATA(firstNonEmpty(submatch(reEncoded, block), submatch(reContent, block)))
		desc := unwrapCDATA(firstNonEmpty(submatch(reDescription, block), submatch(reSummary, block)))
		it.Content = html.UnescapeString(content)
		it.Description = CleanText(firstNonEmpty(desc, content))

		for _, re := range []*regexp.Regexp{rePubDate, rePublished, reDCDate, reUpdated} {
			if t := parseDate(unwrapCDATA(submatch(re, block))); !t.IsZero() {
				it.Published = t
				break
			}
		}

		it.ImageURL = resolveURL(base, regexImage(block, it.Content, html.UnescapeString(desc)))
		out = append(out, it)
	}
	return out
}

func regexImage(block, content, desc string) string {
	for _, tag := range reEnclosure.FindAllString(block, -1) {
		u := attr(reAttrURL, tag)
		if u != "" && (strings.HasPrefix(attr(reAttrType, tag), "image/") || hasImageExt(u)) {
			return u
		}
	}
	for _, tag := range reMedia.FindAllString(block, -1) {
		if u := attr(reAttrURL, tag); u != "" {
			return u
		}
	}
	for _, markup := range []string{content, desc} {
		if m := reImgSrc.FindStringSubmatch(markup); m != nil {
			return m[1]
		}
	}
	return ""
}

func submatch(re *regexp.Regexp, s string) string {
	if m := re.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return ""
}

func attr(re *regexp.Regexp, tag string) string {
	return html.UnescapeString(submatch(re, tag))
}

func unwrapCDATA(s string) string {
	if m := reCDATA.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}
