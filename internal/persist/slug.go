package persist

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var ligatures = strings.NewReplacer("œ", "oe", "æ", "ae", "ß", "ss")

const (
	maxSlugLen  = 80
	defaultSlug = "article"
)

// Slugify lower-cases title, strips diacritics and joins alphanumeric runs
// with hyphens. "Grève à Antananarivo" becomes "greve-a-antananarivo".
func Slugify(title string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	plain, _, err := transform.String(t, ligatures.Replace(strings.ToLower(title)))
	if err != nil {
		plain = strings.ToLower(title)
	}

	var b strings.Builder
	pendingDash := false
	for _, r := range plain {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			pendingDash = false
			continue
		}
		pendingDash = true
	}

	slug := b.String()
	if len(slug) > maxSlugLen {
		slug = strings.TrimRight(slug[:maxSlugLen], "-")
	}
	if slug == "" {
		return defaultSlug
	}
	return slug
}
