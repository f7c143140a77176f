package enhance

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/deusflow/newspipe/internal/news"
)

const maxTags = 8

// ExtractJSONObject returns the first balanced {...} block in text. Braces
// inside JSON strings are ignored, so prose or code fences around the object
// are tolerated.
func ExtractJSONObject(text string) (string, bool) {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(text); i++ {
		c := text[i]
		if start < 0 {
			if c == '{' {
				start = i
				depth = 1
			}
			continue
		}

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// rawOutput accepts the loose shapes providers actually return.
type rawOutput struct {
	Title            string          `json:"title"`
	Summary          string          `json:"summary"`
	Content          string          `json:"content"`
	Tags             json.RawMessage `json:"tags"`
	ReliabilityScore json.RawMessage `json:"reliabilityScore"`
	ReliabilityLabel string          `json:"reliabilityLabel"`
	FactCheckNotes   json.RawMessage `json:"factCheckNotes"`
}

// ParseOutput turns raw provider text into a normalized result.
func ParseOutput(text string) (*news.Enhanced, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}
	obj, ok := ExtractJSONObject(text)
	if !ok {
		return nil, ErrNoJSON
	}

	var raw rawOutput
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	e := &news.Enhanced{
		Title:            raw.Title,
		Summary:          raw.Summary,
		Content:          raw.Content,
		Tags:             decodeTags(raw.Tags),
		ReliabilityScore: decodeScore(raw.ReliabilityScore),
		ReliabilityLabel: news.ReliabilityLabel(strings.ToLower(strings.TrimSpace(raw.ReliabilityLabel))),
		FactCheckNotes:   decodeNotes(raw.FactCheckNotes),
	}
	Normalize(e)
	if e.Title == "" || e.Content == "" {
		return nil, ErrIncomplete
	}
	return e, nil
}

// Normalize trims text fields, clamps the score to 0-100, maps unknown labels
// to unverified and dedups tags.
func Normalize(e *news.Enhanced) {
	e.Title = strings.TrimSpace(e.Title)
	e.Summary = strings.TrimSpace(e.Summary)
	e.Content = strings.TrimSpace(e.Content)
	e.FactCheckNotes = strings.TrimSpace(e.FactCheckNotes)

	switch {
	case e.ReliabilityScore < 0:
		e.ReliabilityScore = 0
	case e.ReliabilityScore > 100:
		e.ReliabilityScore = 100
	}
	e.ReliabilityLabel = news.ParseLabel(string(e.ReliabilityLabel))

	seen := map[string]struct{}{}
	tags := make([]string, 0, len(e.Tags))
	for _, t := range e.Tags {
		t = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(t), "#"))
		key := strings.ToLower(t)
		if t == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		tags = append(tags, t)
		if len(tags) == maxTags {
			break
		}
	}
	e.Tags = tags
}

func decodeTags(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.Split(s, ",")
	}
	return nil
}

// decodeScore accepts 85, 85.4 or "85"; null and anything else is the
// neutral score.
func decodeScore(raw json.RawMessage) int {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return news.NeutralScore
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return clampScore(f)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(s), "%"), 64); err == nil {
			return clampScore(f)
		}
	}
	return news.NeutralScore
}

// clampScore bounds f to 0-100 before the int conversion.
func clampScore(f float64) int {
	if math.IsNaN(f) {
		return news.NeutralScore
	}
	return int(math.Round(math.Min(100, math.Max(0, f))))
}

func decodeNotes(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return strings.Join(list, " ")
	}
	return ""
}
