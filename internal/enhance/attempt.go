// Package enhance rewrites feed items through an ordered chain of
// text-generation providers.
package enhance

import (
	"context"
	"errors"
	"iter"

	"github.com/deusflow/newspipe/internal/news"
)

// Provider is one text-generation backend.
type Provider interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
}

// Reasons a single attempt fails.
var (
	ErrQuotaExhausted = errors.New("quota exhausted")
	ErrEmptyText      = errors.New("empty response text")
	ErrNoJSON         = errors.New("no JSON object in response")
	ErrInvalidJSON    = errors.New("invalid JSON object")
	ErrIncomplete     = errors.New("missing title or content")
)

// Attempt is the typed outcome of one provider call: a result or a reason.
type Attempt struct {
	Provider string
	Result   *news.Enhanced
	Err      error
}

func (a Attempt) OK() bool {
	return a.Err == nil && a.Result != nil
}

// FirstSuccess consumes attempts until one succeeds. Attempts after the first
// success are never produced. It returns nil when all attempts failed.
func FirstSuccess(attempts iter.Seq[Attempt]) (*news.Enhanced, []Attempt) {
	var tried []Attempt
	for a := range attempts {
		tried = append(tried, a)
		if a.OK() {
			return a.Result, tried
		}
	}
	return nil, tried
}
