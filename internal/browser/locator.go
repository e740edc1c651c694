package browser

import (
	"context"
	"errors"
	"fmt"

	"github.com/timmy/listingsync/internal/config"
)

// ErrNoMatch is returned when none of the candidate selectors is present.
var ErrNoMatch = errors.New("no candidate selector matched")

// ElementFinder reports whether a selector matches an element.
type ElementFinder interface {
	Exists(ctx context.Context, selector string) (bool, error)
}

// Candidate is one selector to try, with a label used in logs.
type Candidate struct {
	Selector    string
	Description string
}

// CandidatesFrom converts configured selectors, keeping their order.
func CandidatesFrom(cfg []config.SelectorConfig) []Candidate {
	out := make([]Candidate, 0, len(cfg))
	for _, s := range cfg {
		if s.Selector == "" {
			continue
		}
		out = append(out, Candidate{Selector: s.Selector, Description: s.Description})
	}
	return out
}

// FindFirstMatch tries candidates strictly in order and returns the first
// one present on the page. It returns ErrNoMatch when none is found and
// stops at the first lookup error.
func FindFirstMatch(ctx context.Context, finder ElementFinder, candidates []Candidate) (Candidate, error) {
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return Candidate{}, err
		}
		ok, err := finder.Exists(ctx, c.Selector)
		if err != nil {
			return Candidate{}, fmt.Errorf("locate %q: %w", c.Selector, err)
		}
		if ok {
			return c, nil
		}
	}
	return Candidate{}, ErrNoMatch
}
