package verdict

import (
	"net/url"
	"strings"

	"github.com/timmy/listingsync/internal/config"
)

// UnchangedURLIndicator is reported when the browser is still on the login page.
const UnchangedURLIndicator = "login page still displayed"

// IndicatorSet is a group of URL fragments and page phrases that point to
// one outcome.
type IndicatorSet struct {
	URLPatterns        []string
	TextPhrases        []string
	FailOnUnchangedURL bool
}

// NewIndicatorSet converts configured indicators.
func NewIndicatorSet(cfg config.IndicatorConfig) IndicatorSet {
	return IndicatorSet{
		URLPatterns:        cfg.URLPatterns,
		TextPhrases:        cfg.TextPhrases,
		FailOnUnchangedURL: cfg.FailOnUnchangedURL,
	}
}

// Matches returns a description of every indicator present on the page.
func (s IndicatorSet) Matches(startURL, finalURL, text string) []string {
	var matched []string
	lowerURL := strings.ToLower(finalURL)
	for _, p := range s.URLPatterns {
		if p != "" && strings.Contains(lowerURL, strings.ToLower(p)) {
			matched = append(matched, "url contains "+p)
		}
	}
	lowerText := strings.ToLower(text)
	for _, p := range s.TextPhrases {
		if p != "" && strings.Contains(lowerText, strings.ToLower(p)) {
			matched = append(matched, "page mentions "+p)
		}
	}
	if s.FailOnUnchangedURL && startURL != "" && sameURL(startURL, finalURL) {
		matched = append(matched, UnchangedURLIndicator)
	}
	return matched
}

// PageResult is the classification of a page reached after a form submit.
type PageResult struct {
	Result
	Successes []string
	Failures  []string
}

// ClassifyPage weighs success and failure indicators on a post-submit page.
// Any failure indicator wins; otherwise any success indicator wins; a page
// with neither is inconclusive.
func ClassifyPage(startURL, finalURL, text string, success, failure IndicatorSet) PageResult {
	res := PageResult{
		Successes: success.Matches(startURL, finalURL, text),
		Failures:  failure.Matches(startURL, finalURL, text),
	}
	switch {
	case len(res.Failures) > 0:
		res.Verdict = Failure
		res.Reason = res.Failures[0]
	case len(res.Successes) > 0:
		res.Verdict = Success
		res.Reason = res.Successes[0]
	default:
		res.Verdict = Inconclusive
		res.Reason = "no success or failure indicator found"
	}
	return res
}

// sameURL compares two URLs ignoring query, fragment and a trailing slash.
func sameURL(a, b string) bool {
	return normalizeURL(a) == normalizeURL(b)
}

func normalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return strings.TrimRight(strings.ToLower(raw), "/")
	}
	return strings.ToLower(u.Host) + strings.TrimRight(u.Path, "/")
}
