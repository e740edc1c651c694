package verdict

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/timmy/listingsync/internal/config"
)

// ResponseTaxonomy maps raw login response bodies of a direct-login
// endpoint to verdicts. Bodies look like "<code><delimiter><payload>".
type ResponseTaxonomy struct {
	delimiter          string
	successCodes       map[string]bool
	failureCodes       map[string]string
	redirectMarkers    []string
	probableSuccessLen int
}

// NewResponseTaxonomy builds a taxonomy from a system profile's settings.
func NewResponseTaxonomy(cfg config.TaxonomyConfig) *ResponseTaxonomy {
	t := &ResponseTaxonomy{
		delimiter:          cfg.Delimiter,
		successCodes:       make(map[string]bool, len(cfg.SuccessCodes)),
		failureCodes:       make(map[string]string, len(cfg.FailureCodes)),
		probableSuccessLen: cfg.ProbableSuccessLen,
	}
	for _, code := range cfg.SuccessCodes {
		t.successCodes[strings.TrimSpace(code)] = true
	}
	for code, reason := range cfg.FailureCodes {
		t.failureCodes[strings.TrimSpace(code)] = reason
	}
	for _, m := range cfg.RedirectMarkers {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			t.redirectMarkers = append(t.redirectMarkers, m)
		}
	}
	return t
}

// Classify decides what a login response body means.
//
// A leading numeric code (before the delimiter, or the whole body) is looked
// up in the code tables; unknown codes are inconclusive. Script or redirect
// payloads count as success, as do long non-numeric payloads. Everything
// else, including an empty body, is inconclusive.
func (t *ResponseTaxonomy) Classify(body string) Result {
	body = strings.TrimSpace(body)
	if body == "" {
		return Result{Verdict: Inconclusive, Reason: "empty response"}
	}

	if code, ok := t.leadingCode(body); ok {
		if t.successCodes[code] {
			return Result{Verdict: Success, Code: code, Reason: "login accepted"}
		}
		if reason, found := t.failureCodes[code]; found {
			return Result{Verdict: Failure, Code: code, Reason: reason}
		}
		return Result{Verdict: Inconclusive, Code: code, Reason: fmt.Sprintf("unrecognized response code %s", code)}
	}

	lower := strings.ToLower(body)
	for _, marker := range t.redirectMarkers {
		if strings.Contains(lower, marker) {
			return Result{Verdict: Success, Reason: "redirect payload"}
		}
	}

	if t.probableSuccessLen > 0 && len(body) >= t.probableSuccessLen {
		return Result{Verdict: Success, Reason: "probable success (long payload)"}
	}

	return Result{Verdict: Inconclusive, Reason: "unrecognized response"}
}

func (t *ResponseTaxonomy) leadingCode(body string) (string, bool) {
	head := body
	if t.delimiter != "" {
		if idx := strings.Index(body, t.delimiter); idx >= 0 {
			head = body[:idx]
		}
	}
	head = strings.TrimSpace(head)
	if !isNumeric(head) {
		return "", false
	}
	return head, true
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
