// Package verdict turns ambiguous login responses into success or failure
// decisions. Everything here is pure and safe for concurrent use.
package verdict

// Verdict is the three-way outcome of a classification.
type Verdict string

const (
	Success      Verdict = "success"
	Failure      Verdict = "failure"
	Inconclusive Verdict = "inconclusive"
)

// Result is a classified response with a human-readable reason.
type Result struct {
	Verdict Verdict
	Code    string
	Reason  string
}
