package repository

import "errors"

var (
	// ErrCodeLimitReached is returned when a broker already owns the maximum number of codes.
	ErrCodeLimitReached = errors.New("broker code limit reached")
	// ErrHighlightLimitReached is returned when a broker already highlights the maximum number of codes.
	ErrHighlightLimitReached = errors.New("broker highlight limit reached")
	// ErrCodeAlreadyClaimed is returned when a concurrent claim won the code first.
	ErrCodeAlreadyClaimed = errors.New("code already claimed")
	// ErrCodeInUse is returned when deleting a code that has been consumed.
	ErrCodeInUse = errors.New("code is in use")
	// ErrCodeNotReleasable is returned when releasing a code whose automation
	// is still pending, running or completed.
	ErrCodeNotReleasable = errors.New("code is held by an automation that did not fail or stop")
	// ErrStaleAutomation is returned when a conditional update finds the
	// automation in an unexpected status.
	ErrStaleAutomation = errors.New("automation status changed")
)
