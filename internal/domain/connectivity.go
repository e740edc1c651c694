package domain

import "time"

// System identifies an external platform the engine talks to.
type System string

const (
	SystemSource System = "source"
	SystemTarget System = "target"
)

// Valid reports whether the system is known.
func (s System) Valid() bool {
	return s == SystemSource || s == SystemTarget
}

// Outcome is the classified verdict of one connectivity probe.
type Outcome string

const (
	OutcomeReachable      Outcome = "reachable"
	OutcomeAuthSuccess    Outcome = "auth_success"
	OutcomeAuthFailure    Outcome = "auth_failure"
	OutcomeInconclusive   Outcome = "inconclusive"
	OutcomeUnreachable    Outcome = "unreachable"
	OutcomeLayoutChanged  Outcome = "layout_changed"
	OutcomeTechnicalError Outcome = "technical_error"
)

// Success reports whether the outcome lets a workflow proceed.
func (o Outcome) Success() bool {
	return o == OutcomeReachable || o == OutcomeAuthSuccess
}

// FailureKind maps a negative outcome to the automation failure class.
func (o Outcome) FailureKind() FailureKind {
	switch o {
	case OutcomeReachable, OutcomeAuthSuccess:
		return FailureNone
	case OutcomeUnreachable:
		return FailureUnreachable
	case OutcomeAuthFailure:
		return FailureAuth
	case OutcomeInconclusive:
		return FailureInconclusive
	default:
		return FailureTechnical
	}
}

// Recommendation is a machine-readable hint attached to a probe result.
type Recommendation string

const (
	RecommendNone           Recommendation = ""
	RecommendManualLogin    Recommendation = "authenticate_manually"
	RecommendRetryLater     Recommendation = "retry_later"
	RecommendVerifyManually Recommendation = "verify_manually"
	RecommendCheckCreds     Recommendation = "check_credentials"
	RecommendUpdateLayout   Recommendation = "update_selectors"
)

// Credentials is an identity/secret pair for an external system.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Complete reports whether both parts are present.
func (c *Credentials) Complete() bool {
	return c != nil && c.Username != "" && c.Password != ""
}

// ConnectivityResult is the output of one probe. It is logged, never persisted.
type ConnectivityResult struct {
	Success        bool           `json:"success"`
	System         System         `json:"system"`
	Outcome        Outcome        `json:"outcome"`
	Reason         string         `json:"reason,omitempty"`
	Message        string         `json:"message"`
	Recommendation Recommendation `json:"recommendation,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}
