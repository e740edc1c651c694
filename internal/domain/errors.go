package domain

import "errors"

var (
	// ErrListingNotFound means the source system has no listing for the code.
	ErrListingNotFound = errors.New("listing not found on source system")
	// ErrSessionRejected means a portal login was refused after the probe passed.
	ErrSessionRejected = errors.New("portal session rejected")
	// ErrPublishRejected means the target system showed a failure after submit.
	ErrPublishRejected = errors.New("listing rejected by target system")
	// ErrPublishUnconfirmed means the target page showed neither success nor failure.
	ErrPublishUnconfirmed = errors.New("listing publication not confirmed")
)
