package core

import (
	"errors"
	"fmt"
)

// Sentinel errors for the resolution path. The orchestrator maps these to
// user-facing denial reasons; callers can test with errors.Is.
var (
	ErrMissingEmail  = errors.New("missing_email")
	ErrUserNotFound  = errors.New("user_not_found")
	ErrEmailMismatch = errors.New("email_mismatch")
	ErrCreateFailed  = errors.New("create_failed")

	// ErrKeysUnavailable means no verification keys could be loaded from the
	// cache. Verification fails closed.
	ErrKeysUnavailable = errors.New("keys_unavailable")

	// ErrNotConfigured means the team domain has not been set yet.
	ErrNotConfigured = errors.New("team_domain_not_configured")

	errUnsuccessful = errors.New("authority reported failure")
)

// TransportError wraps a failed call to the trust authority. It is always
// non-fatal to the login flow: the previously cached document stays
// authoritative until the next successful refresh.
type TransportError struct {
	URL    string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("trust authority request %s failed: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("trust authority request %s failed: status %d", e.URL, e.Status)
}

func (e *TransportError) Unwrap() error { return e.Err }

// MalformedDataError reports a response body that could not be parsed.
// The cached copy, if any, is retained.
type MalformedDataError struct {
	What string
	Err  error
}

func (e *MalformedDataError) Error() string {
	return fmt.Sprintf("malformed %s: %v", e.What, e.Err)
}

func (e *MalformedDataError) Unwrap() error { return e.Err }

// VerifyError reports why a token failed verification. Reason is a stable
// snake_case code suitable for audit data; Err preserves the underlying
// cause for forensics.
type VerifyError struct {
	Reason string
	Err    error
}

func (e *VerifyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *VerifyError) Unwrap() error { return e.Err }
