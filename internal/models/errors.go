package models

import (
	"errors"
	"fmt"
)

var (
	// ErrCredentials means the site rejected the stored email/password.
	// Retrying with the same credentials is pointless.
	ErrCredentials = errors.New("credentials rejected")
	// ErrChallenge means a human-verification step was presented.
	ErrChallenge = errors.New("human verification challenge presented")
	// ErrSiteUnavailable covers timeouts, non-2xx responses and block pages.
	ErrSiteUnavailable = errors.New("site unavailable")
	// ErrLayoutChanged means the expected page structure is entirely absent.
	ErrLayoutChanged = errors.New("page layout not recognised")
	// ErrStorage means session or dedup state could not be persisted.
	ErrStorage = errors.New("state storage failure")
)

// ChallengeError carries the evidence captured when a challenge was seen.
type ChallengeError struct {
	URL        string
	Reason     string
	Screenshot []byte
}

func (e *ChallengeError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s at %s", ErrChallenge, e.URL)
	}
	return fmt.Sprintf("%s at %s: %s", ErrChallenge, e.URL, e.Reason)
}

func (e *ChallengeError) Unwrap() error {
	return ErrChallenge
}

// Unavailable wraps err as a site-unavailable failure of op.
func Unavailable(op string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s", ErrSiteUnavailable, op)
	}
	return fmt.Errorf("%w: %s: %w", ErrSiteUnavailable, op, err)
}

// Storage wraps err as a persistence failure of op.
func Storage(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}
