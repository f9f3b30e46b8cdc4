package service

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the identity workflows. Handlers map these to HTTP
// status codes and machine-readable kinds at the transport boundary;
// business logic only ever tests them with errors.Is.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account locked")
	ErrEmailNotVerified   = errors.New("email not verified")
	ErrUserNotFound       = errors.New("user not found")

	ErrEmailAlreadyExists = errors.New("email already exists")
	ErrRegistrationFull   = errors.New("registration capacity exceeded")

	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")
	ErrNoPendingChange       = errors.New("no pending email change")
	ErrEmailTaken            = errors.New("email taken")
	ErrNoDeletionScheduled   = errors.New("no deletion scheduled")
)

// ValidationError carries the individual field failures of a request.
type ValidationError struct {
	Details []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Details, "; ")
}

// RateLimitError reports a denied send and how long until the next one is
// allowed. Scope distinguishes the per-email interval policy from the
// per-IP sliding window.
type RateLimitError struct {
	Scope      string // "email" or "ip"
	RetryAfter int    // seconds
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s rate limited, retry in %ds", e.Scope, e.RetryAfter)
}
