package security

import (
	"time"

	"bizdir/internal/model"
)

// LockoutPolicy implements the brute-force lockout state machine over an
// account's failed-login counter and lock-until timestamp. It mutates the
// in-memory account; the caller persists the result.
type LockoutPolicy struct {
	Threshold    int
	LockDuration time.Duration
}

// DefaultPolicy locks for two hours after five consecutive failures.
var DefaultPolicy = LockoutPolicy{
	Threshold:    5,
	LockDuration: 2 * time.Hour,
}

// IsLocked reports whether the account has a lock that is still in the future.
func (p LockoutPolicy) IsLocked(acc *model.Account, now time.Time) bool {
	return acc.LockedUntil != nil && acc.LockedUntil.After(now)
}

// RecordFailure registers a failed login attempt and returns whether the
// account ended up locked. A failure after an expired lock restarts the
// count at 1 rather than continuing the old streak.
func (p LockoutPolicy) RecordFailure(acc *model.Account, now time.Time) bool {
	if acc.LockedUntil != nil && !acc.LockedUntil.After(now) {
		acc.LockedUntil = nil
		acc.FailedLogins = 1
		return false
	}

	acc.FailedLogins++
	if acc.FailedLogins >= p.Threshold && !p.IsLocked(acc, now) {
		until := now.Add(p.LockDuration)
		acc.LockedUntil = &until
		return true
	}

	return p.IsLocked(acc, now)
}

// RecordSuccess clears the failure counter and any lock, and stamps the
// last successful login.
func (p LockoutPolicy) RecordSuccess(acc *model.Account, now time.Time) {
	acc.FailedLogins = 0
	acc.LockedUntil = nil
	acc.LastLoginAt = &now
}
