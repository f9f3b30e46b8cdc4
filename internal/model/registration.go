package model

import "time"

// Registration is a signup payload held in memory until the user proves
// mailbox ownership. It never reaches durable storage except by being
// consumed into an Account.
type Registration struct {
	Token        string
	Email        string
	PasswordHash string
	Name         string
	Phone        string
	IP           string
	UserAgent    string
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// Expired reports whether the registration is past its TTL.
func (r *Registration) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}
