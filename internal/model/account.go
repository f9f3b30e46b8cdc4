package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Account is the persisted user account document. The identity key is the
// normalized (lowercased) email, unique across the collection. Verification,
// password-reset and email-change tokens live in disjoint fields; a token is
// cleared the moment it is consumed or regenerated.
type Account struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Email        string             `bson:"email" json:"email"`
	PasswordHash string             `bson:"password_hash" json:"-"`
	Name         string             `bson:"name" json:"name"`
	Phone        string             `bson:"phone,omitempty" json:"phone,omitempty"`

	Verified              bool       `bson:"verified" json:"verified"`
	VerificationToken     *string    `bson:"verification_token,omitempty" json:"-"`
	VerificationExpiresAt *time.Time `bson:"verification_expires_at,omitempty" json:"-"`

	ResetToken     *string    `bson:"reset_token,omitempty" json:"-"`
	ResetExpiresAt *time.Time `bson:"reset_expires_at,omitempty" json:"-"`

	PendingEmail         *string    `bson:"pending_email,omitempty" json:"-"`
	EmailChangeToken     *string    `bson:"email_change_token,omitempty" json:"-"`
	EmailChangeExpiresAt *time.Time `bson:"email_change_expires_at,omitempty" json:"-"`
	EmailChangedAt       *time.Time `bson:"email_changed_at,omitempty" json:"email_changed_at,omitempty"`

	FailedLogins int        `bson:"failed_logins" json:"-"`
	LockedUntil  *time.Time `bson:"locked_until,omitempty" json:"-"`
	LastLoginAt  *time.Time `bson:"last_login_at,omitempty" json:"last_login_at,omitempty"`

	DeletionScheduledAt  *time.Time `bson:"deletion_scheduled_at,omitempty" json:"deletion_scheduled_at,omitempty"`
	DeletionScheduledFor *time.Time `bson:"deletion_scheduled_for,omitempty" json:"deletion_scheduled_for,omitempty"`

	CreatedAt time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt *time.Time `bson:"updated_at,omitempty" json:"updated_at,omitempty"`
}

// DeletionPending reports whether the account carries a live deletion schedule.
func (a *Account) DeletionPending() bool {
	return a.DeletionScheduledFor != nil
}

// DeletionDue reports whether the scheduled deletion deadline has passed.
func (a *Account) DeletionDue(now time.Time) bool {
	return a.DeletionScheduledFor != nil && !a.DeletionScheduledFor.After(now)
}
