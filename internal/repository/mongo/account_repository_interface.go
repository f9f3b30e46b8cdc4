package mongo

import (
	"context"
	"errors"
	"time"

	"bizdir/internal/model"
)

var (
	// ErrNotFound is returned when no account matches the lookup.
	ErrNotFound = errors.New("account not found")
	// ErrDuplicateEmail is returned when a create or email swap collides
	// with the unique email index.
	ErrDuplicateEmail = errors.New("email already exists")
)

// AccountRepository is the persistence collaborator for the identity
// lifecycle. Lookups by token only match live (unexpired is the caller's
// concern) token fields; field updates are atomic single-document writes.
type AccountRepository interface {
	Create(ctx context.Context, acc *model.Account) error
	GetByID(ctx context.Context, id string) (*model.Account, error)
	GetByEmail(ctx context.Context, email string) (*model.Account, error)
	GetByVerificationToken(ctx context.Context, token string) (*model.Account, error)
	GetByResetToken(ctx context.Context, token string) (*model.Account, error)
	EmailExists(ctx context.Context, email string) (bool, error)

	// Security state
	UpdateSecurityState(ctx context.Context, id string, failedLogins int, lockedUntil, lastLoginAt *time.Time) error

	// Verification
	MarkVerified(ctx context.Context, id string) error
	SetVerificationToken(ctx context.Context, id, token string, expiresAt time.Time) error

	// Password reset
	SetResetToken(ctx context.Context, id, token string, expiresAt time.Time) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error

	// Email change
	SetPendingEmailChange(ctx context.Context, id, newEmail, token string, expiresAt time.Time) error
	CommitEmailChange(ctx context.Context, id, newEmail string) error
	ClearPendingEmailChange(ctx context.Context, id string) error

	// Deferred deletion. DeleteDue only removes the account if its
	// deletion deadline has passed at delete time, so a schedule cancelled
	// after a cleanup snapshot was taken is honoured.
	ScheduleDeletion(ctx context.Context, id string, scheduledAt, scheduledFor time.Time) error
	CancelDeletion(ctx context.Context, id string) error
	ListScheduledDeletions(ctx context.Context, limit int) ([]*model.Account, error)
	DeleteDue(ctx context.Context, id string, now time.Time) error

	HealthCheck(ctx context.Context) error
}
