package service

import (
	"context"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"bizdir/internal/config"
	"bizdir/internal/hashing"
	"bizdir/internal/mailer"
	"bizdir/internal/model"
	mongorepo "bizdir/internal/repository/mongo"
)

// fakeRepo is an in-memory AccountRepository for the service tests.
type fakeRepo struct {
	mu       sync.Mutex
	accounts map[string]*model.Account // id hex -> account
	failAll  error                     // when set, every call fails with it
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{accounts: make(map[string]*model.Account)}
}

func (r *fakeRepo) get(id string) (*model.Account, bool) {
	acc, ok := r.accounts[id]
	return acc, ok
}

func copyAccount(acc *model.Account) *model.Account {
	cp := *acc
	return &cp
}

func (r *fakeRepo) Create(ctx context.Context, acc *model.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll != nil {
		return r.failAll
	}
	for _, existing := range r.accounts {
		if existing.Email == acc.Email {
			return mongorepo.ErrDuplicateEmail
		}
	}
	acc.ID = primitive.NewObjectID()
	acc.CreatedAt = time.Now()
	r.accounts[acc.ID.Hex()] = copyAccount(acc)
	return nil
}

func (r *fakeRepo) GetByID(ctx context.Context, id string) (*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll != nil {
		return nil, r.failAll
	}
	if acc, ok := r.get(id); ok {
		return copyAccount(acc), nil
	}
	return nil, mongorepo.ErrNotFound
}

func (r *fakeRepo) GetByEmail(ctx context.Context, email string) (*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll != nil {
		return nil, r.failAll
	}
	for _, acc := range r.accounts {
		if acc.Email == email {
			return copyAccount(acc), nil
		}
	}
	return nil, mongorepo.ErrNotFound
}

func (r *fakeRepo) GetByVerificationToken(ctx context.Context, token string) (*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, acc := range r.accounts {
		if acc.VerificationToken != nil && *acc.VerificationToken == token {
			return copyAccount(acc), nil
		}
	}
	return nil, mongorepo.ErrNotFound
}

func (r *fakeRepo) GetByResetToken(ctx context.Context, token string) (*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, acc := range r.accounts {
		if acc.ResetToken != nil && *acc.ResetToken == token {
			return copyAccount(acc), nil
		}
	}
	return nil, mongorepo.ErrNotFound
}

func (r *fakeRepo) EmailExists(ctx context.Context, email string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll != nil {
		return false, r.failAll
	}
	for _, acc := range r.accounts {
		if acc.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeRepo) UpdateSecurityState(ctx context.Context, id string, failedLogins int, lockedUntil, lastLoginAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	acc, ok := r.get(id)
	if !ok {
		return mongorepo.ErrNotFound
	}
	acc.FailedLogins = failedLogins
	acc.LockedUntil = lockedUntil
	if lastLoginAt != nil {
		acc.LastLoginAt = lastLoginAt
	}
	return nil
}

func (r *fakeRepo) MarkVerified(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	acc, ok := r.get(id)
	if !ok {
		return mongorepo.ErrNotFound
	}
	acc.Verified = true
	acc.VerificationToken = nil
	acc.VerificationExpiresAt = nil
	return nil
}

func (r *fakeRepo) SetVerificationToken(ctx context.Context, id, token string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	acc, ok := r.get(id)
	if !ok {
		return mongorepo.ErrNotFound
	}
	acc.VerificationToken = &token
	acc.VerificationExpiresAt = &expiresAt
	return nil
}

func (r *fakeRepo) SetResetToken(ctx context.Context, id, token string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	acc, ok := r.get(id)
	if !ok {
		return mongorepo.ErrNotFound
	}
	acc.ResetToken = &token
	acc.ResetExpiresAt = &expiresAt
	return nil
}

func (r *fakeRepo) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	acc, ok := r.get(id)
	if !ok {
		return mongorepo.ErrNotFound
	}
	acc.PasswordHash = passwordHash
	acc.ResetToken = nil
	acc.ResetExpiresAt = nil
	return nil
}

func (r *fakeRepo) SetPendingEmailChange(ctx context.Context, id, newEmail, token string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	acc, ok := r.get(id)
	if !ok {
		return mongorepo.ErrNotFound
	}
	acc.PendingEmail = &newEmail
	acc.EmailChangeToken = &token
	acc.EmailChangeExpiresAt = &expiresAt
	return nil
}

func (r *fakeRepo) CommitEmailChange(ctx context.Context, id, newEmail string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for otherID, other := range r.accounts {
		if otherID != id && other.Email == newEmail {
			return mongorepo.ErrDuplicateEmail
		}
	}
	acc, ok := r.get(id)
	if !ok {
		return mongorepo.ErrNotFound
	}
	acc.Email = newEmail
	acc.PendingEmail = nil
	acc.EmailChangeToken = nil
	acc.EmailChangeExpiresAt = nil
	now := time.Now()
	acc.EmailChangedAt = &now
	return nil
}

func (r *fakeRepo) ClearPendingEmailChange(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	acc, ok := r.get(id)
	if !ok {
		return mongorepo.ErrNotFound
	}
	acc.PendingEmail = nil
	acc.EmailChangeToken = nil
	acc.EmailChangeExpiresAt = nil
	return nil
}

func (r *fakeRepo) ScheduleDeletion(ctx context.Context, id string, scheduledAt, scheduledFor time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	acc, ok := r.get(id)
	if !ok {
		return mongorepo.ErrNotFound
	}
	acc.DeletionScheduledAt = &scheduledAt
	acc.DeletionScheduledFor = &scheduledFor
	return nil
}

func (r *fakeRepo) CancelDeletion(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	acc, ok := r.get(id)
	if !ok {
		return mongorepo.ErrNotFound
	}
	acc.DeletionScheduledAt = nil
	acc.DeletionScheduledFor = nil
	return nil
}

func (r *fakeRepo) ListScheduledDeletions(ctx context.Context, limit int) ([]*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll != nil {
		return nil, r.failAll
	}
	var out []*model.Account
	for _, acc := range r.accounts {
		if acc.DeletionPending() {
			out = append(out, copyAccount(acc))
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *fakeRepo) DeleteDue(ctx context.Context, id string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	acc, ok := r.get(id)
	if !ok || !acc.DeletionDue(now) {
		return mongorepo.ErrNotFound
	}
	delete(r.accounts, id)
	return nil
}

func (r *fakeRepo) HealthCheck(ctx context.Context) error { return nil }

// remove drops an account directly, bypassing the workflows.
func (r *fakeRepo) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.accounts, id)
}

// seed installs an account directly, bypassing the workflows.
func (r *fakeRepo) seed(acc *model.Account) *model.Account {
	r.mu.Lock()
	defer r.mu.Unlock()
	if acc.ID.IsZero() {
		acc.ID = primitive.NewObjectID()
	}
	r.accounts[acc.ID.Hex()] = acc
	return acc
}

func (r *fakeRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.accounts)
}

// fakeMailer records sends and can be told to fail.
type fakeMailer struct {
	mu    sync.Mutex
	sent  []sentMail
	fail  bool
	err   error
	delay time.Duration
}

type sentMail struct {
	kind mailer.Kind
	to   string
	data map[string]string
}

func (m *fakeMailer) Send(ctx context.Context, kind mailer.Kind, to string, data map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		if m.err != nil {
			return m.err
		}
		return context.DeadlineExceeded
	}
	m.sent = append(m.sent, sentMail{kind: kind, to: to, data: data})
	return nil
}

func (m *fakeMailer) sentTo(to string) []sentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []sentMail
	for _, s := range m.sent {
		if s.to == to {
			out = append(out, s)
		}
	}
	return out
}

func (m *fakeMailer) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// fast argon2 settings so the suite stays quick
var testHashParams = hashing.Argon2Params{
	Memory:      8 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

func newTestConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		Server: config.ServerConfig{
			BaseURL: "http://localhost:8080",
		},
		Auth: config.AuthConfig{
			AccessSecret:     "access-secret-for-tests",
			RefreshSecret:    "refresh-secret-for-tests",
			AccessTTL:        15 * time.Minute,
			RefreshTTL:       7 * 24 * time.Hour,
			Issuer:           "bizdir-identity",
			MaxLoginAttempts: 5,
			LockDuration:     2 * time.Hour,
			TokenTTL:         24 * time.Hour,
			DeletionGrace:    30 * 24 * time.Hour,
		},
		Registration: config.RegistrationConfig{
			TTL:      24 * time.Hour,
			Capacity: 100,
		},
		RateLimit: config.RateLimitConfig{
			ResendInterval: 60 * time.Second,
			EmailWindow:    time.Hour,
			EmailMax:       10,
		},
		Cleanup: config.CleanupConfig{
			InitialDelay: 5 * time.Minute,
			Interval:     6 * time.Hour,
			BatchLimit:   500,
		},
	}
}
