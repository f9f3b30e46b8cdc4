package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bizdir/internal/hashing"
	"bizdir/internal/model"
	"bizdir/internal/ratelimit"
	"bizdir/internal/regstore"
	"bizdir/internal/token"
)

type authFixture struct {
	svc      *AuthService
	repo     *fakeRepo
	mail     *fakeMailer
	regStore *regstore.Store
	hasher   *hashing.Hasher
	issuer   *token.Issuer
	current  *time.Time
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	cfg := newTestConfig()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := base
	clock := func() time.Time { return current }

	repo := newFakeRepo()
	mail := &fakeMailer{}
	hasher := hashing.NewHasher(testHashParams)

	issuer, err := token.NewIssuer(token.Config{
		AccessSecret:  []byte(cfg.Auth.AccessSecret),
		RefreshSecret: []byte(cfg.Auth.RefreshSecret),
		AccessTTL:     cfg.Auth.AccessTTL,
		RefreshTTL:    cfg.Auth.RefreshTTL,
		Issuer:        cfg.Auth.Issuer,
	})
	require.NoError(t, err)

	store := regstore.New(cfg.Registration.Capacity, cfg.Registration.TTL, zap.NewNop())
	resend := ratelimit.NewIntervalLimiter(cfg.RateLimit.ResendInterval)
	window := ratelimit.NewSlidingWindowLimiter(cfg.RateLimit.EmailMax, cfg.RateLimit.EmailWindow)

	svc := NewAuthService(repo, hasher, issuer, store, resend, window, mail, nil, cfg, zap.NewNop())

	fx := &authFixture{
		svc:      svc,
		repo:     repo,
		mail:     mail,
		regStore: store,
		hasher:   hasher,
		issuer:   issuer,
		current:  &current,
	}
	svc.SetClock(clock)
	store.SetClock(clock)
	resend.SetClock(clock)
	window.SetClock(clock)
	return fx
}

func (fx *authFixture) advance(d time.Duration) {
	*fx.current = fx.current.Add(d)
}

func (fx *authFixture) seedVerified(t *testing.T, email, password string) *model.Account {
	t.Helper()
	hash, err := fx.hasher.HashPassword(password)
	require.NoError(t, err)
	return fx.repo.seed(&model.Account{
		Email:        email,
		PasswordHash: hash,
		Name:         "Seeded User",
		Verified:     true,
	})
}

func TestRegisterParksInStore(t *testing.T) {
	fx := newAuthFixture(t)

	result, err := fx.svc.Register(context.Background(), &RegisterRequest{
		Email:    "New@Example.com",
		Password: "long enough password",
		Name:     "New User",
		IP:       "10.0.0.1",
	})
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", result.Email)
	assert.True(t, result.EmailSent)

	// Nothing persisted; the payload waits in the ephemeral store.
	assert.Equal(t, 0, fx.repo.count())
	assert.Equal(t, 1, fx.regStore.Len())

	sent := fx.mail.sentTo("new@example.com")
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].data["Link"], "/api/v1/auth/verify-email/")
}

func TestRegisterValidation(t *testing.T) {
	fx := newAuthFixture(t)

	_, err := fx.svc.Register(context.Background(), &RegisterRequest{
		Email:    "not-an-email",
		Password: "short",
	})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Details, 3)
}

func TestRegisterRejectsExistingEmail(t *testing.T) {
	fx := newAuthFixture(t)
	fx.seedVerified(t, "taken@example.com", "some password")

	_, err := fx.svc.Register(context.Background(), &RegisterRequest{
		Email:    "taken@example.com",
		Password: "long enough password",
		Name:     "Someone",
	})
	assert.ErrorIs(t, err, ErrEmailAlreadyExists)
}

func TestRegisterEmailRateLimited(t *testing.T) {
	fx := newAuthFixture(t)

	req := &RegisterRequest{
		Email:    "a@example.com",
		Password: "long enough password",
		Name:     "A",
	}
	_, err := fx.svc.Register(context.Background(), req)
	require.NoError(t, err)

	fx.advance(10 * time.Second)
	_, err = fx.svc.Register(context.Background(), req)
	var rle *RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, "email", rle.Scope)
	assert.Equal(t, 50, rle.RetryAfter)

	// After the interval the resend goes through and replaces the old entry.
	fx.advance(51 * time.Second)
	_, err = fx.svc.Register(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, fx.regStore.Len())
}

func TestRegisterEmailFailureIsNonFatal(t *testing.T) {
	fx := newAuthFixture(t)
	fx.mail.fail = true

	result, err := fx.svc.Register(context.Background(), &RegisterRequest{
		Email:    "a@example.com",
		Password: "long enough password",
		Name:     "A",
	})
	require.NoError(t, err)
	assert.False(t, result.EmailSent)
	assert.Equal(t, 1, fx.regStore.Len())
}

func TestLoginSuccess(t *testing.T) {
	fx := newAuthFixture(t)
	seeded := fx.seedVerified(t, "a@example.com", "right password")

	acc, pair, err := fx.svc.Login(context.Background(), "A@Example.com", "right password")
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, acc.ID)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)

	stored, err := fx.repo.GetByID(context.Background(), seeded.ID.Hex())
	require.NoError(t, err)
	require.NotNil(t, stored.LastLoginAt)
	assert.Equal(t, *fx.current, *stored.LastLoginAt)
}

func TestLoginUnknownEmailIsInvalidCredentials(t *testing.T) {
	fx := newAuthFixture(t)

	_, _, err := fx.svc.Login(context.Background(), "nobody@example.com", "whatever")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginLockoutAfterFiveFailures(t *testing.T) {
	fx := newAuthFixture(t)
	seeded := fx.seedVerified(t, "a@example.com", "right password")

	for i := 0; i < 5; i++ {
		_, _, err := fx.svc.Login(context.Background(), "a@example.com", "wrong password")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	}

	// Locked now, even with the correct password.
	_, _, err := fx.svc.Login(context.Background(), "a@example.com", "right password")
	assert.ErrorIs(t, err, ErrAccountLocked)

	stored, err := fx.repo.GetByID(context.Background(), seeded.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, 5, stored.FailedLogins)
	require.NotNil(t, stored.LockedUntil)
	assert.Equal(t, fx.current.Add(2*time.Hour), *stored.LockedUntil)
}

func TestLoginAfterLockExpiry(t *testing.T) {
	fx := newAuthFixture(t)
	seeded := fx.seedVerified(t, "a@example.com", "right password")

	for i := 0; i < 5; i++ {
		fx.svc.Login(context.Background(), "a@example.com", "wrong password")
	}

	fx.advance(2*time.Hour + time.Minute)

	// One failure after the lock expires restarts the count, no re-lock.
	_, _, err := fx.svc.Login(context.Background(), "a@example.com", "wrong password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	stored, err := fx.repo.GetByID(context.Background(), seeded.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, 1, stored.FailedLogins)
	assert.Nil(t, stored.LockedUntil)

	_, _, err = fx.svc.Login(context.Background(), "a@example.com", "right password")
	assert.NoError(t, err)
}

func TestLoginUnverifiedResetsCounter(t *testing.T) {
	fx := newAuthFixture(t)
	hash, err := fx.hasher.HashPassword("right password")
	require.NoError(t, err)
	seeded := fx.repo.seed(&model.Account{
		Email:        "pending@example.com",
		PasswordHash: hash,
		Name:         "Pending",
		Verified:     false,
		FailedLogins: 3,
	})

	_, _, err = fx.svc.Login(context.Background(), "pending@example.com", "right password")
	assert.ErrorIs(t, err, ErrEmailNotVerified)

	// Correct credentials cleared the streak but did not stamp a login.
	stored, err := fx.repo.GetByID(context.Background(), seeded.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, 0, stored.FailedLogins)
	assert.Nil(t, stored.LastLoginAt)
}

func TestLoginUnverifiedWrongPasswordStillCounts(t *testing.T) {
	fx := newAuthFixture(t)
	hash, err := fx.hasher.HashPassword("right password")
	require.NoError(t, err)
	seeded := fx.repo.seed(&model.Account{
		Email:        "pending@example.com",
		PasswordHash: hash,
		Verified:     false,
	})

	_, _, err = fx.svc.Login(context.Background(), "pending@example.com", "wrong password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	stored, err := fx.repo.GetByID(context.Background(), seeded.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, 1, stored.FailedLogins)
}

func TestRefresh(t *testing.T) {
	fx := newAuthFixture(t)
	fx.seedVerified(t, "a@example.com", "right password")

	_, pair, err := fx.svc.Login(context.Background(), "a@example.com", "right password")
	require.NoError(t, err)

	fresh, err := fx.svc.Refresh(context.Background(), pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, fresh.AccessToken)

	// An access token is not accepted on the refresh path.
	_, err = fx.svc.Refresh(context.Background(), pair.AccessToken)
	assert.Error(t, err)
}

func TestRefreshDeletedAccount(t *testing.T) {
	fx := newAuthFixture(t)
	seeded := fx.seedVerified(t, "a@example.com", "right password")

	_, pair, err := fx.svc.Login(context.Background(), "a@example.com", "right password")
	require.NoError(t, err)

	fx.repo.remove(seeded.ID.Hex())

	_, err = fx.svc.Refresh(context.Background(), pair.RefreshToken)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestRefreshLockedAccount(t *testing.T) {
	fx := newAuthFixture(t)
	fx.seedVerified(t, "a@example.com", "right password")

	_, pair, err := fx.svc.Login(context.Background(), "a@example.com", "right password")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		fx.svc.Login(context.Background(), "a@example.com", "wrong password")
	}

	_, err = fx.svc.Refresh(context.Background(), pair.RefreshToken)
	assert.ErrorIs(t, err, ErrAccountLocked)
}
