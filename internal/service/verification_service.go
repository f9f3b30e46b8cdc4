package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bizdir/internal/config"
	"bizdir/internal/events"
	"bizdir/internal/hashing"
	"bizdir/internal/mailer"
	"bizdir/internal/model"
	"bizdir/internal/ratelimit"
	"bizdir/internal/regstore"
	mongorepo "bizdir/internal/repository/mongo"
	"bizdir/internal/token"
	"bizdir/internal/util"
)

// VerificationService orchestrates the token-driven workflows: registration
// confirmation, verification resend, password reset and two-step email
// change. Every workflow follows the same pattern: token issued, token
// consumed exactly once, state transition.
type VerificationService struct {
	repo          mongorepo.AccountRepository
	regStore      *regstore.Store
	hasher        *hashing.Hasher
	issuer        *token.Issuer
	mail          mailer.Mailer
	publisher     *events.Publisher
	resendLimiter *ratelimit.IntervalLimiter
	emailWindow   *ratelimit.SlidingWindowLimiter
	tokenTTL      time.Duration
	baseURL       string
	logger        *zap.Logger
	now           func() time.Time
}

// NewVerificationService wires the verification and change workflows.
func NewVerificationService(
	repo mongorepo.AccountRepository,
	regStore *regstore.Store,
	hasher *hashing.Hasher,
	issuer *token.Issuer,
	mail mailer.Mailer,
	publisher *events.Publisher,
	resendLimiter *ratelimit.IntervalLimiter,
	emailWindow *ratelimit.SlidingWindowLimiter,
	cfg *config.Config,
	logger *zap.Logger,
) *VerificationService {
	return &VerificationService{
		repo:          repo,
		regStore:      regStore,
		hasher:        hasher,
		issuer:        issuer,
		mail:          mail,
		publisher:     publisher,
		resendLimiter: resendLimiter,
		emailWindow:   emailWindow,
		tokenTTL:      cfg.Auth.TokenTTL,
		baseURL:       cfg.Server.BaseURL,
		logger:        logger,
		now:           time.Now,
	}
}

// SetClock overrides the service clock. Tests only.
func (s *VerificationService) SetClock(now func() time.Time) {
	s.now = now
}

// VerifyEmail consumes a verification token. The ephemeral store is tried
// first: a hit promotes the parked signup into a verified account and logs
// the user straight in. Otherwise the legacy path flips the verified flag
// on a persisted account holding the token. Re-visiting the link of an
// already-verified account is an idempotent success.
func (s *VerificationService) VerifyEmail(ctx context.Context, tok string) (*model.Account, *token.Pair, error) {
	if reg, ok := s.regStore.Consume(tok); ok {
		return s.promoteRegistration(ctx, reg)
	}

	acc, err := s.repo.GetByVerificationToken(ctx, tok)
	if err != nil {
		if errors.Is(err, mongorepo.ErrNotFound) {
			return nil, nil, ErrInvalidOrExpiredToken
		}
		return nil, nil, fmt.Errorf("failed to look up verification token: %w", err)
	}

	if acc.Verified {
		// Stale link on a verified account: idempotent success.
		pair, err := s.issuer.Issue(acc.ID.Hex())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to issue tokens: %w", err)
		}
		return acc, pair, nil
	}

	if acc.VerificationExpiresAt == nil || !acc.VerificationExpiresAt.After(s.now()) {
		return nil, nil, ErrInvalidOrExpiredToken
	}

	if err := s.repo.MarkVerified(ctx, acc.ID.Hex()); err != nil {
		return nil, nil, fmt.Errorf("failed to mark account verified: %w", err)
	}
	acc.Verified = true
	acc.VerificationToken = nil
	acc.VerificationExpiresAt = nil

	s.publisher.Publish(ctx, events.TypeAccountVerified, acc.ID.Hex(), nil)

	pair, err := s.issuer.Issue(acc.ID.Hex())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to issue tokens: %w", err)
	}

	s.logger.Info("account verified", util.String("account_id", acc.ID.Hex()))
	return acc, pair, nil
}

// promoteRegistration turns a consumed ephemeral registration into a
// verified persisted account. The mailbox ownership proof already happened.
func (s *VerificationService) promoteRegistration(ctx context.Context, reg *model.Registration) (*model.Account, *token.Pair, error) {
	acc := &model.Account{
		Email:        reg.Email,
		PasswordHash: reg.PasswordHash,
		Name:         reg.Name,
		Phone:        reg.Phone,
		Verified:     true,
	}

	if err := s.repo.Create(ctx, acc); err != nil {
		if errors.Is(err, mongorepo.ErrDuplicateEmail) {
			// The address was claimed between signup and confirmation.
			return nil, nil, ErrEmailAlreadyExists
		}
		return nil, nil, fmt.Errorf("failed to create account: %w", err)
	}

	s.publisher.Publish(ctx, events.TypeAccountCreated, acc.ID.Hex(), map[string]string{"source": "registration"})
	s.publisher.Publish(ctx, events.TypeAccountVerified, acc.ID.Hex(), nil)

	pair, err := s.issuer.Issue(acc.ID.Hex())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to issue tokens: %w", err)
	}

	s.logger.Info("registration promoted to account",
		util.String("account_id", acc.ID.Hex()),
		util.String("email", acc.Email))

	return acc, pair, nil
}

// ResendVerification re-issues a verification token for a pending
// registration or an unverified persisted account, invalidating the old
// link. Unknown addresses still resolve to a generic success so mailboxes
// cannot be enumerated.
func (s *VerificationService) ResendVerification(ctx context.Context, email, ip string) error {
	email = util.NormalizeEmail(email)

	if allowed, retryAfter := s.resendLimiter.Check(email); !allowed {
		return &RateLimitError{Scope: "email", RetryAfter: retryAfter}
	}
	if ip != "" {
		if allowed, retryAfter := s.emailWindow.Check(ip); !allowed {
			return &RateLimitError{Scope: "ip", RetryAfter: retryAfter}
		}
	}

	markSent := func() {
		s.resendLimiter.MarkSent(email)
		if ip != "" {
			s.emailWindow.MarkSent(ip)
		}
	}

	// Pending registration first: rotate its token and resend.
	if reg, ok := s.regStore.RotateToken(email, uuid.NewString()); ok {
		markSent()
		if err := s.mail.Send(ctx, mailer.KindVerification, email, map[string]string{
			"Name": reg.Name,
			"Link": s.verifyLink(reg.Token),
			"TTL":  s.regStore.TTL().String(),
		}); err != nil {
			s.logger.Warn("verification resend failed", util.ErrorField(err))
		}
		return nil
	}

	acc, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, mongorepo.ErrNotFound) {
			// Generic success; nothing to send.
			return nil
		}
		return fmt.Errorf("failed to look up account: %w", err)
	}
	if acc.Verified {
		return nil
	}

	tok := uuid.NewString()
	if err := s.repo.SetVerificationToken(ctx, acc.ID.Hex(), tok, s.now().Add(s.tokenTTL)); err != nil {
		return fmt.Errorf("failed to set verification token: %w", err)
	}

	markSent()
	if err := s.mail.Send(ctx, mailer.KindVerification, email, map[string]string{
		"Name": acc.Name,
		"Link": s.verifyLink(tok),
		"TTL":  s.tokenTTL.String(),
	}); err != nil {
		s.logger.Warn("verification resend failed", util.ErrorField(err))
	}
	return nil
}

// RequestPasswordReset issues a reset token and mails it to the account's
// existing address. Unknown addresses silently no-op to the same generic
// success.
func (s *VerificationService) RequestPasswordReset(ctx context.Context, email, ip string) error {
	email = util.NormalizeEmail(email)

	if allowed, retryAfter := s.resendLimiter.Check(email); !allowed {
		return &RateLimitError{Scope: "email", RetryAfter: retryAfter}
	}
	if ip != "" {
		if allowed, retryAfter := s.emailWindow.Check(ip); !allowed {
			return &RateLimitError{Scope: "ip", RetryAfter: retryAfter}
		}
	}

	acc, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, mongorepo.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to look up account: %w", err)
	}

	tok := uuid.NewString()
	if err := s.repo.SetResetToken(ctx, acc.ID.Hex(), tok, s.now().Add(s.tokenTTL)); err != nil {
		return fmt.Errorf("failed to set reset token: %w", err)
	}

	s.resendLimiter.MarkSent(email)
	if ip != "" {
		s.emailWindow.MarkSent(ip)
	}

	if err := s.mail.Send(ctx, mailer.KindPasswordReset, email, map[string]string{
		"Link": fmt.Sprintf("%s/reset-password?token=%s", s.baseURL, tok),
		"TTL":  s.tokenTTL.String(),
	}); err != nil {
		s.logger.Warn("password reset email failed", util.ErrorField(err))
	}
	return nil
}

// ConfirmPasswordReset validates the reset token, sets the new password and
// clears the token. It does not log the user in.
func (s *VerificationService) ConfirmPasswordReset(ctx context.Context, tok, newPassword string) error {
	if len(newPassword) < 8 {
		return &ValidationError{Details: []string{"password must be at least 8 characters"}}
	}

	acc, err := s.repo.GetByResetToken(ctx, tok)
	if err != nil {
		if errors.Is(err, mongorepo.ErrNotFound) {
			return ErrInvalidOrExpiredToken
		}
		return fmt.Errorf("failed to look up reset token: %w", err)
	}
	if acc.ResetExpiresAt == nil || !acc.ResetExpiresAt.After(s.now()) {
		return ErrInvalidOrExpiredToken
	}

	hash, err := s.hasher.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if err := s.repo.UpdatePassword(ctx, acc.ID.Hex(), hash); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	s.logger.Info("password reset completed", util.String("account_id", acc.ID.Hex()))
	return nil
}

// RequestEmailChange starts the two-step change. The verification goes to
// the NEW address, proving ownership of the destination mailbox. The
// address must be free at request time; availability is re-checked at
// confirmation.
func (s *VerificationService) RequestEmailChange(ctx context.Context, accountID, newEmail string) error {
	newEmail = util.NormalizeEmail(newEmail)
	if !util.ValidEmail(newEmail) {
		return &ValidationError{Details: []string{"email must be a valid address"}}
	}

	acc, err := s.repo.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, mongorepo.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("failed to look up account: %w", err)
	}
	if acc.Email == newEmail {
		return &ValidationError{Details: []string{"new email matches the current address"}}
	}

	taken, err := s.repo.EmailExists(ctx, newEmail)
	if err != nil {
		return fmt.Errorf("failed to check email availability: %w", err)
	}
	if taken {
		return ErrEmailTaken
	}

	tok := uuid.NewString()
	if err := s.repo.SetPendingEmailChange(ctx, accountID, newEmail, tok, s.now().Add(s.tokenTTL)); err != nil {
		return fmt.Errorf("failed to set pending email change: %w", err)
	}

	if err := s.mail.Send(ctx, mailer.KindEmailChange, newEmail, map[string]string{
		"Link": fmt.Sprintf("%s/api/v1/account/verify-email-change/%s", s.baseURL, tok),
		"TTL":  s.tokenTTL.String(),
	}); err != nil {
		s.logger.Warn("email change mail failed", util.ErrorField(err))
	}

	s.logger.Info("email change requested",
		util.String("account_id", accountID),
		util.String("pending_email", newEmail))
	return nil
}

// ConfirmEmailChange re-validates the token, re-checks availability of the
// target address (closing the race where another account claimed it since
// the request), then swaps the primary email. A conflict leaves the
// original email untouched.
func (s *VerificationService) ConfirmEmailChange(ctx context.Context, accountID, tok string) (*model.Account, error) {
	acc, err := s.repo.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, mongorepo.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}

	if acc.PendingEmail == nil || acc.EmailChangeToken == nil {
		return nil, ErrNoPendingChange
	}
	if *acc.EmailChangeToken != tok {
		return nil, ErrInvalidOrExpiredToken
	}
	if acc.EmailChangeExpiresAt == nil || !acc.EmailChangeExpiresAt.After(s.now()) {
		return nil, ErrInvalidOrExpiredToken
	}

	newEmail := *acc.PendingEmail
	taken, err := s.repo.EmailExists(ctx, newEmail)
	if err != nil {
		return nil, fmt.Errorf("failed to re-check email availability: %w", err)
	}
	if taken {
		// The change can never succeed now; drop the pending state.
		if err := s.repo.ClearPendingEmailChange(ctx, accountID); err != nil {
			s.logger.Error("failed to clear pending email change", util.ErrorField(err))
		}
		return nil, ErrEmailTaken
	}

	if err := s.repo.CommitEmailChange(ctx, accountID, newEmail); err != nil {
		if errors.Is(err, mongorepo.ErrDuplicateEmail) {
			// Lost the race between the availability check and the write.
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("failed to commit email change: %w", err)
	}

	oldEmail := acc.Email
	acc.Email = newEmail
	acc.PendingEmail = nil
	acc.EmailChangeToken = nil
	acc.EmailChangeExpiresAt = nil
	now := s.now()
	acc.EmailChangedAt = &now

	s.publisher.Publish(ctx, events.TypeAccountEmailChanged, accountID, map[string]string{
		"old_email": oldEmail,
		"new_email": newEmail,
	})

	s.logger.Info("email change confirmed",
		util.String("account_id", accountID),
		util.String("new_email", newEmail))

	return acc, nil
}

func (s *VerificationService) verifyLink(tok string) string {
	return fmt.Sprintf("%s/api/v1/auth/verify-email/%s", s.baseURL, tok)
}
