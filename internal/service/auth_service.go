package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"bizdir/internal/config"
	"bizdir/internal/events"
	"bizdir/internal/hashing"
	"bizdir/internal/mailer"
	"bizdir/internal/model"
	"bizdir/internal/ratelimit"
	"bizdir/internal/regstore"
	mongorepo "bizdir/internal/repository/mongo"
	"bizdir/internal/security"
	"bizdir/internal/token"
	"bizdir/internal/util"
)

// AuthService implements registration, login and token refresh.
type AuthService struct {
	repo          mongorepo.AccountRepository
	hasher        *hashing.Hasher
	issuer        *token.Issuer
	regStore      *regstore.Store
	resendLimiter *ratelimit.IntervalLimiter
	emailWindow   *ratelimit.SlidingWindowLimiter
	mail          mailer.Mailer
	publisher     *events.Publisher
	lockout       security.LockoutPolicy
	baseURL       string
	logger        *zap.Logger
	now           func() time.Time
}

// NewAuthService wires the registration/login workflow.
func NewAuthService(
	repo mongorepo.AccountRepository,
	hasher *hashing.Hasher,
	issuer *token.Issuer,
	regStore *regstore.Store,
	resendLimiter *ratelimit.IntervalLimiter,
	emailWindow *ratelimit.SlidingWindowLimiter,
	mail mailer.Mailer,
	publisher *events.Publisher,
	cfg *config.Config,
	logger *zap.Logger,
) *AuthService {
	return &AuthService{
		repo:          repo,
		hasher:        hasher,
		issuer:        issuer,
		regStore:      regStore,
		resendLimiter: resendLimiter,
		emailWindow:   emailWindow,
		mail:          mail,
		publisher:     publisher,
		lockout: security.LockoutPolicy{
			Threshold:    cfg.Auth.MaxLoginAttempts,
			LockDuration: cfg.Auth.LockDuration,
		},
		baseURL: cfg.Server.BaseURL,
		logger:  logger,
		now:     time.Now,
	}
}

// SetClock overrides the service clock. Tests only.
func (s *AuthService) SetClock(now func() time.Time) {
	s.now = now
}

// RegisterRequest is a signup submission.
type RegisterRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	Name      string `json:"name"`
	Phone     string `json:"phone,omitempty"`
	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

// RegisterResult reports the outcome of a registration request. EmailSent
// is false when the verification email could not be delivered; the signup
// itself still stands and the user can ask for a resend.
type RegisterResult struct {
	Email     string `json:"email"`
	EmailSent bool   `json:"email_sent"`
}

// Register validates the submission and parks it in the ephemeral store
// until the verification link is visited. Nothing touches durable storage
// here.
func (s *AuthService) Register(ctx context.Context, req *RegisterRequest) (*RegisterResult, error) {
	if err := validateRegistration(req); err != nil {
		return nil, err
	}
	email := util.NormalizeEmail(req.Email)

	if allowed, retryAfter := s.resendLimiter.Check(email); !allowed {
		return nil, &RateLimitError{Scope: "email", RetryAfter: retryAfter}
	}
	if req.IP != "" {
		if allowed, retryAfter := s.emailWindow.Check(req.IP); !allowed {
			return nil, &RateLimitError{Scope: "ip", RetryAfter: retryAfter}
		}
	}

	exists, err := s.repo.EmailExists(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to check email availability: %w", err)
	}
	if exists {
		return nil, ErrEmailAlreadyExists
	}

	passwordHash, err := s.hasher.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	reg := &model.Registration{
		Token:        newOpaqueToken(),
		Email:        email,
		PasswordHash: passwordHash,
		Name:         util.SanitizeInput(req.Name),
		Phone:        util.SanitizeInput(req.Phone),
		IP:           req.IP,
		UserAgent:    req.UserAgent,
	}
	if err := s.regStore.Put(reg); err != nil {
		if errors.Is(err, regstore.ErrCapacityExceeded) {
			return nil, ErrRegistrationFull
		}
		return nil, err
	}

	s.resendLimiter.MarkSent(email)
	if req.IP != "" {
		s.emailWindow.MarkSent(req.IP)
	}

	result := &RegisterResult{Email: email, EmailSent: true}
	if err := s.sendVerificationMail(ctx, email, reg.Name, reg.Token); err != nil {
		// Non-fatal: the registration is parked, only the user-facing
		// message changes.
		s.logger.Warn("verification email delivery failed",
			util.String("email", email),
			util.ErrorField(err))
		result.EmailSent = false
	}

	s.logger.Info("registration parked",
		util.String("email", email),
		util.Bool("email_sent", result.EmailSent))

	return result, nil
}

func (s *AuthService) sendVerificationMail(ctx context.Context, email, name, tok string) error {
	return s.mail.Send(ctx, mailer.KindVerification, email, map[string]string{
		"Name": name,
		"Link": fmt.Sprintf("%s/api/v1/auth/verify-email/%s", s.baseURL, tok),
		"TTL":  s.regStore.TTL().String(),
	})
}

// Login authenticates an email/password pair. Both "no such account" and
// "wrong password" yield ErrInvalidCredentials so accounts cannot be
// enumerated. Lockout state is updated as a side effect.
func (s *AuthService) Login(ctx context.Context, email, password string) (*model.Account, *token.Pair, error) {
	email = util.NormalizeEmail(email)

	acc, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, mongorepo.ErrNotFound) {
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, fmt.Errorf("failed to look up account: %w", err)
	}

	now := s.now()
	if s.lockout.IsLocked(acc, now) {
		return nil, nil, ErrAccountLocked
	}

	match, err := s.hasher.VerifyPassword(password, acc.PasswordHash)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to verify password: %w", err)
	}

	if !match {
		locked := s.lockout.RecordFailure(acc, now)
		if err := s.repo.UpdateSecurityState(ctx, acc.ID.Hex(), acc.FailedLogins, acc.LockedUntil, nil); err != nil {
			s.logger.Error("failed to persist lockout state", util.ErrorField(err))
		}
		if locked {
			s.logger.Warn("account locked after repeated failures",
				util.String("account_id", acc.ID.Hex()),
				util.Int("attempts", acc.FailedLogins))
			s.publisher.Publish(ctx, events.TypeAccountLocked, acc.ID.Hex(), nil)
		}
		return nil, nil, ErrInvalidCredentials
	}

	if !acc.Verified {
		// Correct credentials reset the failure streak even though the
		// login is ultimately rejected. Documented source behavior.
		acc.FailedLogins = 0
		acc.LockedUntil = nil
		if err := s.repo.UpdateSecurityState(ctx, acc.ID.Hex(), 0, nil, nil); err != nil {
			s.logger.Error("failed to persist lockout reset", util.ErrorField(err))
		}
		return nil, nil, ErrEmailNotVerified
	}

	s.lockout.RecordSuccess(acc, now)
	if err := s.repo.UpdateSecurityState(ctx, acc.ID.Hex(), 0, nil, acc.LastLoginAt); err != nil {
		s.logger.Error("failed to persist login state", util.ErrorField(err))
	}

	pair, err := s.issuer.Issue(acc.ID.Hex())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to issue tokens: %w", err)
	}

	return acc, pair, nil
}

// Refresh exchanges a valid refresh token for a fresh pair, revalidating
// that the subject still exists and is not locked.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*token.Pair, error) {
	subject, err := s.issuer.Verify(refreshToken, token.TypeRefresh)
	if err != nil {
		return nil, err
	}

	acc, err := s.repo.GetByID(ctx, subject)
	if err != nil {
		if errors.Is(err, mongorepo.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}

	if s.lockout.IsLocked(acc, s.now()) {
		return nil, ErrAccountLocked
	}

	return s.issuer.Issue(acc.ID.Hex())
}

func validateRegistration(req *RegisterRequest) error {
	var details []string
	if !util.ValidEmail(util.NormalizeEmail(req.Email)) {
		details = append(details, "email must be a valid address")
	}
	if len(req.Password) < 8 {
		details = append(details, "password must be at least 8 characters")
	}
	if req.Name == "" {
		details = append(details, "name is required")
	}
	if len(details) > 0 {
		return &ValidationError{Details: details}
	}
	return nil
}

// newOpaqueToken returns a high-entropy one-time token.
func newOpaqueToken() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic("crypto/rand unavailable: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
