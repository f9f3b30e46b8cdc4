package service

import (
	"go.uber.org/zap"

	"bizdir/internal/config"
	"bizdir/internal/events"
	"bizdir/internal/hashing"
	"bizdir/internal/mailer"
	"bizdir/internal/ratelimit"
	"bizdir/internal/regstore"
	mongorepo "bizdir/internal/repository/mongo"
	"bizdir/internal/token"
)

// ServiceFactory creates and manages service instances
type ServiceFactory struct {
	repo          mongorepo.AccountRepository
	hasher        *hashing.Hasher
	issuer        *token.Issuer
	regStore      *regstore.Store
	resendLimiter *ratelimit.IntervalLimiter
	emailWindow   *ratelimit.SlidingWindowLimiter
	mail          mailer.Mailer
	publisher     *events.Publisher
	cfg           *config.Config
	logger        *zap.Logger

	authService         *AuthService
	verificationService *VerificationService
	accountService      *AccountService
	cleanupService      *CleanupService
}

// NewServiceFactory creates a new service factory
func NewServiceFactory(
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
) *ServiceFactory {
	return &ServiceFactory{
		repo:          repo,
		hasher:        hasher,
		issuer:        issuer,
		regStore:      regStore,
		resendLimiter: resendLimiter,
		emailWindow:   emailWindow,
		mail:          mail,
		publisher:     publisher,
		cfg:           cfg,
		logger:        logger,
	}
}

// AuthService returns the auth service instance (singleton)
func (f *ServiceFactory) AuthService() *AuthService {
	if f.authService == nil {
		f.authService = NewAuthService(
			f.repo,
			f.hasher,
			f.issuer,
			f.regStore,
			f.resendLimiter,
			f.emailWindow,
			f.mail,
			f.publisher,
			f.cfg,
			f.logger,
		)
	}
	return f.authService
}

// VerificationService returns the verification service instance (singleton)
func (f *ServiceFactory) VerificationService() *VerificationService {
	if f.verificationService == nil {
		f.verificationService = NewVerificationService(
			f.repo,
			f.regStore,
			f.hasher,
			f.issuer,
			f.mail,
			f.publisher,
			f.resendLimiter,
			f.emailWindow,
			f.cfg,
			f.logger,
		)
	}
	return f.verificationService
}

// AccountService returns the account service instance (singleton)
func (f *ServiceFactory) AccountService() *AccountService {
	if f.accountService == nil {
		f.accountService = NewAccountService(
			f.repo,
			f.mail,
			f.publisher,
			f.cfg,
			f.logger,
		)
	}
	return f.accountService
}

// CleanupService returns the cleanup service instance (singleton)
func (f *ServiceFactory) CleanupService() *CleanupService {
	if f.cleanupService == nil {
		f.cleanupService = NewCleanupService(
			f.repo,
			f.publisher,
			f.cfg,
			f.logger,
		)
	}
	return f.cleanupService
}

// Cleanup stops background work owned by services
func (f *ServiceFactory) Cleanup() {
	if f.cleanupService != nil {
		f.cleanupService.Stop()
	}
}
