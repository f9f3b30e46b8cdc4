package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"bizdir/internal/config"
	"bizdir/internal/events"
	"bizdir/internal/mailer"
	"bizdir/internal/model"
	mongorepo "bizdir/internal/repository/mongo"
	"bizdir/internal/util"
)

// AccountService covers the authenticated account surface: profile reads
// and the deferred-deletion lifecycle.
type AccountService struct {
	repo          mongorepo.AccountRepository
	mail          mailer.Mailer
	publisher     *events.Publisher
	deletionGrace time.Duration
	logger        *zap.Logger
	now           func() time.Time
}

func NewAccountService(
	repo mongorepo.AccountRepository,
	mail mailer.Mailer,
	publisher *events.Publisher,
	cfg *config.Config,
	logger *zap.Logger,
) *AccountService {
	return &AccountService{
		repo:          repo,
		mail:          mail,
		publisher:     publisher,
		deletionGrace: cfg.Auth.DeletionGrace,
		logger:        logger,
		now:           time.Now,
	}
}

// SetClock overrides the service clock. Tests only.
func (s *AccountService) SetClock(now func() time.Time) {
	s.now = now
}

// Get returns the account for an authenticated subject.
func (s *AccountService) Get(ctx context.Context, accountID string) (*model.Account, error) {
	acc, err := s.repo.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, mongorepo.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	return acc, nil
}

// ScheduleDeletion marks the account for removal after the grace period.
// Repeating the request while a deletion is already pending keeps the
// original schedule.
func (s *AccountService) ScheduleDeletion(ctx context.Context, accountID string) (time.Time, error) {
	acc, err := s.repo.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, mongorepo.ErrNotFound) {
			return time.Time{}, ErrUserNotFound
		}
		return time.Time{}, fmt.Errorf("failed to load account: %w", err)
	}

	if acc.DeletionPending() {
		return *acc.DeletionScheduledFor, nil
	}

	now := s.now()
	due := now.Add(s.deletionGrace)
	if err := s.repo.ScheduleDeletion(ctx, accountID, now, due); err != nil {
		return time.Time{}, fmt.Errorf("failed to schedule deletion: %w", err)
	}

	if err := s.mail.Send(ctx, mailer.KindDeletionScheduled, acc.Email, map[string]string{
		"Name": acc.Name,
		"Date": due.Format("2 January 2006"),
	}); err != nil {
		s.logger.Warn("deletion notice email failed", util.ErrorField(err))
	}

	s.logger.Info("account deletion scheduled",
		util.String("account_id", accountID),
		util.String("due", due.Format(time.RFC3339)))

	return due, nil
}

// CancelDeletion aborts a pending deletion during the grace period.
func (s *AccountService) CancelDeletion(ctx context.Context, accountID string) error {
	acc, err := s.repo.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, mongorepo.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("failed to load account: %w", err)
	}

	if !acc.DeletionPending() {
		return ErrNoDeletionScheduled
	}

	if err := s.repo.CancelDeletion(ctx, accountID); err != nil {
		return fmt.Errorf("failed to cancel deletion: %w", err)
	}

	s.logger.Info("account deletion cancelled", util.String("account_id", accountID))
	return nil
}
