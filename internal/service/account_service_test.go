package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bizdir/internal/mailer"
	"bizdir/internal/model"
)

func newAccountFixture(t *testing.T) (*AccountService, *fakeRepo, *fakeMailer, *time.Time) {
	t.Helper()
	cfg := newTestConfig()
	repo := newFakeRepo()
	mail := &fakeMailer{}

	svc := NewAccountService(repo, mail, nil, cfg, zap.NewNop())

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := base
	svc.SetClock(func() time.Time { return current })
	return svc, repo, mail, &current
}

func TestGetAccount(t *testing.T) {
	svc, repo, _, _ := newAccountFixture(t)
	seeded := repo.seed(&model.Account{Email: "a@example.com", Verified: true})

	acc, err := svc.Get(context.Background(), seeded.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", acc.Email)

	_, err = svc.Get(context.Background(), "000000000000000000000000")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestScheduleDeletion(t *testing.T) {
	svc, repo, mail, current := newAccountFixture(t)
	seeded := repo.seed(&model.Account{Email: "a@example.com", Name: "A", Verified: true})

	due, err := svc.ScheduleDeletion(context.Background(), seeded.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, current.Add(30*24*time.Hour), due)

	stored, err := repo.GetByID(context.Background(), seeded.ID.Hex())
	require.NoError(t, err)
	require.NotNil(t, stored.DeletionScheduledFor)
	assert.Equal(t, due, *stored.DeletionScheduledFor)

	sent := mail.sentTo("a@example.com")
	require.Len(t, sent, 1)
	assert.Equal(t, mailer.KindDeletionScheduled, sent[0].kind)
}

func TestScheduleDeletionIsIdempotent(t *testing.T) {
	svc, repo, _, current := newAccountFixture(t)
	seeded := repo.seed(&model.Account{Email: "a@example.com", Verified: true})

	first, err := svc.ScheduleDeletion(context.Background(), seeded.ID.Hex())
	require.NoError(t, err)

	// Repeating later keeps the original schedule.
	*current = current.Add(48 * time.Hour)
	second, err := svc.ScheduleDeletion(context.Background(), seeded.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestScheduleDeletionMailFailureIsNonFatal(t *testing.T) {
	svc, repo, mail, _ := newAccountFixture(t)
	mail.fail = true
	seeded := repo.seed(&model.Account{Email: "a@example.com", Verified: true})

	_, err := svc.ScheduleDeletion(context.Background(), seeded.ID.Hex())
	assert.NoError(t, err)
}

func TestCancelDeletion(t *testing.T) {
	svc, repo, _, _ := newAccountFixture(t)
	seeded := repo.seed(&model.Account{Email: "a@example.com", Verified: true})

	_, err := svc.ScheduleDeletion(context.Background(), seeded.ID.Hex())
	require.NoError(t, err)

	require.NoError(t, svc.CancelDeletion(context.Background(), seeded.ID.Hex()))

	stored, err := repo.GetByID(context.Background(), seeded.ID.Hex())
	require.NoError(t, err)
	assert.Nil(t, stored.DeletionScheduledFor)
}

func TestCancelDeletionWithoutSchedule(t *testing.T) {
	svc, repo, _, _ := newAccountFixture(t)
	seeded := repo.seed(&model.Account{Email: "a@example.com", Verified: true})

	err := svc.CancelDeletion(context.Background(), seeded.ID.Hex())
	assert.ErrorIs(t, err, ErrNoDeletionScheduled)
}
