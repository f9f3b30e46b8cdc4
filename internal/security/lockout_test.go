package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizdir/internal/model"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestLocksAtThreshold(t *testing.T) {
	p := DefaultPolicy
	acc := &model.Account{}

	for i := 1; i <= 4; i++ {
		locked := p.RecordFailure(acc, testNow)
		assert.False(t, locked, "attempt %d should not lock", i)
		assert.Equal(t, i, acc.FailedLogins)
	}

	locked := p.RecordFailure(acc, testNow)
	assert.True(t, locked)
	require.NotNil(t, acc.LockedUntil)
	assert.Equal(t, testNow.Add(2*time.Hour), *acc.LockedUntil)
	assert.True(t, p.IsLocked(acc, testNow))
}

func TestLockExpires(t *testing.T) {
	p := DefaultPolicy
	acc := &model.Account{}

	for i := 0; i < 5; i++ {
		p.RecordFailure(acc, testNow)
	}
	require.True(t, p.IsLocked(acc, testNow))

	assert.True(t, p.IsLocked(acc, testNow.Add(2*time.Hour-time.Second)))
	assert.False(t, p.IsLocked(acc, testNow.Add(2*time.Hour)))
}

func TestFailureAfterExpiredLockStartsFresh(t *testing.T) {
	p := DefaultPolicy
	acc := &model.Account{}

	for i := 0; i < 5; i++ {
		p.RecordFailure(acc, testNow)
	}

	later := testNow.Add(3 * time.Hour)
	locked := p.RecordFailure(acc, later)

	// The streak restarts rather than locking again immediately.
	assert.False(t, locked)
	assert.Equal(t, 1, acc.FailedLogins)
	assert.Nil(t, acc.LockedUntil)
}

func TestSuccessClearsState(t *testing.T) {
	p := DefaultPolicy
	acc := &model.Account{}

	p.RecordFailure(acc, testNow)
	p.RecordFailure(acc, testNow)

	p.RecordSuccess(acc, testNow)
	assert.Equal(t, 0, acc.FailedLogins)
	assert.Nil(t, acc.LockedUntil)
	require.NotNil(t, acc.LastLoginAt)
	assert.Equal(t, testNow, *acc.LastLoginAt)
}

func TestFailureWhileLockedKeepsLock(t *testing.T) {
	p := DefaultPolicy
	acc := &model.Account{}

	for i := 0; i < 5; i++ {
		p.RecordFailure(acc, testNow)
	}
	lockedUntil := *acc.LockedUntil

	// A failure during the active lock neither extends nor resets it.
	stillLocked := p.RecordFailure(acc, testNow.Add(time.Hour))
	assert.True(t, stillLocked)
	assert.Equal(t, lockedUntil, *acc.LockedUntil)
}
