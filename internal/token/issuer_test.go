package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIssuer(t *testing.T) (*Issuer, *time.Time) {
	t.Helper()
	issuer, err := NewIssuer(Config{
		AccessSecret:  []byte("access-secret-for-tests"),
		RefreshSecret: []byte("refresh-secret-for-tests"),
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		Issuer:        "bizdir-identity",
	})
	require.NoError(t, err)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := base
	issuer.SetClock(func() time.Time { return current })
	return issuer, &current
}

func TestNewIssuerRejectsBadConfig(t *testing.T) {
	_, err := NewIssuer(Config{AccessTTL: time.Minute, RefreshTTL: time.Hour})
	assert.Error(t, err)

	_, err = NewIssuer(Config{
		AccessSecret:  []byte("a"),
		RefreshSecret: []byte("b"),
	})
	assert.Error(t, err)

	_, err = NewIssuer(Config{
		AccessSecret:  []byte("a"),
		RefreshSecret: []byte("b"),
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
		Leeway:        time.Hour,
	})
	assert.Error(t, err)
}

func TestIssueAndVerifyRoundTrip(t *testing.T) {
	issuer, _ := newTestIssuer(t)

	pair, err := issuer.Issue("account-123")
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.NotEqual(t, pair.AccessToken, pair.RefreshToken)
	assert.Equal(t, int64(900), pair.AccessExpiresIn)

	subject, err := issuer.Verify(pair.AccessToken, TypeAccess)
	require.NoError(t, err)
	assert.Equal(t, "account-123", subject)

	subject, err = issuer.Verify(pair.RefreshToken, TypeRefresh)
	require.NoError(t, err)
	assert.Equal(t, "account-123", subject)
}

func TestVerifyRejectsWrongType(t *testing.T) {
	issuer, _ := newTestIssuer(t)

	pair, err := issuer.Issue("account-123")
	require.NoError(t, err)

	// A refresh token presented as an access token is signed with the
	// other secret, so it must never pass.
	_, err = issuer.Verify(pair.RefreshToken, TypeAccess)
	assert.Error(t, err)

	_, err = issuer.Verify(pair.AccessToken, TypeRefresh)
	assert.Error(t, err)
}

func TestVerifyRejectsExpired(t *testing.T) {
	issuer, current := newTestIssuer(t)

	pair, err := issuer.Issue("account-123")
	require.NoError(t, err)

	*current = current.Add(16 * time.Minute)

	_, err = issuer.Verify(pair.AccessToken, TypeAccess)
	assert.ErrorIs(t, err, ErrExpiredToken)

	// The refresh token outlives the access token.
	_, err = issuer.Verify(pair.RefreshToken, TypeRefresh)
	assert.NoError(t, err)

	*current = current.Add(8 * 24 * time.Hour)
	_, err = issuer.Verify(pair.RefreshToken, TypeRefresh)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestVerifyLeewayToleratesSkew(t *testing.T) {
	issuer, err := NewIssuer(Config{
		AccessSecret:  []byte("access-secret-for-tests"),
		RefreshSecret: []byte("refresh-secret-for-tests"),
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		Leeway:        30 * time.Second,
	})
	require.NoError(t, err)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := base
	issuer.SetClock(func() time.Time { return current })

	pair, err := issuer.Issue("account-123")
	require.NoError(t, err)

	// Just past expiry but within leeway.
	current = base.Add(15*time.Minute + 10*time.Second)
	_, err = issuer.Verify(pair.AccessToken, TypeAccess)
	assert.NoError(t, err)

	current = base.Add(15*time.Minute + 45*time.Second)
	_, err = issuer.Verify(pair.AccessToken, TypeAccess)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	issuer, _ := newTestIssuer(t)

	_, err := issuer.Verify("", TypeAccess)
	assert.ErrorIs(t, err, ErrNoToken)

	_, err = issuer.Verify("not.a.jwt", TypeAccess)
	assert.ErrorIs(t, err, ErrMalformedToken)
}

func TestVerifyRejectsForeignSignature(t *testing.T) {
	issuer, _ := newTestIssuer(t)
	other, err := NewIssuer(Config{
		AccessSecret:  []byte("some-other-secret"),
		RefreshSecret: []byte("yet-another-secret"),
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
	})
	require.NoError(t, err)

	pair, err := other.Issue("account-123")
	require.NoError(t, err)

	_, err = issuer.Verify(pair.AccessToken, TypeAccess)
	assert.Error(t, err)
}

func TestOptionalVerify(t *testing.T) {
	issuer, current := newTestIssuer(t)

	pair, err := issuer.Issue("account-123")
	require.NoError(t, err)

	subject, ok := issuer.OptionalVerify(pair.AccessToken)
	assert.True(t, ok)
	assert.Equal(t, "account-123", subject)

	_, ok = issuer.OptionalVerify("")
	assert.False(t, ok)

	*current = current.Add(time.Hour)
	_, ok = issuer.OptionalVerify(pair.AccessToken)
	assert.False(t, ok)
}
