package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"undercover/internal/apperr"
)

func TestIssueAndValidateRoundTrip(t *testing.T) {
	si := NewSessionIssuer("test-secret-value-that-is-long-enough", time.Hour)
	u := User{ID: "u1", Username: "alice"}

	token, expires, err := si.Issue(u)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, 2*time.Second)

	got, err := si.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, u, got)
}

func TestValidateRejectsGarbage(t *testing.T) {
	si := NewSessionIssuer("test-secret-value-that-is-long-enough", time.Hour)
	_, err := si.Validate("not-a-real-token")
	require.Error(t, err)
	code, ok := apperr.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, apperr.AuthRequired, code)
}

func TestValidateRejectsExpired(t *testing.T) {
	si := NewSessionIssuer("test-secret-value-that-is-long-enough", time.Hour)
	// NewSessionIssuer replaces a non-positive TTL with the 24h default,
	// so the negative TTL is set directly to mint an already-expired token.
	si.ttl = -time.Minute
	token, _, err := si.Issue(User{ID: "u1"})
	require.NoError(t, err)

	_, err = si.Validate(token)
	require.Error(t, err)
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	si := NewSessionIssuer("secret-one-is-long-enough-for-hmac", time.Hour)
	token, _, err := si.Issue(User{ID: "u1"})
	require.NoError(t, err)

	other := NewSessionIssuer("secret-two-is-long-enough-for-hmac", time.Hour)
	_, err = other.Validate(token)
	require.Error(t, err)
}
