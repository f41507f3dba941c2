package token

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selffetch-portal/auth/internal/domain"
)

func TestMintAndVerify(t *testing.T) {
	issuer := NewIssuer("test-secret", 5*time.Minute)
	userID := uuid.New()
	now := time.Now()

	tokenString, exp, err := issuer.Mint(userID, now)
	require.NoError(t, err)
	assert.WithinDuration(t, now.Add(5*time.Minute), exp, time.Second)

	got, err := issuer.Verify(tokenString, now)
	require.NoError(t, err)
	assert.Equal(t, userID, got)
}

func TestVerifyRejectsAfterExpiry(t *testing.T) {
	issuer := NewIssuer("test-secret", 5*time.Minute)
	userID := uuid.New()
	now := time.Now()

	tokenString, _, err := issuer.Mint(userID, now)
	require.NoError(t, err)

	// Accepted just before expiry, rejected just after.
	_, err = issuer.Verify(tokenString, now.Add(5*time.Minute-time.Second))
	require.NoError(t, err)

	_, err = issuer.Verify(tokenString, now.Add(5*time.Minute+time.Minute))
	assert.ErrorIs(t, err, domain.ErrInvalidAccessToken)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	issuer := NewIssuer("test-secret", 5*time.Minute)
	other := NewIssuer("other-secret", 5*time.Minute)
	now := time.Now()

	tokenString, _, err := issuer.Mint(uuid.New(), now)
	require.NoError(t, err)

	_, err = other.Verify(tokenString, now)
	assert.ErrorIs(t, err, domain.ErrInvalidAccessToken)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	issuer := NewIssuer("test-secret", 5*time.Minute)

	for _, input := range []string{"", "not-a-token", "a.b.c"} {
		_, err := issuer.Verify(input, time.Now())
		assert.ErrorIs(t, err, domain.ErrInvalidAccessToken)
	}
}
