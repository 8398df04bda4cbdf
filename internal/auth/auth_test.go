package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pautahq/newsbot/internal/testutil"
)

func testService(secret string, ttl time.Duration) *Service {
	return New(nil, []byte(secret), ttl, testutil.DiscardLogger())
}

func TestIssueToken_Claims(t *testing.T) {
	t.Parallel()

	secret := strings.Repeat("k", 32)
	s := testService(secret, 30*time.Minute)

	signed, err := s.IssueToken(&User{Email: "alice@example.com"})
	require.NoError(t, err)

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(signed, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	require.NoError(t, err)
	require.True(t, token.Valid)

	assert.Equal(t, "alice@example.com", claims.Subject)
	require.NotNil(t, claims.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(30*time.Minute), claims.ExpiresAt.Time, 5*time.Second)
}

func TestVerifyToken_Malformed(t *testing.T) {
	t.Parallel()

	s := testService(strings.Repeat("k", 32), time.Minute)
	_, err := s.VerifyToken(context.Background(), "not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyToken_WrongSecret(t *testing.T) {
	t.Parallel()

	issuer := testService(strings.Repeat("a", 32), time.Minute)
	verifier := testService(strings.Repeat("b", 32), time.Minute)

	signed, err := issuer.IssueToken(&User{Email: "alice@example.com"})
	require.NoError(t, err)

	_, err = verifier.VerifyToken(context.Background(), signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyToken_Expired(t *testing.T) {
	t.Parallel()

	s := testService(strings.Repeat("k", 32), -time.Minute)
	signed, err := s.IssueToken(&User{Email: "alice@example.com"})
	require.NoError(t, err)

	_, err = s.VerifyToken(context.Background(), signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyToken_RejectsUnexpectedAlgorithm(t *testing.T) {
	t.Parallel()

	// alg=none tokens must never verify.
	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "alice@example.com",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	s := testService(strings.Repeat("k", 32), time.Minute)
	_, err = s.VerifyToken(context.Background(), signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyToken_EmptySubject(t *testing.T) {
	t.Parallel()

	secret := strings.Repeat("k", 32)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)

	s := testService(secret, time.Minute)
	_, err = s.VerifyToken(context.Background(), signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
