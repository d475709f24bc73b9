package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.NotEqual(t, "correct horse", hash)

	assert.NoError(t, CheckPassword(hash, "correct horse"))
	assert.ErrorIs(t, CheckPassword(hash, "wrong horse"), ErrInvalidCredentials)

	_, err = HashPassword("short")
	assert.ErrorIs(t, err, ErrWeakPassword)
}

func TestIssuer_RoundTrip(t *testing.T) {
	iss := NewIssuer("test-secret-0123456789", time.Hour)
	token, claims, err := iss.Issue("user-1")
	require.NoError(t, err)
	assert.NotEmpty(t, claims.SessionID)

	got, err := iss.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID())
	assert.Equal(t, claims.SessionID, got.SessionID)
}

func TestIssuer_RejectsExpired(t *testing.T) {
	iss := NewIssuer("test-secret-0123456789", time.Minute)
	issued := time.Now().Add(-time.Hour)
	iss.now = func() time.Time { return issued }
	token, _, err := iss.Issue("user-1")
	require.NoError(t, err)

	iss.now = time.Now
	_, err = iss.Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestIssuer_RejectsForeignSignature(t *testing.T) {
	other := NewIssuer("another-secret-0123456789", time.Hour)
	token, _, err := other.Issue("user-1")
	require.NoError(t, err)

	_, err = NewIssuer("test-secret-0123456789", time.Hour).Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestIssuer_RejectsNoneAlgorithm(t *testing.T) {
	claims := &Claims{
		SessionID: "s",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewIssuer("test-secret-0123456789", time.Hour).Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

// newTestAuthenticator requires a running Redis on localhost:6379.
func newTestAuthenticator(t *testing.T) *Authenticator {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return NewAuthenticator(NewIssuer("test-secret-0123456789", time.Minute), NewSessionStore(client))
}

func TestAuthenticator_LogoutRevokes(t *testing.T) {
	a := newTestAuthenticator(t)
	ctx := context.Background()

	token, _, err := a.Login(ctx, "user-logout")
	require.NoError(t, err)

	claims, err := a.Validate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "user-logout", claims.UserID())

	require.NoError(t, a.Logout(ctx, claims))
	_, err = a.Validate(ctx, token)
	assert.ErrorIs(t, err, ErrSessionRevoked)
}

func TestSessionStore_TTL(t *testing.T) {
	a := newTestAuthenticator(t)
	ctx := context.Background()

	_, claims, err := a.Login(ctx, "user-ttl")
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.sessions.Revoke(ctx, claims.SessionID) })

	ttl, err := a.sessions.client.TTL(ctx, SessionPrefix+claims.SessionID).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Minute)
}
