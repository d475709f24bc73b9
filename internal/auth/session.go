package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SessionPrefix is the Redis key prefix for all session hashes.
const SessionPrefix = "session:"

// Session is the server-side record of a logged-in token.
type Session struct {
	ID         string `redis:"id"`
	UserID     string `redis:"user_id"`
	CreatedAt  int64  `redis:"created_at"`  // unix timestamp
	LastActive int64  `redis:"last_active"` // unix timestamp
}

// SessionStore manages live sessions in Redis. A session lives exactly as long
// as the token it was issued with, unless revoked first.
type SessionStore struct {
	client *redis.Client
}

// NewSessionStore creates a session store using the provided Redis client.
func NewSessionStore(client *redis.Client) *SessionStore {
	return &SessionStore{client: client}
}

// Create records a session for userID with the given lifetime.
func (s *SessionStore) Create(ctx context.Context, sessionID, userID string, ttl time.Duration) error {
	key := SessionPrefix + sessionID
	now := time.Now().Unix()

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"id":          sessionID,
		"user_id":     userID,
		"created_at":  now,
		"last_active": now,
	})
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("auth: create session: %w", err)
	}
	return nil
}

// Get retrieves a session. Returns nil if not found.
func (s *SessionStore) Get(ctx context.Context, sessionID string) (*Session, error) {
	var sess Session
	if err := s.client.HGetAll(ctx, SessionPrefix+sessionID).Scan(&sess); err != nil {
		return nil, fmt.Errorf("auth: get session: %w", err)
	}
	if sess.ID == "" {
		return nil, nil
	}
	return &sess, nil
}

// Touch updates the last activity timestamp without extending the TTL.
func (s *SessionStore) Touch(ctx context.Context, sessionID string) error {
	return s.client.HSet(ctx, SessionPrefix+sessionID, "last_active", time.Now().Unix()).Err()
}

// Revoke deletes a session, invalidating its token.
func (s *SessionStore) Revoke(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, SessionPrefix+sessionID).Err(); err != nil {
		return fmt.Errorf("auth: revoke session: %w", err)
	}
	return nil
}

// Authenticator combines token verification with the session registry.
type Authenticator struct {
	issuer   *Issuer
	sessions *SessionStore
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(issuer *Issuer, sessions *SessionStore) *Authenticator {
	return &Authenticator{issuer: issuer, sessions: sessions}
}

// Login issues a token for userID and records its session.
func (a *Authenticator) Login(ctx context.Context, userID string) (string, *Claims, error) {
	token, claims, err := a.issuer.Issue(userID)
	if err != nil {
		return "", nil, err
	}
	if err := a.sessions.Create(ctx, claims.SessionID, userID, a.issuer.TTL()); err != nil {
		return "", nil, err
	}
	return token, claims, nil
}

// Validate checks the token's signature and expiry and that its session has
// not been revoked.
func (a *Authenticator) Validate(ctx context.Context, token string) (*Claims, error) {
	claims, err := a.issuer.Parse(token)
	if err != nil {
		return nil, err
	}
	sess, err := a.sessions.Get(ctx, claims.SessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil || sess.UserID != claims.Subject {
		return nil, ErrSessionRevoked
	}
	return claims, nil
}

// Logout revokes the session behind claims.
func (a *Authenticator) Logout(ctx context.Context, claims *Claims) error {
	return a.sessions.Revoke(ctx, claims.SessionID)
}
