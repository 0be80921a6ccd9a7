package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sraphaz/araponga-sub002/internal/shared"
)

// TokenStore keeps issued bearer tokens in Redis. Deleting the key is
// logout; expiry is enforced by the key TTL.
type TokenStore struct {
	client *redis.Client
	ttl    time.Duration
}

type tokenPayload struct {
	UserID   int64     `json:"user_id"`
	IssuedAt time.Time `json:"issued_at"`
}

// NewTokenStore constructs a token store with the given session lifetime.
func NewTokenStore(client *redis.Client, ttl time.Duration) *TokenStore {
	return &TokenStore{client: client, ttl: ttl}
}

// Issue mints a fresh token for the user and persists it.
func (s *TokenStore) Issue(ctx context.Context, userID int64) (Session, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return Session{}, fmt.Errorf("generate token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(raw)

	now := time.Now().UTC()
	payload, err := json.Marshal(tokenPayload{UserID: userID, IssuedAt: now})
	if err != nil {
		return Session{}, err
	}
	if err := s.client.Set(ctx, tokenKey(token), payload, s.ttl).Err(); err != nil {
		return Session{}, fmt.Errorf("store token: %w", err)
	}
	return Session{Token: token, UserID: userID, IssuedAt: now, ExpiresAt: now.Add(s.ttl)}, nil
}

// Resolve returns the user behind a token, or ErrInvalidCredentials when
// the token is unknown or expired.
func (s *TokenStore) Resolve(ctx context.Context, token string) (int64, error) {
	data, err := s.client.Get(ctx, tokenKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, shared.ErrInvalidCredentials
		}
		return 0, err
	}
	var payload tokenPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return 0, err
	}
	return payload.UserID, nil
}

// Revoke deletes a token. Revoking an unknown token is a no-op.
func (s *TokenStore) Revoke(ctx context.Context, token string) error {
	return s.client.Del(ctx, tokenKey(token)).Err()
}

func tokenKey(token string) string {
	return "session:" + token
}
