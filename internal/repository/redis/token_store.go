package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"otp-auth-service/internal/client"
	"otp-auth-service/internal/util"
)

const (
	sessionTokenPrefix = "session:token:"
	revokedNonceKey    = "session:revoked"
)

// TokenStore tracks the single active session per phone plus the append-only
// revoked-nonce set. Only token digests are stored; the raw JWT never touches
// Redis. The revocation set is never compacted.
type TokenStore struct {
	client *client.RedisClient
	ttl    time.Duration
}

func NewTokenStore(c *client.RedisClient, ttl time.Duration) *TokenStore {
	return &TokenStore{client: c, ttl: ttl}
}

// SetActive records tokenHash as the only live session for phone. Overwriting
// the previous hash is what invalidates the prior token: it still parses, but
// the stored-hash match fails.
func (s *TokenStore) SetActive(phone, tokenHash string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.client.Set(ctx, sessionTokenPrefix+phone, tokenHash, s.ttl); err != nil {
		util.Error("failed to store active session",
			zap.String("phone", phone), zap.Error(err))
		return fmt.Errorf("failed to store active session: %w", err)
	}
	return nil
}

// ActiveHash returns the stored token digest for phone, or "" when the phone
// has no live session.
func (s *TokenStore) ActiveHash(phone string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hash, err := s.client.Get(ctx, sessionTokenPrefix+phone)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to load active session: %w", err)
	}
	return hash, nil
}

// DeleteActive drops the live session for phone.
func (s *TokenStore) DeleteActive(phone string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.client.Del(ctx, sessionTokenPrefix+phone); err != nil {
		return fmt.Errorf("failed to delete active session: %w", err)
	}
	return nil
}

// RevokeNonce appends a session nonce to the revocation set. The set only
// ever grows: a revoked nonce stays revoked.
func (s *TokenStore) RevokeNonce(nonce string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.client.SAdd(ctx, revokedNonceKey, nonce); err != nil {
		util.Error("failed to revoke session nonce",
			zap.String("nonce", nonce), zap.Error(err))
		return fmt.Errorf("failed to revoke session nonce: %w", err)
	}
	return nil
}

// IsRevoked reports whether a session nonce has been revoked.
func (s *TokenStore) IsRevoked(nonce string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	revoked, err := s.client.SIsMember(ctx, revokedNonceKey, nonce)
	if err != nil {
		return false, fmt.Errorf("failed to check revoked nonce: %w", err)
	}
	return revoked, nil
}
