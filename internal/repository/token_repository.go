package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenRepo is the optional refresh-token allow-list. Each issued refresh
// token is recorded under refresh:<userID>:<jti> until it expires; a refresh
// is honoured only while its key exists.
type TokenRepo struct{ RDB *redis.Client }

func NewTokenRepo(rdb *redis.Client) *TokenRepo { return &TokenRepo{RDB: rdb} }

func refreshKey(userID, jti string) string {
	return "refresh:" + userID + ":" + jti
}

// Allow records a refresh token id for ttl.
func (r *TokenRepo) Allow(ctx context.Context, userID, jti string, ttl time.Duration) error {
	if err := r.RDB.Set(ctx, refreshKey(userID, jti), time.Now().UTC().Unix(), ttl).Err(); err != nil {
		return fmt.Errorf("allow refresh token: %w", err)
	}
	return nil
}

// Check returns ErrTokenRevoked unless the token id is recorded.
func (r *TokenRepo) Check(ctx context.Context, userID, jti string) error {
	n, err := r.RDB.Exists(ctx, refreshKey(userID, jti)).Result()
	if err != nil {
		return fmt.Errorf("check refresh token: %w", err)
	}
	if n == 0 {
		return ErrTokenRevoked
	}
	return nil
}

// IsAllowed is Check as a boolean.
func (r *TokenRepo) IsAllowed(ctx context.Context, userID, jti string) (bool, error) {
	err := r.Check(ctx, userID, jti)
	if errors.Is(err, ErrTokenRevoked) {
		return false, nil
	}
	return err == nil, err
}

// Revoke forgets one refresh token id. Unknown ids are not an error.
func (r *TokenRepo) Revoke(ctx context.Context, userID, jti string) error {
	if err := r.RDB.Del(ctx, refreshKey(userID, jti)).Err(); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// RevokeAllForUser forgets every refresh token id recorded for the user.
func (r *TokenRepo) RevokeAllForUser(ctx context.Context, userID string) error {
	var (
		cursor uint64
		match  = refreshKey(userID, "*")
	)
	for {
		keys, next, err := r.RDB.Scan(ctx, cursor, match, 100).Result()
		if err != nil {
			return fmt.Errorf("scan refresh tokens: %w", err)
		}
		if len(keys) > 0 {
			if err := r.RDB.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("revoke refresh tokens: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}
