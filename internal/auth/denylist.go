package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const deniedTokenPrefix = "denied_token:"

// ITokenDenyList remembers revoked token ids until the tokens expire.
type ITokenDenyList interface {
	Deny(ctx context.Context, tokenID string, expiresAt time.Time) error
	IsDenied(ctx context.Context, tokenID string) (bool, error)
}

// RedisDenyList keeps one key per revoked token, expiring with the token.
type RedisDenyList struct {
	rdb redis.Cmdable
}

// NewRedisDenyList creates a deny-list on top of rdb.
func NewRedisDenyList(rdb redis.Cmdable) *RedisDenyList {
	return &RedisDenyList{rdb: rdb}
}

// Deny revokes tokenID. Tokens that already expired need no entry.
func (d *RedisDenyList) Deny(ctx context.Context, tokenID string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 || tokenID == "" {
		return nil
	}
	if err := d.rdb.Set(ctx, deniedTokenPrefix+tokenID, 1, ttl).Err(); err != nil {
		return fmt.Errorf("failed to deny token %s: %w", tokenID, err)
	}
	return nil
}

// IsDenied reports whether tokenID was revoked.
func (d *RedisDenyList) IsDenied(ctx context.Context, tokenID string) (bool, error) {
	n, err := d.rdb.Exists(ctx, deniedTokenPrefix+tokenID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check token %s: %w", tokenID, err)
	}
	return n > 0, nil
}
