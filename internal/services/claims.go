package services

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const claimKeyPrefix = "claim:"

// Claims records one-shot keys in Redis so at-least-once consumers can
// skip work that already succeeded.
type Claims struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewClaims(rdb *redis.Client, namespace string, ttl time.Duration) *Claims {
	return &Claims{rdb: rdb, prefix: claimKeyPrefix + namespace + ":", ttl: ttl}
}

// Claim returns true when key was not claimed before. Only the first caller
// for a key within the TTL wins.
func (c *Claims) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, c.prefix+key, time.Now().UTC().Unix(), c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claims: setnx: %w", err)
	}
	return ok, nil
}

// Release removes a claim so a failed attempt can be retried.
func (c *Claims) Release(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, c.prefix+key).Err(); err != nil {
		return fmt.Errorf("claims: del: %w", err)
	}
	return nil
}
