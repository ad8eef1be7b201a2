package api

import (
	"context"
	"fmt"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

const idempotencyHeader = "Idempotency-Key"

// RedisDeduper stores processed idempotency keys in Redis so all instances
// can avoid reprocessing the same mutation.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper using the provided Redis client and TTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(userID, key string) string {
	return fmt.Sprintf("dedupe:%s:%s", userID, key)
}

// Add records the key if it does not already exist. It returns true when the
// key was newly added.
func (r *RedisDeduper) Add(ctx context.Context, userID, key string) (bool, error) {
	return r.client.SetNX(ctx, r.key(userID, key), 1, r.ttl).Result()
}

// Remove deletes a previously recorded key. It is used when the mutation
// fails so the caller may retry with the same key.
func (r *RedisDeduper) Remove(ctx context.Context, userID, key string) error {
	return r.client.Del(ctx, r.key(userID, key)).Err()
}

// claimIdempotencyKey consumes the request's Idempotency-Key header, if any.
// It reports false when the key was already processed. Deduper outages do
// not fail the mutation: retried duplicates are cheaper than rejected writes.
func claimIdempotencyKey(c echo.Context, deduper Deduper, userID string) (bool, error) {
	if deduper == nil {
		return true, nil
	}
	key := c.Request().Header.Get(idempotencyHeader)
	if key == "" {
		return true, nil
	}
	added, err := deduper.Add(c.Request().Context(), userID, key)
	if err != nil {
		c.Logger().Warnf("idempotency check unavailable: %v", err)
		return true, nil
	}
	return added, nil
}

// releaseIdempotencyKey rolls back a claimed key after a failed mutation.
func releaseIdempotencyKey(c echo.Context, deduper Deduper, userID string) {
	if deduper == nil {
		return
	}
	key := c.Request().Header.Get(idempotencyHeader)
	if key == "" {
		return
	}
	if err := deduper.Remove(c.Request().Context(), userID, key); err != nil {
		c.Logger().Errorf("idempotency rollback failed: %v", err)
	}
}
