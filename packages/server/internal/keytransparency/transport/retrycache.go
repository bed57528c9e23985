package transport

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// RetryAfterCache remembers a server-issued Retry-After deadline per
// endpoint path, so independent driver instances sharing one Redis
// backend don't all hammer a backing server that just asked for backoff
// (§6.1, supplementing the spec's scope with a shared-state policy hook
// the driver itself never dictates).
type RetryAfterCache struct {
	client *redis.Client
}

// NewRetryAfterCache wraps an existing Redis client. A nil client
// disables the cache entirely (Get always misses, Set is a no-op),
// matching the teacher's pattern of treating Redis as optional
// infrastructure, not a hard dependency of protocol correctness.
func NewRetryAfterCache(client *redis.Client) *RetryAfterCache {
	return &RetryAfterCache{client: client}
}

// Set records that path should not be retried until retryAfter elapses.
func (c *RetryAfterCache) Set(ctx context.Context, path string, retryAfter time.Duration) {
	if c.client == nil || retryAfter <= 0 {
		return
	}
	if err := c.client.Set(ctx, "kt:retry-after:"+path, "1", retryAfter).Err(); err != nil {
		log.Printf("[KT] retry-after cache write failed for %s: %v", path, err)
	}
}

// Blocked reports whether path is still within a previously recorded
// retry-after window.
func (c *RetryAfterCache) Blocked(ctx context.Context, path string) bool {
	if c.client == nil {
		return false
	}
	n, err := c.client.Exists(ctx, "kt:retry-after:"+path).Result()
	if err != nil {
		log.Printf("[KT] retry-after cache read failed for %s: %v", path, err)
		return false
	}
	return n > 0
}
