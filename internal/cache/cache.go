// Package cache provides a Redis-backed read-through cache the ledger uses
// to answer idempotency-key lookups without hitting Postgres on every
// retry. Cache misses always fall through to the transactional row, which
// remains the single source of truth — this cache never originates data.
package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdempotencyCache wraps a Redis client scoped to one key namespace.
type IdempotencyCache struct {
	client *redis.Client
	prefix string
}

// New wraps an already-built client (see NewClient, which parses a
// redis:// URL) in an IdempotencyCache, so the caller can share the
// client's connection pool with other concerns.
func New(client *redis.Client) *IdempotencyCache {
	return &IdempotencyCache{client: client, prefix: "idem:"}
}

// Get returns the ledger entry id previously cached against key, if any.
// Redis errors are treated as a miss — the ledger's Postgres fallback is
// authoritative, so a flaky cache must never surface as a caller-visible
// error.
func (c *IdempotencyCache) Get(ctx context.Context, key string) (string, bool) {
	if c == nil || c.client == nil {
		return "", false
	}
	val, err := c.client.Get(ctx, c.prefix+key).Result()
	if err != nil {
		return "", false
	}
	return val, true
}

// Set caches key → ledgerEntryID for ttl. Failures are swallowed; a cache
// write that never lands just means the next lookup falls through to
// Postgres again.
func (c *IdempotencyCache) Set(ctx context.Context, key, ledgerEntryID string, ttl time.Duration) {
	if c == nil || c.client == nil {
		return
	}
	c.client.Set(ctx, c.prefix+key, ledgerEntryID, ttl)
}

// NewClient builds a *redis.Client from a redis:// URL. Returns nil, nil
// if addr is empty so callers can wire an optional cache cleanly.
func NewClient(addr string) (*redis.Client, error) {
	if addr == "" {
		return nil, nil
	}
	opt, err := redis.ParseURL(addr)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(opt), nil
}
