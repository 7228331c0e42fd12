package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const seenKeyPrefix = "leadflow:seen:"

// SeenCache is a Redis shortcut in front of the Postgres dedup lookup: feeds
// repeat the same entries pass after pass, and a cache hit skips the store
// round-trip. Postgres stays authoritative — cache errors degrade to "not
// seen" and the conflict-free insert still guarantees uniqueness.
type SeenCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewSeenCache returns a cache whose entries expire after ttl. Use a ttl
// comfortably longer than the monitor's age filter window.
func NewSeenCache(rdb *redis.Client, ttl time.Duration) *SeenCache {
	return &SeenCache{rdb: rdb, ttl: ttl}
}

// Seen reports whether externalID was remembered recently.
func (c *SeenCache) Seen(ctx context.Context, externalID string) bool {
	n, err := c.rdb.Exists(ctx, seenKeyPrefix+externalID).Result()
	if err != nil {
		slog.Warn("seen cache lookup failed", "error", err)
		return false
	}
	return n > 0
}

// Remember marks externalID as seen. Failures are logged only.
func (c *SeenCache) Remember(ctx context.Context, externalID string) {
	if err := c.rdb.Set(ctx, seenKeyPrefix+externalID, 1, c.ttl).Err(); err != nil {
		slog.Warn("seen cache store failed", "error", err)
	}
}
