// Package cache provides the shared seen-token cache used to short-circuit
// duplicate detections across restarts and connectors.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// TokenCacheStats tracks cache performance.
type TokenCacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Sets   int64 `json:"sets"`
}

// TokenCache remembers (chain, tokenAddress) keys that have already been
// handled. An in-memory set answers hot lookups; redis makes the set survive
// restarts and is best-effort; a redis outage degrades to memory-only.
type TokenCache struct {
	redis  *redis.Client
	ttl    time.Duration
	prefix string
	logger *logrus.Logger

	mu    sync.Mutex
	local map[string]struct{}
	stats TokenCacheStats
}

// NewTokenCache creates a seen-token cache. redisClient may be nil for
// memory-only operation (tests, degraded mode).
func NewTokenCache(redisClient *redis.Client, ttl time.Duration, logger *logrus.Logger) *TokenCache {
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &TokenCache{
		redis:  redisClient,
		ttl:    ttl,
		prefix: "seen_token:",
		logger: logger,
		local:  make(map[string]struct{}),
	}
}

// Seen reports whether the key was already recorded.
func (c *TokenCache) Seen(ctx context.Context, key string) bool {
	c.mu.Lock()
	_, ok := c.local[key]
	if ok {
		c.stats.Hits++
		c.mu.Unlock()
		return true
	}
	c.mu.Unlock()

	if c.redis == nil {
		c.bumpMisses()
		return false
	}

	n, err := c.redis.Exists(ctx, c.prefix+key).Result()
	if err != nil {
		if c.logger != nil {
			c.logger.WithError(err).Debug("Redis seen-token lookup failed")
		}
		c.bumpMisses()
		return false
	}
	if n > 0 {
		c.mu.Lock()
		c.local[key] = struct{}{}
		c.stats.Hits++
		c.mu.Unlock()
		return true
	}
	c.bumpMisses()
	return false
}

// Mark records the key as seen.
func (c *TokenCache) Mark(ctx context.Context, key string) {
	c.mu.Lock()
	c.local[key] = struct{}{}
	c.stats.Sets++
	c.mu.Unlock()

	if c.redis == nil {
		return
	}
	if err := c.redis.Set(ctx, c.prefix+key, "1", c.ttl).Err(); err != nil && c.logger != nil {
		c.logger.WithError(err).Debug("Redis seen-token mark failed")
	}
}

// Stats returns a copy of the cache counters.
func (c *TokenCache) Stats() TokenCacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *TokenCache) bumpMisses() {
	c.mu.Lock()
	c.stats.Misses++
	c.mu.Unlock()
}
