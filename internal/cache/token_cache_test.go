package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisCache(t *testing.T) (*TokenCache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewTokenCache(client, time.Hour, logrus.New()), mr
}

func TestTokenCache_MarkAndSeen(t *testing.T) {
	c, _ := newRedisCache(t)
	ctx := context.Background()

	assert.False(t, c.Seen(ctx, "base:0xtoken"))
	c.Mark(ctx, "base:0xtoken")
	assert.True(t, c.Seen(ctx, "base:0xtoken"))

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Sets)
	assert.Equal(t, int64(1), stats.Misses)
	assert.GreaterOrEqual(t, stats.Hits, int64(1))
}

func TestTokenCache_SurvivesLocalEviction(t *testing.T) {
	c, mr := newRedisCache(t)
	ctx := context.Background()

	c.Mark(ctx, "base:0xtoken")

	// a fresh cache instance sharing the same redis still knows the key
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	fresh := NewTokenCache(client, time.Hour, logrus.New())
	assert.True(t, fresh.Seen(ctx, "base:0xtoken"))
}

func TestTokenCache_ExpiresWithTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	c := NewTokenCache(client, time.Minute, logrus.New())
	ctx := context.Background()
	c.Mark(ctx, "base:0xshortlived")

	mr.FastForward(2 * time.Minute)

	fresh := NewTokenCache(client, time.Minute, logrus.New())
	assert.False(t, fresh.Seen(ctx, "base:0xshortlived"))
}

func TestTokenCache_MemoryOnly(t *testing.T) {
	c := NewTokenCache(nil, 0, nil)
	ctx := context.Background()

	require.False(t, c.Seen(ctx, "eth:0xabc"))
	c.Mark(ctx, "eth:0xabc")
	require.True(t, c.Seen(ctx, "eth:0xabc"))
}
