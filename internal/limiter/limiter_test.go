package limiter

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xscopehub/modelmcp/internal/config"
)

func TestDisabled(t *testing.T) {
	l := New(Config{Enabled: false})
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Allow(context.Background(), "c"))
	}
	var nilLimiter *Limiter
	assert.NoError(t, nilLimiter.Allow(context.Background(), "c"))
}

func TestLocalBucket(t *testing.T) {
	l := New(Config{Enabled: true, RequestsPerMinute: 60, Burst: 3})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Allow(ctx, "agent-a"))
	}
	assert.ErrorIs(t, l.Allow(ctx, "agent-a"), ErrRateLimited)
	assert.NoError(t, l.Allow(ctx, "agent-b"), "buckets are per client")
}

func TestDefaultBurst(t *testing.T) {
	l := New(Config{Enabled: true, RequestsPerMinute: 12})
	ctx := context.Background()
	require.NoError(t, l.Allow(ctx, "c"))
	require.NoError(t, l.Allow(ctx, "c"))
	assert.ErrorIs(t, l.Allow(ctx, "c"), ErrRateLimited)
}

func TestBuildRedisClientDisabled(t *testing.T) {
	client, err := BuildRedisClient(context.Background(), config.RateLimiterConfig{Enabled: true})
	require.NoError(t, err)
	assert.Nil(t, client)
}

func TestLocalBucketsBounded(t *testing.T) {
	l := New(Config{Enabled: true, RequestsPerMinute: 1, Burst: 1, MaxClients: 2})
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return clock }
	ctx := context.Background()

	require.NoError(t, l.Allow(ctx, "a"))
	clock = clock.Add(time.Second)
	require.NoError(t, l.Allow(ctx, "b"))
	clock = clock.Add(time.Second)
	require.NoError(t, l.Allow(ctx, "c"))
	assert.Len(t, l.local, 2)
	assert.NotContains(t, l.local, "a", "least recently seen client is evicted")
	assert.ErrorIs(t, l.Allow(ctx, "b"), ErrRateLimited, "surviving buckets keep their state")

	for i := 0; i < 1000; i++ {
		_ = l.Allow(ctx, fmt.Sprintf("client-%d", i))
	}
	assert.LessOrEqual(t, len(l.local), 2)

	clock = clock.Add(2 * time.Minute)
	require.NoError(t, l.Allow(ctx, "d"))
	assert.Len(t, l.local, 1, "refilled buckets are dropped first")
}
