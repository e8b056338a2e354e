package service

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	opts, err := redis.ParseURL("redis://localhost:6379/15") // DB 15 is reserved for tests
	require.NoError(t, err)

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		t.Skip("Redis not available for testing")
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRateLimiter_Basic(t *testing.T) {
	redisClient := testRedis(t)
	ctx := context.Background()
	redisClient.FlushDB(ctx)

	limiter := NewRateLimiter(redisClient)

	t.Run("allows requests within limit", func(t *testing.T) {
		key := "test:redeem:10.0.0.1"
		limit := 3
		window := 10 * time.Second

		for i := 0; i < limit; i++ {
			allowed, _ := limiter.CheckLimit(ctx, key, limit, window)
			assert.True(t, allowed, "Request %d should be allowed", i+1)
		}

		allowed, resetAt := limiter.CheckLimit(ctx, key, limit, window)
		assert.False(t, allowed, "Request should be rate limited")
		assert.True(t, resetAt.After(time.Now()), "Reset time should be in future")
	})

	t.Run("sliding window behavior", func(t *testing.T) {
		key := "test:uploads:dev-2"
		limit := 2
		window := 2 * time.Second

		allowed, _ := limiter.CheckLimit(ctx, key, limit, window)
		assert.True(t, allowed)
		allowed, _ = limiter.CheckLimit(ctx, key, limit, window)
		assert.True(t, allowed)

		allowed, _ = limiter.CheckLimit(ctx, key, limit, window)
		assert.False(t, allowed)

		time.Sleep(2100 * time.Millisecond)

		allowed, _ = limiter.CheckLimit(ctx, key, limit, window)
		assert.True(t, allowed)
	})

	t.Run("different keys are independent", func(t *testing.T) {
		limit := 1
		window := 10 * time.Second

		allowed, _ := limiter.CheckLimit(ctx, "test:independent1", limit, window)
		assert.True(t, allowed)
		allowed, _ = limiter.CheckLimit(ctx, "test:independent1", limit, window)
		assert.False(t, allowed)

		allowed, _ = limiter.CheckLimit(ctx, "test:independent2", limit, window)
		assert.True(t, allowed)
	})
}

func TestRateLimiter_RedisFailure(t *testing.T) {
	invalidClient := redis.NewClient(&redis.Options{
		Addr: "localhost:9999",
	})
	defer invalidClient.Close()
	ctx := context.Background()

	t.Run("strict limiter denies", func(t *testing.T) {
		allowed, resetAt := NewRateLimiter(invalidClient).CheckLimit(ctx, "test:key", 1, time.Minute)
		assert.False(t, allowed)
		assert.True(t, resetAt.After(time.Now()))
	})

	t.Run("lenient limiter allows", func(t *testing.T) {
		allowed, _ := NewLenientRateLimiter(invalidClient).CheckLimit(ctx, "test:key", 1, time.Minute)
		assert.True(t, allowed)
	})
}
