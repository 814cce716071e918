package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"schoolforum/internal/cache"
	"schoolforum/internal/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestCheckRateLimit(t *testing.T) {
	ctx := context.Background()

	for _, env := range []string{"test", "development"} {
		t.Run(env+" bypass", func(t *testing.T) {
			InitMiddleware(&config.Config{Env: env})
			allowed, err := CheckRateLimit(ctx, nil, "comments", "user:1", 1, time.Minute)
			assert.NoError(t, err)
			assert.True(t, allowed)
		})
	}

	t.Run("nil redis in production", func(t *testing.T) {
		InitMiddleware(&config.Config{Env: "production"})
		allowed, err := CheckRateLimit(ctx, nil, "comments", "user:1", 1, time.Minute)
		assert.ErrorIs(t, err, errNoRedis)
		assert.False(t, allowed)
	})

	t.Run("counts within window", func(t *testing.T) {
		InitMiddleware(&config.Config{Env: "production"})
		mr, rdb := newTestRedis(t)

		for i := 0; i < 2; i++ {
			allowed, err := CheckRateLimit(ctx, rdb, "comments", "user:1", 2, time.Minute)
			require.NoError(t, err)
			assert.True(t, allowed)
		}
		allowed, err := CheckRateLimit(ctx, rdb, "comments", "user:1", 2, time.Minute)
		require.NoError(t, err)
		assert.False(t, allowed)

		key := cache.RateLimitKey("comments", "user:1")
		assert.Equal(t, time.Minute, mr.TTL(key))

		mr.FastForward(time.Minute + time.Second)
		allowed, err = CheckRateLimit(ctx, rdb, "comments", "user:1", 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed, "window expired")
	})
}

func TestRateLimitMiddleware(t *testing.T) {
	handler := func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) }
	get := func(t *testing.T, app *fiber.App, path string) int {
		t.Helper()
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
		require.NoError(t, err)
		_ = resp.Body.Close()
		return resp.StatusCode
	}

	t.Run("bypass in test mode", func(t *testing.T) {
		InitMiddleware(&config.Config{Env: "test"})
		app := fiber.New()
		app.Get("/test", RateLimit(nil, 1, time.Minute), handler)
		assert.Equal(t, http.StatusOK, get(t, app, "/test"))
	})

	t.Run("FailOpen with nil redis in production", func(t *testing.T) {
		InitMiddleware(&config.Config{Env: "production"})
		app := fiber.New()
		app.Get("/test", RateLimit(nil, 1, time.Minute), handler)
		assert.Equal(t, http.StatusOK, get(t, app, "/test"))
	})

	t.Run("FailClosed with nil redis in production", func(t *testing.T) {
		InitMiddleware(&config.Config{Env: "production"})
		app := fiber.New()
		app.Get("/sensitive", RateLimitWithPolicy(nil, 1, time.Minute, FailClosed), handler)
		assert.Equal(t, http.StatusServiceUnavailable, get(t, app, "/sensitive"))
	})

	t.Run("limits anonymous callers by ip", func(t *testing.T) {
		InitMiddleware(&config.Config{Env: "production"})
		mr, rdb := newTestRedis(t)
		app := fiber.New()
		app.Get("/limited", RateLimit(rdb, 1, time.Minute, "mutations"), handler)

		assert.Equal(t, http.StatusOK, get(t, app, "/limited"))
		assert.Equal(t, http.StatusTooManyRequests, get(t, app, "/limited"))
		keys := mr.Keys()
		require.Len(t, keys, 1)
		assert.Contains(t, keys[0], cache.RateLimitKey("mutations", "ip:"))
	})
}
