package api

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victorivanov/rolesync/internal/redis"
)

func okHandler(called *bool) echo.HandlerFunc {
	return func(c echo.Context) error {
		if called != nil {
			*called = true
		}
		return c.String(http.StatusOK, "ok")
	}
}

func TestRateLimit_Allowed(t *testing.T) {
	rdb := newTestRedis(t)

	handlerCalled := false
	wrapped := RateLimitMiddleware(rdb, 5, time.Minute)(okHandler(&handlerCalled))

	c, rec := newTestContext(http.MethodGet, "/api/v1/test", nil)
	require.NoError(t, wrapped(c))

	assert.True(t, handlerCalled)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "5", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "4", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))
}

func TestRateLimit_Exceeded(t *testing.T) {
	rdb := newTestRedis(t)
	wrapped := RateLimitMiddleware(rdb, 2, time.Minute)(okHandler(nil))

	// Use up the limit.
	for i := 0; i < 2; i++ {
		c, _ := newTestContext(http.MethodGet, "/api/v1/test", nil)
		require.NoError(t, wrapped(c), "request %d", i+1)
	}

	c, rec := newTestContext(http.MethodGet, "/api/v1/test", nil)
	require.NoError(t, wrapped(c))
	require.Equal(t, http.StatusTooManyRequests, rec.Code, rec.Body.String())

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "RATE_LIMITED", errResp.Error.Code)

	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestRateLimit_FailOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = rdb.Close() })
	mr.SetError("simulated outage")

	handlerCalled := false
	wrapped := RateLimitMiddleware(rdb, 1, time.Minute)(okHandler(&handlerCalled))

	c, rec := newTestContext(http.MethodGet, "/api/v1/test", nil)
	require.NoError(t, wrapped(c))

	assert.True(t, handlerCalled, "expected handler to be called on Redis failure")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit_NoRedis(t *testing.T) {
	handlerCalled := false
	wrapped := RateLimitMiddleware(nil, 1, time.Minute)(okHandler(&handlerCalled))

	c, rec := newTestContext(http.MethodGet, "/api/v1/test", nil)
	require.NoError(t, wrapped(c))
	assert.True(t, handlerCalled)
	assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
}

func TestRateLimit_AuthenticatedUser(t *testing.T) {
	rdb := newTestRedis(t)
	wrapped := RateLimitMiddleware(rdb, 1, time.Minute)(okHandler(nil))

	c1, rec1 := newTestContext(http.MethodGet, "/api/v1/test", nil)
	setAuthUser(c1, "u1")
	require.NoError(t, wrapped(c1))
	assert.Equal(t, http.StatusOK, rec1.Code)

	c2, rec2 := newTestContext(http.MethodGet, "/api/v1/test", nil)
	setAuthUser(c2, "u1")
	require.NoError(t, wrapped(c2))
	assert.Equal(t, http.StatusTooManyRequests, rec2.Code)

	// different key
	c3, rec3 := newTestContext(http.MethodGet, "/api/v1/test", nil)
	setAuthUser(c3, "u2")
	require.NoError(t, wrapped(c3))
	assert.Equal(t, http.StatusOK, rec3.Code)
}

func TestRateLimit_StrictCountsSeparately(t *testing.T) {
	rdb := newTestRedis(t)
	wrapped := RateLimitMiddleware(rdb, 10, time.Minute)(
		StrictRateLimitMiddleware(rdb, 1, time.Minute)(okHandler(nil)),
	)

	c1, rec1 := newTestContext(http.MethodPost, "/api/v1/heavy", nil)
	setAuthUser(c1, "u1")
	require.NoError(t, wrapped(c1))
	assert.Equal(t, http.StatusOK, rec1.Code)
	assert.Equal(t, "0", rec1.Header().Get("X-RateLimit-Remaining"))

	c2, rec2 := newTestContext(http.MethodPost, "/api/v1/heavy", nil)
	setAuthUser(c2, "u1")
	require.NoError(t, wrapped(c2))
	assert.Equal(t, http.StatusTooManyRequests, rec2.Code)
}
