package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plugbazaar/bazaar/pkg/authz"
	"github.com/plugbazaar/bazaar/pkg/contextkeys"
	"github.com/plugbazaar/bazaar/pkg/token"
)

func setupLimiterTest(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestRateLimiter_AllowUntilExhausted(t *testing.T) {
	client, _ := setupLimiterTest(t)
	limiter := NewRateLimiter(client, &RateLimitConfig{RequestsPerWindow: 3, WindowDuration: time.Minute}, "test", nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := limiter.Allow(ctx, "key-1")
		require.NoError(t, err)
		assert.True(t, allowed, "request %d should be allowed", i+1)
	}

	allowed, err := limiter.Allow(ctx, "key-1")
	require.NoError(t, err)
	assert.False(t, allowed)

	// separate keys have separate budgets
	allowed, err = limiter.Allow(ctx, "key-2")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRateLimiter_WindowExpiry(t *testing.T) {
	client, mr := setupLimiterTest(t)
	limiter := NewRateLimiter(client, &RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Second}, "test", nil)
	ctx := context.Background()

	allowed, err := limiter.Allow(ctx, "key-1")
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, err = limiter.Allow(ctx, "key-1")
	require.NoError(t, err)
	require.False(t, allowed)

	mr.FastForward(2 * time.Second)

	allowed, err = limiter.Allow(ctx, "key-1")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRateLimiter_FailsOpenOnRedisError(t *testing.T) {
	client, mr := setupLimiterTest(t)
	limiter := NewRateLimiter(client, DefaultRateLimitConfig(), "test", nil)
	mr.Close()

	allowed, err := limiter.Allow(context.Background(), "key-1")
	assert.Error(t, err)
	assert.True(t, allowed, "redis outage must not block traffic")
}

func TestRateLimiter_Remaining(t *testing.T) {
	client, _ := setupLimiterTest(t)
	limiter := NewRateLimiter(client, &RateLimitConfig{RequestsPerWindow: 5, WindowDuration: time.Minute}, "test", nil)
	ctx := context.Background()

	remaining, err := limiter.Remaining(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, 5, remaining)

	_, err = limiter.Allow(ctx, "key-1")
	require.NoError(t, err)

	remaining, err = limiter.Remaining(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, 4, remaining)
}

func TestRateLimitMiddleware_AnonymousKeyedByIP(t *testing.T) {
	client, _ := setupLimiterTest(t)
	mw := NewRateLimitMiddleware(client, nil)

	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/api/v1/plugins", nil)
	req.RemoteAddr = "203.0.113.9:4411"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "60", w.Header().Get("X-RateLimit-Limit"))
}

func TestRateLimitMiddleware_AuthenticatedUsesPrincipalBudget(t *testing.T) {
	client, _ := setupLimiterTest(t)
	mw := NewRateLimitMiddleware(client, nil)

	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	principal := &authz.Principal{ID: "user-1", Scope: token.ScopeAccount}
	req := httptest.NewRequest("GET", "/api/v1/me", nil)
	req = req.WithContext(contextkeys.WithPrincipal(req.Context(), principal))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "300", w.Header().Get("X-RateLimit-Limit"))
}

func TestRateLimitMiddleware_Returns429(t *testing.T) {
	client, _ := setupLimiterTest(t)
	mw := &RateLimitMiddleware{
		principalLimiter: NewRateLimiter(client, &RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute}, "p", nil),
		anonymousLimiter: NewRateLimiter(client, &RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute}, "a", nil),
	}

	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "203.0.113.9:4411"

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}
