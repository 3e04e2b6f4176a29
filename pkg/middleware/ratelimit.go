package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/plugbazaar/bazaar/pkg/httputil"
	"github.com/plugbazaar/bazaar/pkg/observability"
)

// RateLimitConfig describes a fixed-window rate limit
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// DefaultRateLimitConfig is the anonymous-traffic limit
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{RequestsPerWindow: 60, WindowDuration: time.Minute}
}

// PrincipalRateLimitConfig is the limit for authenticated traffic
func PrincipalRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{RequestsPerWindow: 300, WindowDuration: time.Minute}
}

// RateLimiter is a Redis-backed fixed-window limiter shared across
// instances. On Redis errors it fails open: rate limiting protects
// capacity and is never allowed to take the service down with it.
type RateLimiter struct {
	redis  *redis.Client
	config *RateLimitConfig
	prefix string
	logger *observability.Logger
}

// NewRateLimiter creates a Redis-backed rate limiter
func NewRateLimiter(redisClient *redis.Client, config *RateLimitConfig, prefix string, logger *observability.Logger) *RateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	if prefix == "" {
		prefix = "ratelimit"
	}
	if logger == nil {
		logger = observability.NewDefaultLogger()
	}
	return &RateLimiter{redis: redisClient, config: config, prefix: prefix, logger: logger}
}

// Allow checks whether a request under the key may proceed
func (rl *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := fmt.Sprintf("%s:%s", rl.prefix, key)

	pipe := rl.redis.Pipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, rl.config.WindowDuration)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, fmt.Errorf("redis error: %w", err)
	}

	return incr.Val() <= int64(rl.config.RequestsPerWindow), nil
}

// Remaining returns the unused quota for a key in the current window
func (rl *RateLimiter) Remaining(ctx context.Context, key string) (int, error) {
	redisKey := fmt.Sprintf("%s:%s", rl.prefix, key)

	count, err := rl.redis.Get(ctx, redisKey).Int()
	if err == redis.Nil {
		return rl.config.RequestsPerWindow, nil
	}
	if err != nil {
		return 0, err
	}

	remaining := rl.config.RequestsPerWindow - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Reset clears the rate limit for a key
func (rl *RateLimiter) Reset(ctx context.Context, key string) error {
	return rl.redis.Del(ctx, fmt.Sprintf("%s:%s", rl.prefix, key)).Err()
}

// RateLimitMiddleware applies per-principal limits to authenticated
// requests and per-IP limits to anonymous ones.
type RateLimitMiddleware struct {
	principalLimiter *RateLimiter
	anonymousLimiter *RateLimiter
}

// NewRateLimitMiddleware creates the standard two-tier limiter
func NewRateLimitMiddleware(redisClient *redis.Client, logger *observability.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		principalLimiter: NewRateLimiter(redisClient, PrincipalRateLimitConfig(), "ratelimit:principal", logger),
		anonymousLimiter: NewRateLimiter(redisClient, DefaultRateLimitConfig(), "ratelimit:anon", logger),
	}
}

// Handler wraps an HTTP handler with rate limiting
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var key string
		var limiter *RateLimiter
		if principal, ok := GetPrincipal(r); ok {
			key = principal.ID
			limiter = m.principalLimiter
		} else {
			key = clientIP(r)
			limiter = m.anonymousLimiter
		}

		allowed, err := limiter.Allow(ctx, key)
		if err != nil {
			observability.FromContext(ctx).WithError(err).Warn("rate limiter unavailable, allowing request")
		}
		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(limiter.config.WindowDuration.Seconds())))
			httputil.WriteTooManyRequests(w, "rate limit exceeded")
			return
		}

		if remaining, err := limiter.Remaining(ctx, key); err == nil {
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.config.RequestsPerWindow))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		}

		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
