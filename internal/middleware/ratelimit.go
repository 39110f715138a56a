package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// RateLimitConfig holds configuration for a specific rate limit
type RateLimitConfig struct {
	Name   string
	Limit  int
	Window time.Duration
	KeyFn  func(*http.Request) string
}

// RateLimit creates a fixed-window rate limiting middleware backed by Redis
// INCR. Zero Limit or Window fall back to the configured defaults. Redis
// errors let the request through.
func (m *Middleware) RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	settings := m.cfg.Security.RateLimiting
	if cfg.Limit <= 0 {
		cfg.Limit = settings.DefaultLimit
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
		if d, err := time.ParseDuration(settings.DefaultWindow); err == nil && d > 0 {
			cfg.Window = d
		}
	}
	if cfg.KeyFn == nil {
		cfg.KeyFn = IPKey
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !settings.Enabled || m.rdb == nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			key := fmt.Sprintf("ratelimit:%s:%s", cfg.Name, cfg.KeyFn(r))

			count, err := m.rdb.Incr(ctx, key)
			if err != nil {
				m.log.Error().Err(err).Msg("failed to increment rate limit counter")
				next.ServeHTTP(w, r)
				return
			}

			// Set expiry on first request
			if count == 1 {
				if err := m.rdb.Expire(ctx, key, cfg.Window); err != nil {
					m.log.Warn().Err(err).Str("key", key).Msg("failed to set rate limit window")
				}
			}

			ttl, err := m.rdb.TTL(ctx, key)
			if err != nil || ttl < 0 {
				ttl = cfg.Window
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(max(0, cfg.Limit-int(count))))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(ttl).Unix(), 10))

			if int(count) > cfg.Limit {
				w.Header().Set("Retry-After", strconv.FormatInt(int64(ttl.Seconds()), 10))
				writeError(w, http.StatusTooManyRequests, "rate_limit_exceeded", "Too many requests. Please try again later.")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// IPKey returns the client IP address as the rate limit key
func IPKey(r *http.Request) string {
	return ClientIP(r)
}

// UserKey keys authenticated requests by user id and falls back to the IP.
func UserKey(r *http.Request) string {
	if claims, ok := ClaimsFromContext(r.Context()); ok {
		return "user:" + strconv.FormatInt(claims.UserID, 10)
	}
	return IPKey(r)
}
