package middleware

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter is a per-client token bucket limiter, grounded on the
// teacher's internal/api/middleware.RateLimiter.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// NewRateLimiter builds a limiter enforcing requestsPerMinute per client.
func NewRateLimiter(requestsPerMinute, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:    burst,
	}
}

func (rl *RateLimiter) limiterFor(clientID string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	l, ok := rl.limiters[clientID]
	if !ok {
		l = rate.NewLimiter(rl.rps, rl.burst)
		rl.limiters[clientID] = l
	}
	return l
}

// Cleanup drops limiters sitting at full burst (idle clients). Intended to
// be called periodically from a background ticker.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := time.Now()
	for id, l := range rl.limiters {
		if l.TokensAt(now) == float64(rl.burst) {
			delete(rl.limiters, id)
		}
	}
}

// RateLimit rejects requests over the per-client token bucket with 429,
// identifying clients by tenant name (falling back to remote address).
func RateLimit(requestsPerMinute, burst int) func(http.Handler) http.Handler {
	limiter := NewRateLimiter(requestsPerMinute, burst)
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			limiter.Cleanup()
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID := clientIdentity(r)
			if !limiter.limiterFor(clientID).Allow() {
				w.Header().Set(RateLimitLimitHeader, fmt.Sprintf("%d", requestsPerMinute))
				w.Header().Set(RateLimitRemainingHeader, "0")
				w.Header().Set("Retry-After", "60")
				http.Error(w, `{"title":"rate limit exceeded","code":"TOO_MANY_REQUESTS"}`, http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIdentity(r *http.Request) string {
	if tenant := r.Header.Get("Cray-Tenant-Name"); tenant != "" {
		return tenant
	}
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return ip
	}
	return r.RemoteAddr
}
