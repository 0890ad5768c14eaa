package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter applies a token bucket per key and evicts idle keys
type RateLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	byKey   map[string]*limiterEntry
	idleTTL time.Duration
	hits    uint64
	now     func() time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows maxReqs requests per window for each key, refilling
// evenly over the window
func NewRateLimiter(window time.Duration, maxReqs int) *RateLimiter {
	if maxReqs <= 0 {
		maxReqs = 1
	}
	return &RateLimiter{
		limit:   rate.Every(window / time.Duration(maxReqs)),
		burst:   maxReqs,
		byKey:   make(map[string]*limiterEntry),
		idleTTL: 2 * window,
		now:     time.Now,
	}
}

// Allow checks if a request is allowed for the given key
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	e, ok := rl.byKey[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.byKey[key] = e
	}
	e.lastSeen = now

	rl.hits++
	if rl.hits%512 == 0 {
		cutoff := now.Add(-rl.idleTTL)
		for k, v := range rl.byKey {
			if v.lastSeen.Before(cutoff) {
				delete(rl.byKey, k)
			}
		}
	}

	return e.limiter.AllowN(now, 1)
}

// RateLimitMiddleware creates a rate limiting middleware
func RateLimitMiddleware(limiter *RateLimiter, keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(keyFunc(r)) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetIPKey extracts the client IP for rate limiting. chi's RealIP middleware
// has already replaced RemoteAddr with X-Forwarded-For / X-Real-IP when present.
func GetIPKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + strings.TrimSpace(host)
}
