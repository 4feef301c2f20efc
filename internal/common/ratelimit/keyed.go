package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// KeyedLimiter keeps one token bucket per key (typically the client IP)
type KeyedLimiter struct {
	mu            sync.Mutex
	rps           rate.Limit
	burst         int
	maxKeys       int
	cleanupPeriod time.Duration
	limiters      map[string]*limiterEntry
	lastCleanup   time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// NewKeyedLimiter creates a per-key limiter allowing rps requests per second with the given burst
func NewKeyedLimiter(rps float64, burst int) *KeyedLimiter {
	if burst <= 0 {
		burst = int(rps)
		if burst <= 0 {
			burst = 1
		}
	}
	return &KeyedLimiter{
		rps:           rate.Limit(rps),
		burst:         burst,
		maxKeys:       10000,
		cleanupPeriod: 10 * time.Minute,
		limiters:      make(map[string]*limiterEntry),
		lastCleanup:   time.Now(),
	}
}

// Allow reports whether a request for key may proceed
func (kl *KeyedLimiter) Allow(key string) bool {
	return kl.limiterFor(key).Allow()
}

func (kl *KeyedLimiter) limiterFor(key string) *rate.Limiter {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	if time.Since(kl.lastCleanup) > kl.cleanupPeriod || len(kl.limiters) > kl.maxKeys {
		kl.cleanup()
	}

	entry, exists := kl.limiters[key]
	if !exists {
		entry = &limiterEntry{limiter: rate.NewLimiter(kl.rps, kl.burst)}
		kl.limiters[key] = entry
	}
	entry.lastUsed = time.Now()
	return entry.limiter
}

// cleanup removes limiters that haven't been used recently; mu must be held
func (kl *KeyedLimiter) cleanup() {
	cutoff := time.Now().Add(-kl.cleanupPeriod)
	for key, entry := range kl.limiters {
		if entry.lastUsed.Before(cutoff) {
			delete(kl.limiters, key)
		}
	}
	kl.lastCleanup = time.Now()
}

// HTTPMiddleware rejects requests over the per-key rate with 429
func HTTPMiddleware(limiter *KeyedLimiter, keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(keyFunc(r)) {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.burst))
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("Retry-After", "1")
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IPKey extracts the client IP from the request for rate limiting
func IPKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
