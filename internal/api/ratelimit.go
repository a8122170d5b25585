package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimiterConfig holds rate limiter configuration.
type RateLimiterConfig struct {
	RequestsPerMinute int
	BurstSize         int
}

// tokenBucket refills continuously at rate tokens per second up to capacity.
type tokenBucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	rate     float64
	last     time.Time
}

func newTokenBucket(capacity, rate float64, now time.Time) *tokenBucket {
	return &tokenBucket{tokens: capacity, capacity: capacity, rate: rate, last: now}
}

func (b *tokenBucket) refill(now time.Time) {
	b.tokens = min(b.capacity, b.tokens+now.Sub(b.last).Seconds()*b.rate)
	b.last = now
}

// take consumes one token if available and reports the tokens left and the
// time at which the bucket will be full again.
func (b *tokenBucket) take(now time.Time) (ok bool, remaining int, full time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill(now)
	if b.tokens >= 1 {
		b.tokens--
		ok = true
	}
	wait := (b.capacity - b.tokens) / b.rate
	return ok, int(b.tokens), now.Add(time.Duration(wait * float64(time.Second)))
}

func (b *tokenBucket) idleSince() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last
}

// RateLimiter applies a token bucket per client IP.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*tokenBucket
	config  RateLimiterConfig
	idleTTL time.Duration
	now     func() time.Time
}

// NewRateLimiter creates a limiter. A zero burst defaults to 10.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = 10
	}
	return &RateLimiter{
		buckets: make(map[string]*tokenBucket),
		config:  cfg,
		idleTTL: 5 * time.Minute,
		now:     time.Now,
	}
}

func (rl *RateLimiter) bucket(ip string) *tokenBucket {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	b, ok := rl.buckets[ip]
	if !ok {
		b = newTokenBucket(float64(rl.config.BurstSize), float64(rl.config.RequestsPerMinute)/60, rl.now())
		rl.buckets[ip] = b
	}
	return b
}

// Allow consumes one request for ip.
func (rl *RateLimiter) Allow(ip string) bool {
	ok, _, _ := rl.bucket(ip).take(rl.now())
	return ok
}

// Sweep drops buckets idle for longer than the TTL until ctx is done.
func (rl *RateLimiter) Sweep(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.sweep()
		}
	}
}

func (rl *RateLimiter) sweep() {
	cutoff := rl.now().Add(-rl.idleTTL)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, b := range rl.buckets {
		if b.idleSince().Before(cutoff) {
			delete(rl.buckets, ip)
		}
	}
}

// Middleware rejects requests over the limit with 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		now := rl.now()
		ok, remaining, full := rl.bucket(clientIP(r)).take(now)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.config.RequestsPerMinute))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(full.Unix(), 10))

		if !ok {
			retry := int(full.Sub(now).Seconds()) + 1
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			respondError(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED",
				"Rate limit exceeded. Try again in "+strconv.Itoa(retry)+" seconds.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP prefers the leftmost valid X-Forwarded-For entry, then X-Real-IP,
// then the connection address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); net.ParseIP(ip) != nil {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(ip) != nil {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if net.ParseIP(host) != nil {
		return host
	}
	return "unknown"
}
