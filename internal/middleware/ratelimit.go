package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ashureev/recall-study/internal/identity"
	"golang.org/x/time/rate"
)

// RateLimiter limits requests per participant. The key is the participant
// only, not participant and tab, so opening tabs does not raise the limit.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	limit    rate.Limit
	burst    int
	idle     time.Duration
	now      func() time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows requests per window with bursts up to requests.
func NewRateLimiter(requests int, window time.Duration) *RateLimiter {
	if requests <= 0 {
		requests = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		limiters: make(map[string]*limiterEntry),
		limit:    rate.Every(window / time.Duration(requests)),
		burst:    requests,
		idle:     2 * window,
		now:      time.Now,
	}
}

// Allow reports whether a request for key may proceed now.
func (l *RateLimiter) Allow(key string) bool {
	return l.reserve(key) == 0
}

// reserve returns zero when the request may proceed, or how long to wait.
func (l *RateLimiter) reserve(key string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, ok := l.limiters[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = e
	}
	e.lastSeen = now

	r := e.limiter.ReserveN(now, 1)
	if !r.OK() {
		return time.Duration(math.MaxInt64)
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return d
	}
	return 0
}

// Evict drops limiters idle for longer than twice the window.
func (l *RateLimiter) Evict() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-l.idle)
	n := 0
	for key, e := range l.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(l.limiters, key)
			n++
		}
	}
	return n
}

// Middleware rejects over-limit requests with 429 and a Retry-After header.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := identity.ParticipantIDFromContext(r.Context())
		if key == "" {
			key = "ip:" + identity.IPFromRequest(r)
		}
		if wait := l.reserve(key); wait > 0 {
			secs := int(math.Ceil(wait.Seconds()))
			if secs < 1 || wait == time.Duration(math.MaxInt64) {
				secs = 1
			}
			slog.Warn("Rate limit exceeded", "key", key, "path", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
