package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/unclebandit/followup-engine/internal/metrics"
	"github.com/unclebandit/followup-engine/internal/response"
)

// DefaultLimiterIdle is how long a key may go unseen before its bucket is
// dropped.
const DefaultLimiterIdle = 10 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per principal, falling back to the
// client IP for unauthenticated routes. Buckets idle longer than Idle, and
// never less than a full refill, are swept lazily on later requests.
type RateLimiter struct {
	limiters  map[string]*limiterEntry
	mu        sync.Mutex
	r         rate.Limit
	burst     int
	Idle      time.Duration
	Now       func() time.Time
	lastSweep time.Time
}

func NewRateLimiter(r rate.Limit, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*limiterEntry),
		r:        r,
		burst:    burst,
		Idle:     DefaultLimiterIdle,
		Now:      time.Now,
	}
}

// idle is the eviction age. A bucket refills completely within burst/r, so
// dropping it after that long loses no state.
func (rl *RateLimiter) idle() time.Duration {
	idle := rl.Idle
	if rl.r > 0 && rl.r != rate.Inf {
		if refill := time.Duration(float64(rl.burst) / float64(rl.r) * float64(time.Second)); refill > idle {
			idle = refill
		}
	}
	return idle
}

func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.Now()
	idle := rl.idle()
	if now.Sub(rl.lastSweep) >= idle {
		for k, e := range rl.limiters {
			if now.Sub(e.lastSeen) >= idle {
				delete(rl.limiters, k)
			}
		}
		rl.lastSweep = now
	}

	e, exists := rl.limiters[key]
	if !exists {
		e = &limiterEntry{limiter: rate.NewLimiter(rl.r, rl.burst)}
		rl.limiters[key] = e
	}
	e.lastSeen = now
	return e.limiter
}

// Len reports how many buckets are held.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

func clientKey(r *http.Request) string {
	if p := PrincipalFrom(r.Context()); p != "" {
		return "principal:" + p
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.getLimiter(clientKey(r)).Allow() {
			metrics.HttpRateLimitRejectionsTotal.Inc()
			w.Header().Set("Retry-After", "1")
			response.WriteProblem(w, response.Problem{
				Status: http.StatusTooManyRequests,
				Detail: "rate limit exceeded, slow down",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
