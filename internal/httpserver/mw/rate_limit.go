package mw

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/pinbook/internal/utils"
)

// RateLimitConfig configures a token bucket per client IP.
type RateLimitConfig struct {
	Burst             int
	RefillPerIPPerMin int
	MaxEntries        int // tracked clients, 0 for no limit
	SweepInterval     time.Duration
	IdleTTL           time.Duration
	TrustProxy        bool // resolve IP from proxy headers when true

	// ExemptRoutes are chi route patterns that bypass the limiter, e.g. a
	// webhook whose sender redelivers on 429.
	ExemptRoutes []string
	Now          func() time.Time
}

type bucket struct {
	tokens float64
	seen   time.Time
}

// verdict is the outcome of one request against its bucket.
type verdict struct {
	ok         bool
	remaining  int
	retryAfter int // seconds, set when !ok
}

type limiter struct {
	capacity   float64
	perMin     float64
	maxEntries int
	idleTTL    time.Duration
	sweepEvery time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket
	swept   time.Time
}

func newLimiter(cfg RateLimitConfig, now time.Time) *limiter {
	l := &limiter{
		capacity:   float64(max(cfg.Burst, 1)),
		perMin:     float64(max(cfg.RefillPerIPPerMin, 1)),
		maxEntries: cfg.MaxEntries,
		idleTTL:    cfg.IdleTTL,
		sweepEvery: cfg.SweepInterval,
		buckets:    make(map[string]*bucket, 1024),
		swept:      now,
	}
	if l.idleTTL <= 0 {
		l.idleTTL = 15 * time.Minute
	}
	if l.sweepEvery <= 0 {
		l.sweepEvery = time.Minute
	}
	return l
}

// allow refills the bucket of key up to now and spends one token.
func (l *limiter) allow(key string, now time.Time) verdict {
	l.mu.Lock()
	defer l.mu.Unlock()

	full := l.maxEntries > 0 && len(l.buckets) >= l.maxEntries
	if full || now.Sub(l.swept) >= l.sweepEvery {
		l.sweep(now)
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.capacity, seen: now}
		l.buckets[key] = b
	}
	if dt := now.Sub(b.seen); dt > 0 {
		b.tokens = math.Min(l.capacity, b.tokens+dt.Seconds()*l.perMin/60)
	}
	b.seen = now

	if b.tokens >= 1 {
		b.tokens--
		return verdict{ok: true, remaining: int(b.tokens)}
	}
	secs := math.Ceil((1 - b.tokens) * 60 / l.perMin)
	return verdict{retryAfter: max(int(secs), 1)}
}

// sweep drops idle buckets. A client that keeps knocking while limited stays
// tracked, so it cannot reset its bucket by waiting out the sweep.
func (l *limiter) sweep(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.seen) > l.idleTTL {
			delete(l.buckets, key)
		}
	}
	l.swept = now
}

// routePattern resolves the chi pattern r will be dispatched to. Middleware
// on the root router runs before routing, so the pattern is looked up.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return ""
	}
	if p := rctx.RoutePattern(); p != "" {
		return p
	}
	if rctx.Routes == nil {
		return ""
	}
	return rctx.Routes.Find(chi.NewRouteContext(), r.Method, r.URL.Path)
}

// RateLimit rejects clients that exhausted their bucket with a JSON 429 and
// a Retry-After header.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	l := newLimiter(cfg, now())
	limit := strconv.Itoa(int(l.capacity))

	exempt := make(map[string]bool, len(cfg.ExemptRoutes))
	for _, p := range cfg.ExemptRoutes {
		exempt[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(exempt) > 0 && exempt[routePattern(r)] {
				next.ServeHTTP(w, r)
				return
			}

			v := l.allow(utils.ClientIP(r, cfg.TrustProxy), now())
			h := w.Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.Itoa(v.remaining))
			if !v.ok {
				retry := strconv.Itoa(v.retryAfter)
				h.Set("Retry-After", retry)
				writeError(w, http.StatusTooManyRequests, "rate_limited",
					"too many requests, retry in "+retry+"s")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
