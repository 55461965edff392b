package server

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/54b3r/docchat-go/internal/logging"
)

const (
	// defaultRateLimit is the sustained requests per second per key.
	defaultRateLimit = 10
	// defaultRateBurst is the instantaneous burst per key.
	defaultRateBurst = 20
	// limiterIdle is how long a bucket survives without traffic.
	limiterIdle = 5 * time.Minute
	// sweepEvery spaces out eviction sweeps, which run on the request path.
	sweepEvery = time.Minute
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter throttles the expensive session routes (ingest, upload, ask).
// Buckets are keyed by client IP and session ID so one busy session cannot
// starve another session of the same client. Idle buckets are swept lazily.
type rateLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time

	rps   rate.Limit
	burst int
	// now is the clock; tests replace it.
	now func() time.Time
}

func newRateLimiter(rps float64, burst int) *rateLimiter {
	return &rateLimiter{
		buckets: make(map[string]*bucket),
		rps:     rate.Limit(rps),
		burst:   burst,
		now:     time.Now,
	}
}

// take spends one token of key's bucket. When none is available it returns
// false and how long until one will be.
func (rl *rateLimiter) take(key string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) >= sweepEvery {
		rl.sweep(now)
	}
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now

	res := b.limiter.ReserveN(now, 1)
	if !res.OK() {
		return false, time.Second
	}
	if wait := res.DelayFrom(now); wait > 0 {
		res.CancelAt(now)
		return false, wait
	}
	return true, 0
}

// sweep drops buckets idle for longer than limiterIdle. rl.mu must be held.
func (rl *rateLimiter) sweep(now time.Time) {
	rl.lastSweep = now
	for key, b := range rl.buckets {
		if now.Sub(b.lastSeen) > limiterIdle {
			delete(rl.buckets, key)
		}
	}
}

func (rl *rateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// middleware answers 429 with a Retry-After of whole seconds when the
// caller's bucket is empty.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, sessionID := clientIP(r), r.PathValue("id")
		ok, wait := rl.take(ip + "|" + sessionID)
		if ok {
			next.ServeHTTP(w, r)
			return
		}

		retry := max(1, int(math.Ceil(wait.Seconds())))
		logging.FromContext(r.Context()).Warn("rate limit exceeded",
			slog.String("ip", ip),
			slog.String("session", sessionID),
			slog.Int("retry_after_s", retry),
		)
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		writeJSON(w, r, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded"})
	})
}

// clientIP is the remote address without its port. X-Forwarded-For is not
// trusted.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
