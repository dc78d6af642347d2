package relay

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/maypok86/otter/v2"
	"golang.org/x/time/rate"
)

const maxTrackedClients = 100_000

// rateLimiter keeps a token bucket per client IP. A bucket idle for a whole
// window is full again, so it is evicted and recreated on the next request.
type rateLimiter struct {
	mu       sync.Mutex // serialises bucket creation
	limiters *otter.Cache[string, *rate.Limiter]
	limit    int
	window   time.Duration
	now      func() time.Time
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	limit = max(limit, 1)
	return &rateLimiter{
		limiters: otter.Must(&otter.Options[string, *rate.Limiter]{
			MaximumSize:      maxTrackedClients,
			ExpiryCalculator: otter.ExpiryAccessing[string, *rate.Limiter](window),
		}),
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

func (rl *rateLimiter) bucket(key string) *rate.Limiter {
	if l, ok := rl.limiters.GetIfPresent(key); ok {
		return l
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if l, ok := rl.limiters.GetIfPresent(key); ok {
		return l
	}
	l := rate.NewLimiter(rate.Every(rl.window/time.Duration(rl.limit)), rl.limit)
	rl.limiters.Set(key, l)
	return l
}

func (rl *rateLimiter) allow(key string) bool {
	return rl.bucket(key).AllowN(rl.now(), 1)
}

// middleware rejects clients over the limit. It runs after RealIP, so
// RemoteAddr already reflects proxy headers.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
		if !rl.allow(ip) {
			writeJSON(w, http.StatusTooManyRequests, errorBody(r, "rate limit exceeded, please try again later"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
