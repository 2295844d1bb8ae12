// Rate limiting upgraded from the teacher's hand-rolled sliding window
// (middleware/ratelimit.go) to golang.org/x/time/rate per-key token
// buckets, the ecosystem's standard token bucket (named via
// ChoSanghyuk-blackholedex / r3e-network-service_layer go.mod) and exactly
// what spec.md §4.B stage 5 calls for.
package ingress

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/riskgateway/platform/internal/apierrors"
	"github.com/riskgateway/platform/internal/routetable"
)

// RateLimiter holds one token bucket per (class, client key), sharded by
// client address (spec.md §4.B stage 5).
type RateLimiter struct {
	window       time.Duration
	capacity     int
	authCapacity int

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// NewRateLimiter builds a limiter with the configured window and per-class
// capacities (spec.md defaults: window=15min, capacity=100, auth
// capacity=10).
func NewRateLimiter(window time.Duration, capacity, authCapacity int) *RateLimiter {
	if window <= 0 {
		window = 15 * time.Minute
	}
	if capacity <= 0 {
		capacity = 100
	}
	if authCapacity <= 0 {
		authCapacity = 10
	}
	return &RateLimiter{window: window, capacity: capacity, authCapacity: authCapacity, buckets: make(map[string]*rate.Limiter)}
}

func (rl *RateLimiter) limiterFor(class routetable.RateLimitClass, key string) *rate.Limiter {
	capacity := rl.capacity
	if class == routetable.ClassStrict {
		capacity = rl.authCapacity
	}
	bucketKey := key
	if class == routetable.ClassStrict {
		bucketKey = "strict:" + key
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	lim, ok := rl.buckets[bucketKey]
	if !ok {
		perSecond := rate.Limit(float64(capacity) / rl.window.Seconds())
		lim = rate.NewLimiter(perSecond, capacity)
		rl.buckets[bucketKey] = lim
	}
	return lim
}

// Allow reports whether a request from key under class is permitted, along
// with the capacity and remaining tokens for the RateLimit-* response
// headers.
func (rl *RateLimiter) Allow(class routetable.RateLimitClass, key string) (allowed bool, limit, remaining int) {
	if class == routetable.ClassBypass {
		return true, 0, 0
	}
	lim := rl.limiterFor(class, key)
	capacity := rl.capacity
	if class == routetable.ClassStrict {
		capacity = rl.authCapacity
	}
	allowed = lim.Allow()
	remaining = int(lim.Tokens())
	if remaining < 0 {
		remaining = 0
	}
	if remaining > capacity {
		remaining = capacity
	}
	return allowed, capacity, remaining
}

// ClientKey extracts the rate-limit key: client address per spec.md §4.B
// stage 5.
func ClientKey(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return ip
	}
	return r.RemoteAddr
}

// Enforce wraps a handler with the bucket for a fixed class. The ingress
// router does not use it: routetable-dispatched routes call
// checkAndRespond directly, and the local handlers mounted on the chi
// router are not rate limited.
func (rl *RateLimiter) Enforce(class routetable.RateLimitClass) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.checkAndRespond(w, r, class) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// checkAndRespond applies the bucket for class/ClientKey(r), writing the
// RateLimit-* headers and, on rejection, a 429 with Retry-After. It returns
// false when the caller should stop processing the request.
func (rl *RateLimiter) checkAndRespond(w http.ResponseWriter, r *http.Request, class routetable.RateLimitClass) bool {
	if class == routetable.ClassBypass {
		return true
	}
	allowed, limit, remaining := rl.Allow(class, ClientKey(r))
	w.Header().Set("RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("RateLimit-Remaining", strconv.Itoa(remaining))
	if !allowed {
		retryAfter := int(rl.window.Seconds() / float64(limit))
		if retryAfter <= 0 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		apierrors.WriteError(w, apierrors.New(apierrors.RateLimited, "rate limit exceeded"), false)
		return false
	}
	return true
}
