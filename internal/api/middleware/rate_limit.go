package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/tconn93/TRFBWebhook/internal/pkg/errors"
)

type RateLimiter struct {
	store *sync.Map // map[string]*Bucket
	now   func() time.Time
}

type Bucket struct {
	tokens     float64
	lastRefill time.Time
	mu         sync.Mutex
	lastAccess time.Time
}

const bucketIdle = 10 * time.Minute

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		store: &sync.Map{},
		now:   time.Now,
	}
}

// Run evicts idle buckets until ctx is done.
func (rl *RateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(bucketIdle)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.cleanup()
		}
	}
}

func (rl *RateLimiter) cleanup() {
	now := rl.now()
	rl.store.Range(func(key, value interface{}) bool {
		bucket := value.(*Bucket)
		bucket.mu.Lock()
		if now.Sub(bucket.lastAccess) > bucketIdle {
			rl.store.Delete(key)
		}
		bucket.mu.Unlock()
		return true
	})
}

// Allow takes one token from the bucket for key. Buckets hold perMinute
// tokens and refill continuously.
func (rl *RateLimiter) Allow(key string, perMinute int) bool {
	now := rl.now()

	val, _ := rl.store.LoadOrStore(key, &Bucket{
		tokens:     float64(perMinute),
		lastRefill: now,
		lastAccess: now,
	})

	bucket := val.(*Bucket)
	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	bucket.lastAccess = now

	elapsed := now.Sub(bucket.lastRefill)
	if elapsed > 0 {
		bucket.tokens += elapsed.Minutes() * float64(perMinute)
		if bucket.tokens > float64(perMinute) {
			bucket.tokens = float64(perMinute)
		}
		bucket.lastRefill = now
	}

	if bucket.tokens >= 1 {
		bucket.tokens--
		return true
	}

	return false
}

// Limit rejects requests from one client IP beyond perMinute for the named
// route group. A non-positive limit disables the check.
func (rl *RateLimiter) Limit(name string, perMinute int) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		if perMinute <= 0 {
			return next
		}
		return func(w http.ResponseWriter, r *http.Request) {
			key := name + ":" + clientIP(r)
			if !rl.Allow(key, perMinute) {
				w.Header().Set("Retry-After", strconv.Itoa(int(time.Minute.Seconds())/perMinute+1))
				errors.WriteError(w, http.StatusTooManyRequests, errors.ErrCodeRateLimitExceeded, "Rate limit exceeded", nil)
				return
			}
			next(w, r)
		}
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
