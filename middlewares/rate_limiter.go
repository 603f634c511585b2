package middlewares

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/inventory-sync/utils"
	"golang.org/x/time/rate"
)

const limiterIdleTTL = 10 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client IP.
type RateLimiter struct {
	rate  rate.Limit
	burst int
	ips   map[string]*visitor
	mu    sync.Mutex
	now   func() time.Time
}

// NewRateLimiter allows perSecond requests per IP with the given burst.
// A non-positive rate disables limiting.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst <= 0 {
		burst = max(1, int(perSecond))
	}
	return &RateLimiter{
		rate:  limit,
		burst: burst,
		ips:   make(map[string]*visitor),
		now:   time.Now,
	}
}

func (rl *RateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	v, exists := rl.ips[ip]
	if !exists {
		v = &visitor{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.ips[ip] = v
	}
	v.lastSeen = now

	for other, ov := range rl.ips {
		if now.Sub(ov.lastSeen) > limiterIdleTTL {
			delete(rl.ips, other)
		}
	}
	return v.limiter.AllowN(now, 1)
}

func (rl *RateLimiter) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.allow(c.ClientIP()) {
			utils.AbortError(c, http.StatusTooManyRequests, errors.New("too many requests, slow down"))
			return
		}
		c.Next()
	}
}

// NewStrictRateLimiter shares one bucket across all callers, for endpoints
// that fan out to the destination such as manual sync.
func NewStrictRateLimiter(every time.Duration, burst int) gin.HandlerFunc {
	limiter := rate.NewLimiter(rate.Every(every), burst)
	return func(c *gin.Context) {
		if !limiter.Allow() {
			utils.AbortError(c, http.StatusTooManyRequests, errors.New("too many manual syncs, wait before starting another"))
			return
		}
		c.Next()
	}
}
