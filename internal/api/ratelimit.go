package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const cleanupIdleDuration = 10 * time.Minute

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter holds a golang.org/x/time/rate.Limiter per client IP — the
// same token-bucket primitive internal/session uses for per-connection
// input throttling, applied here to the HTTP lobby/ledger surface instead
// of a second hand-rolled implementation of the same idiom.
type RateLimiter struct {
	ratePerSec rate.Limit
	burst      int
	mu         sync.Mutex
	limiters   map[string]*ipLimiter
}

// NewRateLimiter creates a rate limiter allowing ratePerMin requests per
// minute per IP, with a burst capacity of burst requests.
func NewRateLimiter(ratePerMin, burst int) *RateLimiter {
	rl := &RateLimiter{
		ratePerSec: rate.Limit(float64(ratePerMin) / 60.0),
		burst:      burst,
		limiters:   make(map[string]*ipLimiter),
	}
	go rl.cleanupLoop()
	return rl
}

// allow reserves a token for ip without blocking, cancelling the
// reservation and reporting a retry delay when one isn't immediately
// available.
func (rl *RateLimiter) allow(ip string) (bool, time.Duration) {
	rl.mu.Lock()
	il, ok := rl.limiters[ip]
	if !ok {
		il = &ipLimiter{limiter: rate.NewLimiter(rl.ratePerSec, rl.burst)}
		rl.limiters[ip] = il
	}
	il.lastSeen = time.Now()
	rl.mu.Unlock()

	res := il.limiter.Reserve()
	if !res.OK() {
		return false, 0
	}
	if delay := res.Delay(); delay > 0 {
		res.Cancel()
		return false, delay
	}
	return true, 0
}

// Middleware returns a gin handler that enforces the rate limit.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		allowed, retryAfter := rl.allow(ip)
		if !allowed {
			c.Header("Retry-After", retryAfter.String())
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":      "rate limit exceeded",
				"retryAfter": retryAfter.String(),
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(cleanupIdleDuration)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-cleanupIdleDuration)
		rl.mu.Lock()
		for ip, il := range rl.limiters {
			if il.lastSeen.Before(cutoff) {
				delete(rl.limiters, ip)
			}
		}
		rl.mu.Unlock()
	}
}
