package relayserver

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// RateLimiter is a token bucket guarding the /sync upgrade endpoint, adapted
// from the teacher's internal/api/ratelimit.go (stdlib only, no external
// dependency). Buckets key on the owner_id a reconnecting device presents
// (the same owner_id its sync frames carry, spec §4.5), not on IP: a single
// owner's devices legitimately reconnect from many IPs (NAT, mobile
// networks, relay failover), and the budget that matters for a stateless
// per-owner relay is "how hard is this owner hammering /sync", not which
// address it came from. A request with no owner_id query parameter (a
// client that hasn't adopted it yet, or a bare probe) falls back to its IP
// so the endpoint still degrades gracefully rather than going unlimited.
const cleanupIdleDuration = 10 * time.Minute

type limitBucket struct {
	tokens   float64
	lastSeen time.Time
	mu       sync.Mutex
}

type RateLimiter struct {
	rate    float64
	burst   float64
	mu      sync.Mutex
	buckets map[string]*limitBucket
}

func NewRateLimiter(ratePerMin, burst int) *RateLimiter {
	rl := &RateLimiter{
		rate:    float64(ratePerMin) / 60.0,
		burst:   float64(burst),
		buckets: make(map[string]*limitBucket),
	}
	go rl.cleanupLoop()
	return rl
}

// limitKeyFor picks the bucket key for an upgrade request: the owner_id it
// is syncing for, falling back to client IP when that isn't present.
func limitKeyFor(c *gin.Context) string {
	if ownerID := c.Query("owner_id"); ownerID != "" {
		return "owner:" + ownerID
	}
	return "ip:" + c.ClientIP()
}

func (rl *RateLimiter) allow(key string) (bool, time.Duration) {
	rl.mu.Lock()
	bucket, ok := rl.buckets[key]
	if !ok {
		bucket = &limitBucket{tokens: rl.burst}
		rl.buckets[key] = bucket
	}
	rl.mu.Unlock()

	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(bucket.lastSeen).Seconds()
	bucket.tokens += elapsed * rl.rate
	if bucket.tokens > rl.burst {
		bucket.tokens = rl.burst
	}
	bucket.lastSeen = now

	if bucket.tokens >= 1.0 {
		bucket.tokens--
		return true, 0
	}
	retryAfter := time.Duration((1.0-bucket.tokens)/rl.rate*1000) * time.Millisecond
	return false, retryAfter
}

func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := limitKeyFor(c)
		allowed, retryAfter := rl.allow(key)
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
		for key, b := range rl.buckets {
			b.mu.Lock()
			idle := b.lastSeen.Before(cutoff)
			b.mu.Unlock()
			if idle {
				delete(rl.buckets, key)
			}
		}
		rl.mu.Unlock()
	}
}
