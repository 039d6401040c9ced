package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// WebhookRateLimiter is a token-bucket limiter keyed by client IP, protecting
// the ingress from webhook storms and abuse.
type WebhookRateLimiter struct {
	limitPerWindow int
	window         time.Duration
	buckets        sync.Map // map[ip]*ipBucket
	stopCh         chan struct{}
}

type ipBucket struct {
	mu          sync.Mutex
	tokens      float64
	lastUpdate  time.Time
	lastRequest time.Time
}

// NewWebhookRateLimiter creates a limiter allowing limitPerWindow requests per
// window per client IP, sweeping idle buckets every idleTTL.
func NewWebhookRateLimiter(limitPerWindow int, window, idleTTL time.Duration) *WebhookRateLimiter {
	rl := &WebhookRateLimiter{
		limitPerWindow: limitPerWindow,
		window:         window,
		stopCh:         make(chan struct{}),
	}
	go rl.cleanupLoop(idleTTL)
	return rl
}

// Stop terminates the cleanup goroutine.
func (rl *WebhookRateLimiter) Stop() {
	close(rl.stopCh)
}

// Allow reports whether a request from ip fits the budget.
func (rl *WebhookRateLimiter) Allow(ip string) bool {
	now := time.Now()
	value, _ := rl.buckets.LoadOrStore(ip, &ipBucket{
		tokens:     float64(rl.limitPerWindow),
		lastUpdate: now,
	})
	bucket := value.(*ipBucket)

	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	refill := now.Sub(bucket.lastUpdate).Seconds() * float64(rl.limitPerWindow) / rl.window.Seconds()
	bucket.tokens += refill
	if bucket.tokens > float64(rl.limitPerWindow) {
		bucket.tokens = float64(rl.limitPerWindow)
	}
	bucket.lastUpdate = now
	bucket.lastRequest = now

	if bucket.tokens < 1 {
		return false
	}
	bucket.tokens--
	return true
}

func (rl *WebhookRateLimiter) cleanupLoop(idleTTL time.Duration) {
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	ticker := time.NewTicker(idleTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			threshold := time.Now().Add(-idleTTL)
			rl.buckets.Range(func(key, value interface{}) bool {
				bucket := value.(*ipBucket)
				bucket.mu.Lock()
				stale := bucket.lastRequest.Before(threshold)
				bucket.mu.Unlock()
				if stale {
					rl.buckets.Delete(key)
				}
				return true
			})
		case <-rl.stopCh:
			return
		}
	}
}

// WebhookRateLimitMiddleware rejects over-budget webhook deliveries with 429.
func WebhookRateLimitMiddleware(rl *WebhookRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
