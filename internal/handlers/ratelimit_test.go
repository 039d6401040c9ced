package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestWebhookRateLimiterAllow(t *testing.T) {
	rl := NewWebhookRateLimiter(3, time.Minute, 10*time.Minute)
	defer rl.Stop()

	for i := 0; i < 3; i++ {
		if !rl.Allow("10.0.0.1") {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if rl.Allow("10.0.0.1") {
		t.Fatal("request over budget must be denied")
	}
	// Other IPs keep their own buckets.
	if !rl.Allow("10.0.0.2") {
		t.Fatal("different IP should be allowed")
	}
}

func TestWebhookRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	rl := NewWebhookRateLimiter(1, time.Minute, 10*time.Minute)
	defer rl.Stop()

	router := gin.New()
	router.Use(WebhookRateLimitMiddleware(rl))
	router.POST("/webhooks/instagram", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/webhooks/instagram", nil))
	if first.Code != http.StatusOK {
		t.Fatalf("first request should pass, got %d", first.Code)
	}

	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/webhooks/instagram", nil))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second request should be limited, got %d", second.Code)
	}
}
