package monitoring

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func serveHealth(hc *HealthChecker) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/health", hc.Handler())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	return w
}

func TestHealthCheckerAllHealthy(t *testing.T) {
	hc := NewHealthChecker("helmsman", "test")
	hc.AddCheck("always_ok", func() CheckResult {
		return CheckResult{Status: StatusHealthy}
	})

	w := serveHealth(hc)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var status HealthStatus
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if status.Status != StatusHealthy {
		t.Fatalf("expected healthy, got %s", status.Status)
	}
	if status.Service != "helmsman" {
		t.Fatalf("unexpected service: %s", status.Service)
	}
}

func TestHealthCheckerDegraded(t *testing.T) {
	hc := NewHealthChecker("helmsman", "test")
	hc.AddCheck("ok", func() CheckResult { return CheckResult{Status: StatusHealthy} })
	hc.AddCheck("redis", func() CheckResult {
		return CheckResult{Status: StatusDegraded, Message: "Redis not configured; in-memory dedup in use"}
	})

	w := serveHealth(hc)
	// Degraded still serves traffic.
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for degraded, got %d", w.Code)
	}

	var status HealthStatus
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if status.Status != StatusDegraded {
		t.Fatalf("expected degraded, got %s", status.Status)
	}
}

func TestHealthCheckerUnhealthy(t *testing.T) {
	hc := NewHealthChecker("helmsman", "test")
	hc.AddCheck("db", func() CheckResult {
		return CheckResult{Status: StatusUnhealthy, Message: "ping failed"}
	})
	hc.AddCheck("redis", func() CheckResult { return CheckResult{Status: StatusDegraded} })

	w := serveHealth(hc)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}

	var status HealthStatus
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if status.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy, got %s", status.Status)
	}
	if status.Checks["db"].Message != "ping failed" {
		t.Fatalf("unexpected check result: %+v", status.Checks["db"])
	}
}

func TestConfigurationHealthCheck(t *testing.T) {
	check := ConfigurationHealthCheck(map[string]string{
		"WEBHOOK_SECRET": "set",
		"DATABASE_URL":   "",
	})

	result := check()
	if result.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy for missing config, got %s", result.Status)
	}

	check = ConfigurationHealthCheck(map[string]string{"WEBHOOK_SECRET": "set"})
	if result := check(); result.Status != StatusHealthy {
		t.Fatalf("expected healthy, got %s", result.Status)
	}
}

func TestRedisHealthCheckNilClient(t *testing.T) {
	result := RedisHealthCheck(nil)()
	if result.Status != StatusDegraded {
		t.Fatalf("missing Redis should be degraded, got %s", result.Status)
	}
}

func TestKafkaHealthCheckNilClient(t *testing.T) {
	result := KafkaHealthCheck(nil)()
	if result.Status != StatusDegraded {
		t.Fatalf("missing Kafka should be degraded, got %s", result.Status)
	}
}
