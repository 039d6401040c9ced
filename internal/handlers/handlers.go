// Package handlers exposes the engine's HTTP surface: webhook ingress and the
// dashboard read API.
package handlers

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/replydeck/helmsman/internal/dedup"
	"github.com/replydeck/helmsman/internal/dispatch"
	"github.com/replydeck/helmsman/internal/store"
	"github.com/replydeck/helmsman/pkg/clients"
	"github.com/replydeck/helmsman/pkg/logging"
)

// Metrics holds Prometheus metrics for the handlers
type Metrics struct {
	WebhooksReceived *prometheus.CounterVec // labels: kind, status
	SecurityEvents   *prometheus.CounterVec // labels: reason
}

// Dependencies holds all external dependencies for handlers
type Dependencies struct {
	Logger   logging.Logger
	Metrics  *Metrics
	Accounts *store.AccountStore
	Rules    *store.RuleStore
	Activity *store.ActivityLog
	Dedup    dedup.Store
	Pipeline *dispatch.Pipeline
	// Breakers is the per-dependency circuit breaker registry served by the
	// operational endpoint.
	Breakers map[string]*clients.CircuitBreaker

	WebhookSecret string
	VerifyToken   string
}

var deps Dependencies

// Init initializes the handlers with dependencies
func Init(d Dependencies) {
	deps = d
	deps.Logger.Info("Handlers initialized")
}
