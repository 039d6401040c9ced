// Package dispatch orchestrates matched rule → outbound action → recorded
// outcome. Every path through Dispatch terminates in exactly one activity log
// entry; no error from the platform or the vault escapes.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/replydeck/helmsman/internal/models"
	"github.com/replydeck/helmsman/internal/platform"
	"github.com/replydeck/helmsman/internal/ratelimit"
	"github.com/replydeck/helmsman/internal/rules"
	"github.com/replydeck/helmsman/internal/vault"
	"github.com/replydeck/helmsman/pkg/clients"
	"github.com/replydeck/helmsman/pkg/logging"
)

// Sender delivers outbound direct messages. Satisfied by the platform client.
type Sender interface {
	SendDirectMessage(ctx context.Context, accessToken, recipientHandle, text string) (*platform.SendResult, error)
}

// TokenSource resolves an account's current access token. Satisfied by the
// credential vault.
type TokenSource interface {
	Token(ctx context.Context, accountID string) (string, error)
}

// ContactSyncer mirrors interactions into the internal sync service.
type ContactSyncer interface {
	UpsertContact(ctx context.Context, accountID, handle, source string) error
}

// RuleCounters owns the per-rule counters.
type RuleCounters interface {
	IncrementTriggered(ctx context.Context, ruleID string) error
	IncrementSucceeded(ctx context.Context, ruleID string) error
	IncrementFailed(ctx context.Context, ruleID string) error
}

// ActivityRecorder appends dispatch outcomes.
type ActivityRecorder interface {
	Append(ctx context.Context, outcome models.DispatchOutcome) error
}

// OutcomePublisher forwards outcomes to the analytics firehose. Optional.
type OutcomePublisher interface {
	PublishOutcome(ctx context.Context, outcome models.DispatchOutcome) error
}

// Budget checks outbound send budgets. Satisfied by the rate limiter.
type Budget interface {
	TryAcquire(accountID, actor string) ratelimit.Decision
}

// Metrics holds Prometheus metrics for the dispatcher.
type Metrics struct {
	Outcomes      *prometheus.CounterVec // labels: outcome
	PlatformCalls *prometheus.CounterVec // labels: status
}

// Config wires the dispatcher's collaborators.
type Config struct {
	Counters RuleCounters
	Limiter  Budget
	Tokens   TokenSource
	Sender   Sender
	Syncer   ContactSyncer // optional
	Activity ActivityRecorder
	Firehose OutcomePublisher // optional

	// PlatformBreaker guards message sends; SyncBreaker guards contact sync.
	// Independent instances: a flaky sync service must not block sends.
	PlatformBreaker *clients.CircuitBreaker
	SyncBreaker     *clients.CircuitBreaker

	Logger  logging.Logger
	Metrics *Metrics

	// SendTimeout bounds one platform send call. Default: 10 seconds.
	SendTimeout time.Duration
}

// Dispatcher executes the per-event state machine:
// matched → rate_checked → sending → {sent | failed | rate_limited}.
type Dispatcher struct {
	cfg Config
}

// New creates a dispatcher.
func New(cfg Config) *Dispatcher {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	return &Dispatcher{cfg: cfg}
}

// Dispatch acts on the result of rule matching for one deduplicated event.
// A nil rule records a no_match outcome. The matched rule's triggered counter
// is incremented exactly once, whatever the outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, ev models.Event, rule *models.Rule) models.Outcome {
	if rule == nil {
		d.record(ctx, ev, "", models.OutcomeNoMatch, 0)
		return models.OutcomeNoMatch
	}

	if err := d.cfg.Counters.IncrementTriggered(ctx, rule.ID); err != nil {
		d.cfg.Logger.WithError(err).WithField("rule_id", rule.ID).Error("Failed to increment triggered counter")
	}

	decision := d.cfg.Limiter.TryAcquire(ev.AccountID, ev.Actor)
	if !decision.Allowed {
		d.cfg.Logger.WithFields(logging.Fields{
			"account_id":  ev.AccountID,
			"rule_id":     rule.ID,
			"reason":      decision.Reason,
			"retry_after": decision.RetryAfter,
		}).Info("Send rejected by rate budget")
		d.record(ctx, ev, rule.ID, models.OutcomeRateLimited, 0)
		return models.OutcomeRateLimited
	}

	token, err := d.cfg.Tokens.Token(ctx, ev.AccountID)
	if err != nil {
		if !errors.Is(err, vault.ErrAccountNotConnected) {
			d.cfg.Logger.WithError(err).WithField("account_id", ev.AccountID).Warn("Credential lookup failed")
		}
		return d.fail(ctx, ev, rule, 0)
	}

	text := rules.Render(rule.Template, map[string]string{
		"name":     ev.Actor,
		"username": ev.Actor,
	})

	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()

	var result *platform.SendResult
	err = d.cfg.PlatformBreaker.Call(sendCtx, func() error {
		var sendErr error
		result, sendErr = d.cfg.Sender.SendDirectMessage(sendCtx, token, ev.Actor, text)
		return sendErr
	})
	if err != nil {
		status := 0
		var apiErr *platform.APIError
		if errors.As(err, &apiErr) {
			status = apiErr.StatusCode
		}
		d.cfg.Logger.WithError(err).WithFields(logging.Fields{
			"account_id": ev.AccountID,
			"rule_id":    rule.ID,
			"event_id":   ev.ID,
		}).Warn("Platform send failed")
		if d.cfg.Metrics != nil {
			d.cfg.Metrics.PlatformCalls.WithLabelValues("error").Inc()
		}
		return d.fail(ctx, ev, rule, status)
	}

	if d.cfg.Metrics != nil {
		d.cfg.Metrics.PlatformCalls.WithLabelValues("ok").Inc()
	}
	if err := d.cfg.Counters.IncrementSucceeded(ctx, rule.ID); err != nil {
		d.cfg.Logger.WithError(err).WithField("rule_id", rule.ID).Error("Failed to increment succeeded counter")
	}
	d.record(ctx, ev, rule.ID, models.OutcomeSent, result.StatusCode)

	if d.cfg.Syncer != nil {
		go d.notifySync(ev)
	}

	return models.OutcomeSent
}

// fail records an upstream_error outcome and bumps the failed counter.
func (d *Dispatcher) fail(ctx context.Context, ev models.Event, rule *models.Rule, status int) models.Outcome {
	if err := d.cfg.Counters.IncrementFailed(ctx, rule.ID); err != nil {
		d.cfg.Logger.WithError(err).WithField("rule_id", rule.ID).Error("Failed to increment failed counter")
	}
	d.record(ctx, ev, rule.ID, models.OutcomeUpstreamError, status)
	return models.OutcomeUpstreamError
}

// record appends the outcome to the activity log and the firehose. Failures
// here are logged and swallowed: recording must never fail a dispatch.
func (d *Dispatcher) record(ctx context.Context, ev models.Event, ruleID string, outcome models.Outcome, upstreamStatus int) {
	entry := models.DispatchOutcome{
		EventID:        ev.ID,
		AccountID:      ev.AccountID,
		RuleID:         ruleID,
		Outcome:        outcome,
		UpstreamStatus: upstreamStatus,
		CreatedAt:      time.Now(),
	}

	if err := d.cfg.Activity.Append(ctx, entry); err != nil {
		d.cfg.Logger.WithError(err).WithFields(logging.Fields{
			"event_id": ev.ID,
			"outcome":  outcome,
		}).Error("Failed to append activity log entry")
	}

	if d.cfg.Metrics != nil {
		d.cfg.Metrics.Outcomes.WithLabelValues(string(outcome)).Inc()
	}

	if d.cfg.Firehose != nil {
		if err := d.cfg.Firehose.PublishOutcome(ctx, entry); err != nil {
			d.cfg.Logger.WithError(err).Warn("Failed to publish outcome to firehose")
		}
	}
}

// notifySync mirrors the interaction into the contact-sync service through
// its own breaker, detached from the request lifecycle.
func (d *Dispatcher) notifySync(ev models.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := d.cfg.SyncBreaker.Call(ctx, func() error {
		return d.cfg.Syncer.UpsertContact(ctx, ev.AccountID, ev.Actor, string(ev.Kind))
	})
	if err != nil {
		d.cfg.Logger.WithError(err).WithFields(logging.Fields{
			"account_id": ev.AccountID,
			"actor":      ev.Actor,
		}).Debug("Contact sync skipped")
	}
}
