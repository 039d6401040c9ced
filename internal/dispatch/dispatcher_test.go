package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/replydeck/helmsman/internal/models"
	"github.com/replydeck/helmsman/internal/platform"
	"github.com/replydeck/helmsman/internal/ratelimit"
	"github.com/replydeck/helmsman/internal/vault"
	"github.com/replydeck/helmsman/pkg/clients"
	"github.com/replydeck/helmsman/pkg/logging"
)

type fakeCounters struct {
	mu        sync.Mutex
	triggered map[string]int
	succeeded map[string]int
	failed    map[string]int
}

func newFakeCounters() *fakeCounters {
	return &fakeCounters{
		triggered: make(map[string]int),
		succeeded: make(map[string]int),
		failed:    make(map[string]int),
	}
}

func (f *fakeCounters) IncrementTriggered(_ context.Context, ruleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggered[ruleID]++
	return nil
}

func (f *fakeCounters) IncrementSucceeded(_ context.Context, ruleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.succeeded[ruleID]++
	return nil
}

func (f *fakeCounters) IncrementFailed(_ context.Context, ruleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[ruleID]++
	return nil
}

type fakeBudget struct {
	decision ratelimit.Decision
}

func (f *fakeBudget) TryAcquire(_, _ string) ratelimit.Decision {
	return f.decision
}

type fakeTokens struct {
	token string
	err   error
}

func (f *fakeTokens) Token(_ context.Context, _ string) (string, error) {
	return f.token, f.err
}

type fakeSender struct {
	mu     sync.Mutex
	sent   []string
	tokens []string
	err    error
}

func (f *fakeSender) SendDirectMessage(_ context.Context, accessToken, _, text string) (*platform.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, text)
	f.tokens = append(f.tokens, accessToken)
	return &platform.SendResult{MessageID: "mid-1", StatusCode: 200}, nil
}

type fakeActivity struct {
	mu      sync.Mutex
	entries []models.DispatchOutcome
}

func (f *fakeActivity) Append(_ context.Context, outcome models.DispatchOutcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, outcome)
	return nil
}

func (f *fakeActivity) last(t *testing.T) models.DispatchOutcome {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.entries) == 0 {
		t.Fatal("no activity recorded")
	}
	return f.entries[len(f.entries)-1]
}

type dispatchFixture struct {
	counters *fakeCounters
	budget   *fakeBudget
	tokens   *fakeTokens
	sender   *fakeSender
	activity *fakeActivity
	d        *Dispatcher
}

func newDispatchFixture() *dispatchFixture {
	f := &dispatchFixture{
		counters: newFakeCounters(),
		budget:   &fakeBudget{decision: ratelimit.Decision{Allowed: true}},
		tokens:   &fakeTokens{token: "access-token"},
		sender:   &fakeSender{},
		activity: &fakeActivity{},
	}
	f.d = New(Config{
		Counters:        f.counters,
		Limiter:         f.budget,
		Tokens:          f.tokens,
		Sender:          f.sender,
		Activity:        f.activity,
		PlatformBreaker: clients.NewCircuitBreaker(clients.DefaultCircuitBreakerConfig("platform-api")),
		SyncBreaker:     clients.NewCircuitBreaker(clients.DefaultCircuitBreakerConfig("internal-sync")),
		Logger:          logging.NewLogger(),
	})
	return f
}

func testEvent() models.Event {
	return models.Event{
		ID:         "ev-1",
		AccountID:  "acct-1",
		Kind:       models.EventComment,
		Text:       "what is the price?",
		Actor:      "jane",
		ReceivedAt: time.Now(),
	}
}

func testRule() *models.Rule {
	return &models.Rule{
		ID:          "r-1",
		AccountID:   "acct-1",
		TriggerKind: models.TriggerKeywordComment,
		Keywords:    []string{"price"},
		MatchMode:   models.MatchContains,
		Template:    "Hey {name}, check your DMs!",
		Enabled:     true,
	}
}

func TestDispatchSent(t *testing.T) {
	f := newDispatchFixture()

	outcome := f.d.Dispatch(context.Background(), testEvent(), testRule())
	if outcome != models.OutcomeSent {
		t.Fatalf("expected sent, got %s", outcome)
	}

	if len(f.sender.sent) != 1 || f.sender.sent[0] != "Hey jane, check your DMs!" {
		t.Fatalf("unexpected sent messages: %v", f.sender.sent)
	}
	if f.sender.tokens[0] != "access-token" {
		t.Fatalf("unexpected token used: %q", f.sender.tokens[0])
	}
	if f.counters.triggered["r-1"] != 1 || f.counters.succeeded["r-1"] != 1 || f.counters.failed["r-1"] != 0 {
		t.Fatalf("unexpected counters: %+v", f.counters)
	}

	entry := f.activity.last(t)
	if entry.Outcome != models.OutcomeSent || entry.RuleID != "r-1" || entry.UpstreamStatus != 200 {
		t.Fatalf("unexpected activity entry: %+v", entry)
	}
}

func TestDispatchNoMatch(t *testing.T) {
	f := newDispatchFixture()

	outcome := f.d.Dispatch(context.Background(), testEvent(), nil)
	if outcome != models.OutcomeNoMatch {
		t.Fatalf("expected no_match, got %s", outcome)
	}
	if len(f.sender.sent) != 0 {
		t.Fatal("no_match must not send")
	}
	if len(f.counters.triggered) != 0 {
		t.Fatal("no_match must not touch counters")
	}

	entry := f.activity.last(t)
	if entry.Outcome != models.OutcomeNoMatch || entry.RuleID != "" {
		t.Fatalf("unexpected activity entry: %+v", entry)
	}
}

func TestDispatchRateLimited(t *testing.T) {
	f := newDispatchFixture()
	f.budget.decision = ratelimit.Decision{RetryAfter: time.Minute, Reason: "hourly budget exhausted"}

	outcome := f.d.Dispatch(context.Background(), testEvent(), testRule())
	if outcome != models.OutcomeRateLimited {
		t.Fatalf("expected rate_limited, got %s", outcome)
	}
	if len(f.sender.sent) != 0 {
		t.Fatal("rate limited dispatch must not send")
	}
	// Triggered is still counted; the rule did claim the event.
	if f.counters.triggered["r-1"] != 1 {
		t.Fatalf("expected triggered counter, got %+v", f.counters.triggered)
	}
	if f.counters.failed["r-1"] != 0 {
		t.Fatal("rate limited is not a failure")
	}
}

func TestDispatchUpstreamError(t *testing.T) {
	f := newDispatchFixture()
	f.sender.err = &platform.APIError{StatusCode: 500}

	outcome := f.d.Dispatch(context.Background(), testEvent(), testRule())
	if outcome != models.OutcomeUpstreamError {
		t.Fatalf("expected upstream_error, got %s", outcome)
	}
	if f.counters.failed["r-1"] != 1 || f.counters.succeeded["r-1"] != 0 {
		t.Fatalf("unexpected counters: %+v", f.counters)
	}

	entry := f.activity.last(t)
	if entry.Outcome != models.OutcomeUpstreamError || entry.UpstreamStatus != 500 {
		t.Fatalf("unexpected activity entry: %+v", entry)
	}
}

func TestDispatchVaultFailure(t *testing.T) {
	f := newDispatchFixture()
	f.tokens.err = vault.ErrAccountNotConnected

	outcome := f.d.Dispatch(context.Background(), testEvent(), testRule())
	if outcome != models.OutcomeUpstreamError {
		t.Fatalf("expected upstream_error, got %s", outcome)
	}
	if len(f.sender.sent) != 0 {
		t.Fatal("disconnected account must not send")
	}
	if f.counters.failed["r-1"] != 1 {
		t.Fatalf("unexpected counters: %+v", f.counters)
	}
}

func TestDispatchOpenBreakerShortCircuits(t *testing.T) {
	f := newDispatchFixture()
	f.sender.err = errors.New("connection refused")

	ev := testEvent()
	rule := testRule()

	// Trip the platform breaker.
	for i := 0; i < 3; i++ {
		f.d.Dispatch(context.Background(), ev, rule)
	}

	f.sender.err = nil
	outcome := f.d.Dispatch(context.Background(), ev, rule)
	if outcome != models.OutcomeUpstreamError {
		t.Fatalf("expected short-circuited upstream_error, got %s", outcome)
	}
	if len(f.sender.sent) != 0 {
		t.Fatal("open breaker must not reach the platform")
	}
}

func TestDispatchEveryPathRecordsActivity(t *testing.T) {
	f := newDispatchFixture()

	f.d.Dispatch(context.Background(), testEvent(), nil)
	f.d.Dispatch(context.Background(), testEvent(), testRule())
	f.budget.decision = ratelimit.Decision{Reason: "daily budget exhausted"}
	f.d.Dispatch(context.Background(), testEvent(), testRule())

	f.activity.mu.Lock()
	defer f.activity.mu.Unlock()
	if len(f.activity.entries) != 3 {
		t.Fatalf("expected one activity entry per dispatch, got %d", len(f.activity.entries))
	}
}
