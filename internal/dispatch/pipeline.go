package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/semaphore"

	"github.com/replydeck/helmsman/internal/models"
	"github.com/replydeck/helmsman/internal/rules"
	"github.com/replydeck/helmsman/pkg/logging"
)

// RuleLister fetches the ordered enabled rule set for an account.
type RuleLister interface {
	ListEnabled(ctx context.Context, accountID string) ([]models.Rule, error)
}

// EventUnmarker removes an event's dedup mark so the sender's redelivery is
// processed instead of being discarded as a duplicate.
type EventUnmarker interface {
	Forget(ctx context.Context, accountID, eventID string) error
}

// PipelineConfig configures the worker pool.
type PipelineConfig struct {
	Dispatcher *Dispatcher
	Rules      RuleLister
	Logger     logging.Logger

	// Dedup unmarks events the pipeline drops before dispatch. Optional.
	Dedup EventUnmarker

	// Workers is the pool size. Default: 8.
	Workers int
	// QueueSize bounds the in-memory event queue. Default: 256.
	QueueSize int
	// MaxPerAccount caps concurrent dispatches for one account, preserving
	// approximate per-account ordering while keeping cross-account
	// parallelism. Default: 2.
	MaxPerAccount int64
	// EventTimeout bounds the full processing of one event. Default: 30s.
	EventTimeout time.Duration

	// Dropped counts events discarded due to queue overflow. Optional.
	Dropped prometheus.Counter
}

// Pipeline fans webhook events out to a bounded worker pool.
type Pipeline struct {
	cfg     PipelineConfig
	queue   chan models.Event
	wg      sync.WaitGroup
	byAcct  sync.Map // map[accountID]*semaphore.Weighted
	closeMu sync.Mutex
	closed  bool
}

// NewPipeline creates the pipeline and starts its workers.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.MaxPerAccount <= 0 {
		cfg.MaxPerAccount = 2
	}
	if cfg.EventTimeout <= 0 {
		cfg.EventTimeout = 30 * time.Second
	}

	p := &Pipeline{
		cfg:   cfg,
		queue: make(chan models.Event, cfg.QueueSize),
	}
	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Enqueue hands an event to the pool without blocking the webhook response.
// Returns false when the queue is full or the pipeline is shut down; the
// caller unmarks the event from dedup so the sender's redelivery is processed.
func (p *Pipeline) Enqueue(ev models.Event) bool {
	p.closeMu.Lock()
	defer p.closeMu.Unlock()
	if p.closed {
		return false
	}

	select {
	case p.queue <- ev:
		return true
	default:
		if p.cfg.Dropped != nil {
			p.cfg.Dropped.Inc()
		}
		p.cfg.Logger.WithFields(logging.Fields{
			"event_id":   ev.ID,
			"account_id": ev.AccountID,
		}).Warn("Dispatch queue full; event dropped")
		return false
	}
}

// Shutdown stops accepting events and waits for in-flight work, bounded by
// ctx.
func (p *Pipeline) Shutdown(ctx context.Context) {
	p.closeMu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.closeMu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		p.cfg.Logger.Warn("Pipeline shutdown timed out with work in flight")
	}
}

func (p *Pipeline) worker() {
	defer p.wg.Done()
	for ev := range p.queue {
		p.process(ev)
	}
}

func (p *Pipeline) process(ev models.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.EventTimeout)
	defer cancel()

	sem := p.accountSem(ev.AccountID)
	if err := sem.Acquire(ctx, 1); err != nil {
		p.cfg.Logger.WithFields(logging.Fields{
			"event_id":   ev.ID,
			"account_id": ev.AccountID,
		}).Warn("Timed out waiting for per-account slot; event dropped")
		p.unmark(ev)
		return
	}
	defer sem.Release(1)

	ruleSet, err := p.cfg.Rules.ListEnabled(ctx, ev.AccountID)
	if err != nil {
		p.cfg.Logger.WithError(err).WithField("account_id", ev.AccountID).
			Error("Failed to load rules; event dropped")
		p.unmark(ev)
		return
	}

	matched := rules.Match(ev, ruleSet)
	p.cfg.Dispatcher.Dispatch(ctx, ev, matched)
}

// unmark removes the dedup mark of a dropped event so the redelivery gets
// another attempt. The event's own context may already be expired, so the
// unmark runs on a fresh one.
func (p *Pipeline) unmark(ev models.Event) {
	if p.cfg.Dedup == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.cfg.Dedup.Forget(ctx, ev.AccountID, ev.ID); err != nil {
		p.cfg.Logger.WithError(err).WithField("event_id", ev.ID).Warn("Failed to unmark dropped event")
	}
}

func (p *Pipeline) accountSem(accountID string) *semaphore.Weighted {
	if value, ok := p.byAcct.Load(accountID); ok {
		return value.(*semaphore.Weighted)
	}
	value, _ := p.byAcct.LoadOrStore(accountID, semaphore.NewWeighted(p.cfg.MaxPerAccount))
	return value.(*semaphore.Weighted)
}
