// Package ratelimit enforces per-account outbound send budgets: fixed hourly
// and daily windows plus a minimum delay between consecutive sends to the same
// actor.
package ratelimit

import (
	"sync"
	"time"
)

// Config configures the limiter
type Config struct {
	// PerHour is the maximum number of sends per account per hour.
	PerHour int
	// PerDay is the maximum number of sends per account per day.
	PerDay int
	// ActorDelay is the minimum gap between sends to the same actor.
	ActorDelay time.Duration
	// CleanupInterval is how often idle account state is swept (default: 10m).
	CleanupInterval time.Duration
}

// DefaultConfig returns conservative platform-friendly budgets.
func DefaultConfig() Config {
	return Config{
		PerHour:    40,
		PerDay:     200,
		ActorDelay: 30 * time.Second,
	}
}

// Decision is the result of a budget check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Reason     string
}

// Limiter tracks send budgets per account. Safe for concurrent use; a granted
// acquire consumes budget immediately and is not refunded if the send later
// fails upstream.
type Limiter struct {
	cfg      Config
	accounts sync.Map // map[accountID]*accountWindow
	stopCh   chan struct{}
	now      func() time.Time
}

type accountWindow struct {
	mu        sync.Mutex
	hourStart time.Time
	hourCount int
	dayStart  time.Time
	dayCount  int
	lastSend  map[string]time.Time // per-actor
	touched   time.Time
}

// NewLimiter creates a limiter and starts its cleanup goroutine.
func NewLimiter(cfg Config) *Limiter {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 10 * time.Minute
	}
	l := &Limiter{
		cfg:    cfg,
		stopCh: make(chan struct{}),
		now:    time.Now,
	}
	go l.cleanupLoop()
	return l
}

// Stop stops the cleanup goroutine.
func (l *Limiter) Stop() {
	close(l.stopCh)
}

// TryAcquire checks whether a send to actor on behalf of accountID fits the
// budget, consuming one unit when it does.
func (l *Limiter) TryAcquire(accountID, actor string) Decision {
	value, _ := l.accounts.LoadOrStore(accountID, &accountWindow{
		lastSend: make(map[string]time.Time),
	})
	w := value.(*accountWindow)

	now := l.now()

	w.mu.Lock()
	defer w.mu.Unlock()
	w.touched = now

	// Window rollover
	if now.Sub(w.hourStart) >= time.Hour {
		w.hourStart = now
		w.hourCount = 0
	}
	if now.Sub(w.dayStart) >= 24*time.Hour {
		w.dayStart = now
		w.dayCount = 0
	}

	if l.cfg.PerHour > 0 && w.hourCount >= l.cfg.PerHour {
		return Decision{
			RetryAfter: w.hourStart.Add(time.Hour).Sub(now),
			Reason:     "hourly budget exhausted",
		}
	}
	if l.cfg.PerDay > 0 && w.dayCount >= l.cfg.PerDay {
		return Decision{
			RetryAfter: w.dayStart.Add(24 * time.Hour).Sub(now),
			Reason:     "daily budget exhausted",
		}
	}
	if l.cfg.ActorDelay > 0 && actor != "" {
		if last, ok := w.lastSend[actor]; ok {
			if since := now.Sub(last); since < l.cfg.ActorDelay {
				return Decision{
					RetryAfter: l.cfg.ActorDelay - since,
					Reason:     "actor delay",
				}
			}
		}
	}

	w.hourCount++
	w.dayCount++
	if actor != "" {
		w.lastSend[actor] = now
	}
	return Decision{Allowed: true}
}

func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stopCh:
			return
		}
	}
}

// cleanup drops account state idle for more than a day and actor stamps older
// than the configured delay.
func (l *Limiter) cleanup() {
	threshold := l.now().Add(-24 * time.Hour)
	l.accounts.Range(func(key, value interface{}) bool {
		w := value.(*accountWindow)
		w.mu.Lock()
		if w.touched.Before(threshold) {
			w.mu.Unlock()
			l.accounts.Delete(key)
			return true
		}
		for actor, last := range w.lastSend {
			if l.now().Sub(last) > l.cfg.ActorDelay {
				delete(w.lastSend, actor)
			}
		}
		w.mu.Unlock()
		return true
	})
}
