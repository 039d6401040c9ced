// Package dedup remembers processed (account, event ID) pairs so webhook
// redeliveries are acknowledged without being re-dispatched. Check-and-set is
// atomic: two concurrent deliveries of the same event cannot both pass.
package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// DefaultWindow is how long an event ID is remembered. Platform webhook
// senders retry for at most a day.
const DefaultWindow = 24 * time.Hour

// Store marks events as seen.
type Store interface {
	// FirstSeen atomically records the pair and reports whether this was the
	// first time it was seen within the dedup window.
	FirstSeen(ctx context.Context, accountID, eventID string) (bool, error)
	// Forget unmarks a pair so a redelivery is processed. Used when an event
	// passed dedup but could not be queued.
	Forget(ctx context.Context, accountID, eventID string) error
}

// RedisStore deduplicates across replicas via SETNX with a TTL.
type RedisStore struct {
	client *goredis.Client
	window time.Duration
}

// NewRedisStore creates a Redis-backed dedup store.
func NewRedisStore(client *goredis.Client, window time.Duration) *RedisStore {
	if window <= 0 {
		window = DefaultWindow
	}
	return &RedisStore{client: client, window: window}
}

// FirstSeen implements Store.
func (s *RedisStore) FirstSeen(ctx context.Context, accountID, eventID string) (bool, error) {
	key := fmt.Sprintf("dedup:%s:%s", accountID, eventID)
	ok, err := s.client.SetNX(ctx, key, 1, s.window).Result()
	if err != nil {
		return false, fmt.Errorf("dedup setnx: %w", err)
	}
	return ok, nil
}

// Forget implements Store.
func (s *RedisStore) Forget(ctx context.Context, accountID, eventID string) error {
	key := fmt.Sprintf("dedup:%s:%s", accountID, eventID)
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("dedup del: %w", err)
	}
	return nil
}

// MemoryStore is the single-process fallback when Redis is not configured.
type MemoryStore struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	window time.Duration
	stopCh chan struct{}
}

// NewMemoryStore creates an in-memory dedup store with a background sweep of
// expired entries.
func NewMemoryStore(window time.Duration) *MemoryStore {
	if window <= 0 {
		window = DefaultWindow
	}
	s := &MemoryStore{
		seen:   make(map[string]time.Time),
		window: window,
		stopCh: make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

// FirstSeen implements Store.
func (s *MemoryStore) FirstSeen(_ context.Context, accountID, eventID string) (bool, error) {
	key := accountID + ":" + eventID
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if expiry, ok := s.seen[key]; ok && now.Before(expiry) {
		return false, nil
	}
	s.seen[key] = now.Add(s.window)
	return true, nil
}

// Forget implements Store.
func (s *MemoryStore) Forget(_ context.Context, accountID, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.seen, accountID+":"+eventID)
	return nil
}

// Stop terminates the sweep goroutine.
func (s *MemoryStore) Stop() {
	close(s.stopCh)
}

func (s *MemoryStore) sweepLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopCh:
			return
		}
	}
}

func (s *MemoryStore) sweep() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, expiry := range s.seen {
		if now.After(expiry) {
			delete(s.seen, key)
		}
	}
}
