// Package dedup remembers recently processed webhook event ids so duplicate
// provider deliveries can be acknowledged without re-running side effects.
package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store records event ids for a bounded window.
type Store interface {
	// Seen marks id as processed and reports whether it was already
	// recorded inside the window. The check and the mark are one atomic
	// operation.
	Seen(ctx context.Context, id string) (bool, error)

	// Forget drops the mark for id so a redelivery is processed again.
	// Called when handling fails after Seen marked the id.
	Forget(ctx context.Context, id string) error
}

// MemoryStore is a process-local Store with TTL expiry. Suitable for a
// single instance; use RedisStore when running replicas.
type MemoryStore struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[string]time.Time
	now    func() time.Time
}

func NewMemoryStore(window time.Duration) *MemoryStore {
	return &MemoryStore{
		window: window,
		seen:   make(map[string]time.Time),
		now:    time.Now,
	}
}

func (s *MemoryStore) Seen(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if at, ok := s.seen[id]; ok && now.Sub(at) < s.window {
		return true, nil
	}

	// Prune expired entries while we hold the lock
	for k, at := range s.seen {
		if now.Sub(at) >= s.window {
			delete(s.seen, k)
		}
	}

	s.seen[id] = now
	return false, nil
}

func (s *MemoryStore) Forget(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.seen, id)
	return nil
}

// RedisStore is a Store backed by Redis SET NX with expiry, shared across
// service replicas.
type RedisStore struct {
	client *redis.Client
	window time.Duration
	prefix string
}

func NewRedisStore(client *redis.Client, window time.Duration) *RedisStore {
	return &RedisStore{
		client: client,
		window: window,
		prefix: "webhook:event:",
	}
}

func (s *RedisStore) Seen(ctx context.Context, id string) (bool, error) {
	set, err := s.client.SetNX(ctx, s.prefix+id, 1, s.window).Result()
	if err != nil {
		return false, err
	}
	return !set, nil
}

func (s *RedisStore) Forget(ctx context.Context, id string) error {
	return s.client.Del(ctx, s.prefix+id).Err()
}
