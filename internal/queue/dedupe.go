package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// DedupeStore is the idempotency guard consulted before side-effecting
// handlers run. At-least-once delivery means duplicates arrive; a hit skips
// the work.
type DedupeStore interface {
	// Seen reports whether key was already marked within its TTL.
	Seen(ctx context.Context, key string) (bool, error)
	// Mark records key for ttl.
	Mark(ctx context.Context, key string, ttl time.Duration) error
}

// WithDedupe wraps handle so a message key already processed within ttl is
// skipped. The key is marked only after handle succeeds, so retried failures
// are not suppressed.
func WithDedupe(store DedupeStore, ttl time.Duration, handle Handler) Handler {
	return func(ctx context.Context, msg Message) error {
		if msg.Key != "" {
			seen, err := store.Seen(ctx, msg.Topic+":"+msg.Key)
			if err != nil {
				return fmt.Errorf("dedupe check: %w", err)
			}
			if seen {
				return nil
			}
		}
		if err := handle(ctx, msg); err != nil {
			return err
		}
		if msg.Key != "" {
			if err := store.Mark(ctx, msg.Topic+":"+msg.Key, ttl); err != nil {
				return fmt.Errorf("dedupe mark: %w", err)
			}
		}
		return nil
	}
}

// RedisDedupe is a Redis-backed DedupeStore.
type RedisDedupe struct {
	client *redis.Client
}

// NewRedisDedupe validates the connection and returns the store.
func NewRedisDedupe(client *redis.Client) (*RedisDedupe, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisDedupe{client: client}, nil
}

func dedupeKey(key string) string { return "dedupe:" + key }

// Seen reports whether key was already marked.
func (s *RedisDedupe) Seen(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, dedupeKey(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Mark records key for ttl.
func (s *RedisDedupe) Mark(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.Set(ctx, dedupeKey(key), "1", ttl).Err()
}

var _ DedupeStore = (*RedisDedupe)(nil)

// MemoryDedupe is an in-process DedupeStore for tests.
type MemoryDedupe struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

// NewMemoryDedupe creates an empty dedupe store.
func NewMemoryDedupe() *MemoryDedupe {
	return &MemoryDedupe{seen: make(map[string]time.Time)}
}

// Seen reports whether key was marked and its TTL has not elapsed.
func (m *MemoryDedupe) Seen(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	expiry, ok := m.seen[key]
	if !ok {
		return false, nil
	}
	if time.Now().After(expiry) {
		delete(m.seen, key)
		return false, nil
	}
	return true, nil
}

// Mark records key for ttl.
func (m *MemoryDedupe) Mark(ctx context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[key] = time.Now().Add(ttl)
	return nil
}

var _ DedupeStore = (*MemoryDedupe)(nil)
