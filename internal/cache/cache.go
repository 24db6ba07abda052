// Package cache provides the two-tier cache that sits in front of the word store:
// a bounded in-memory LRU backed by an optional durable tier.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/at-ishikawa/wordhub/internal/metrics"
)

// DefaultMemorySize is the number of entries kept in memory when Options.MemorySize is unset.
const DefaultMemorySize = 1000

// Options configures a MultiTier cache.
type Options struct {
	MemorySize int
	// TTL bounds the age of an entry in both tiers. Zero disables expiry.
	TTL time.Duration
	// Now is the clock used for insertion times and expiry. Defaults to time.Now.
	Now func() time.Time
	// Durable is the optional second tier.
	Durable DurableStore
}

type entry[V any] struct {
	value      V
	insertedAt time.Time
}

// MultiTier is a goroutine-safe cache with a memory tier and an optional durable tier.
// Values are shared with callers and must not be mutated after Set.
type MultiTier[V any] struct {
	// Remove and Clear hold mu exclusively so that a Get never observes one
	// tier cleared and the other not.
	mu      sync.RWMutex
	memory  *lru.Cache[string, entry[V]]
	durable DurableStore
	ttl     time.Duration
	now     func() time.Time
}

// New creates a MultiTier cache.
func New[V any](opts Options) (*MultiTier[V], error) {
	size := opts.MemorySize
	if size <= 0 {
		size = DefaultMemorySize
	}
	memory, err := lru.New[string, entry[V]](size)
	if err != nil {
		return nil, fmt.Errorf("lru.New: %w", err)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &MultiTier[V]{
		memory:  memory,
		durable: opts.Durable,
		ttl:     opts.TTL,
		now:     now,
	}, nil
}

func (c *MultiTier[V]) expired(insertedAt, now time.Time) bool {
	return c.ttl > 0 && now.Sub(insertedAt) >= c.ttl
}

// stale records expired entries seen by a read, by their insertion time.
type stale struct {
	memory, durable     bool
	memoryAt, durableAt time.Time
}

// Get returns the value for key. Memory is consulted first, then the durable
// tier, whose hits are promoted to memory. Expired entries are misses.
func (c *MultiTier[V]) Get(ctx context.Context, key string) (V, bool) {
	value, ok, expired := c.get(ctx, key)
	if expired.memory || expired.durable {
		c.evict(ctx, key, expired)
	}
	return value, ok
}

func (c *MultiTier[V]) get(ctx context.Context, key string) (V, bool, stale) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var zero V
	var expired stale
	now := c.now()
	if e, ok := c.memory.Get(key); ok {
		if !c.expired(e.insertedAt, now) {
			metrics.CacheLookupsTotal.WithLabelValues(metrics.TierMemory, metrics.ResultHit).Inc()
			return e.value, true, expired
		}
		expired.memory, expired.memoryAt = true, e.insertedAt
	}
	metrics.CacheLookupsTotal.WithLabelValues(metrics.TierMemory, metrics.ResultMiss).Inc()

	if c.durable == nil {
		return zero, false, expired
	}
	stored, err := c.durable.Get(ctx, key)
	if err != nil {
		metrics.CacheLookupsTotal.WithLabelValues(metrics.TierDurable, metrics.ResultError).Inc()
		slog.Default().Warn("failed to read durable cache", "key", key, "error", err)
		return zero, false, expired
	}
	if stored == nil {
		metrics.CacheLookupsTotal.WithLabelValues(metrics.TierDurable, metrics.ResultMiss).Inc()
		return zero, false, expired
	}
	if c.expired(stored.InsertedAt, now) {
		metrics.CacheLookupsTotal.WithLabelValues(metrics.TierDurable, metrics.ResultMiss).Inc()
		expired.durable, expired.durableAt = true, stored.InsertedAt
		return zero, false, expired
	}

	var value V
	if err := json.Unmarshal(stored.Value, &value); err != nil {
		metrics.CacheLookupsTotal.WithLabelValues(metrics.TierDurable, metrics.ResultError).Inc()
		slog.Default().Warn("failed to decode durable cache entry", "key", key, "error", err)
		expired.durable, expired.durableAt = true, stored.InsertedAt
		return zero, false, expired
	}
	metrics.CacheLookupsTotal.WithLabelValues(metrics.TierDurable, metrics.ResultHit).Inc()
	c.addMemory(key, entry[V]{value: value, insertedAt: stored.InsertedAt})
	return value, true, expired
}

// evict removes the entries a read found stale. An entry written after that
// read has a different insertion time and is kept.
func (c *MultiTier[V]) evict(ctx context.Context, key string, expired stale) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if expired.memory {
		if e, ok := c.memory.Peek(key); ok && e.insertedAt.Equal(expired.memoryAt) {
			c.memory.Remove(key)
			metrics.CacheEvictionsTotal.WithLabelValues(metrics.TierMemory, metrics.ReasonExpired).Inc()
		}
	}
	if expired.durable && c.durable != nil {
		stored, err := c.durable.Get(ctx, key)
		if err != nil {
			slog.Default().Warn("failed to read durable cache", "key", key, "error", err)
			return
		}
		if stored != nil && stored.InsertedAt.Equal(expired.durableAt) {
			c.removeDurable(ctx, key)
			metrics.CacheEvictionsTotal.WithLabelValues(metrics.TierDurable, metrics.ReasonExpired).Inc()
		}
	}
}

// Set stores value under key in both tiers.
func (c *MultiTier[V]) Set(ctx context.Context, key string, value V) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	c.addMemory(key, entry[V]{value: value, insertedAt: now})
	if c.durable == nil {
		return
	}
	b, err := json.Marshal(value)
	if err != nil {
		slog.Default().Warn("failed to encode durable cache entry", "key", key, "error", err)
		return
	}
	if err := c.durable.Put(ctx, Entry{Key: key, Value: b, InsertedAt: now}); err != nil {
		slog.Default().Warn("failed to write durable cache", "key", key, "error", err)
	}
}

// Remove deletes key from both tiers.
func (c *MultiTier[V]) Remove(ctx context.Context, keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range keys {
		c.memory.Remove(key)
		c.removeDurable(ctx, key)
	}
}

// Clear empties both tiers.
func (c *MultiTier[V]) Clear(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.memory.Purge()
	if c.durable == nil {
		return
	}
	if err := c.durable.Clear(ctx); err != nil {
		slog.Default().Warn("failed to clear durable cache", "error", err)
	}
}

// Len returns the number of entries held in memory.
func (c *MultiTier[V]) Len() int {
	return c.memory.Len()
}

// Close releases the durable tier.
func (c *MultiTier[V]) Close() error {
	if c.durable == nil {
		return nil
	}
	return c.durable.Close()
}

func (c *MultiTier[V]) addMemory(key string, e entry[V]) {
	if evicted := c.memory.Add(key, e); evicted {
		metrics.CacheEvictionsTotal.WithLabelValues(metrics.TierMemory, metrics.ReasonCapacity).Inc()
	}
}

func (c *MultiTier[V]) removeDurable(ctx context.Context, key string) {
	if c.durable == nil {
		return
	}
	if err := c.durable.Remove(ctx, key); err != nil {
		slog.Default().Warn("failed to remove durable cache entry", "key", key, "error", err)
	}
}
