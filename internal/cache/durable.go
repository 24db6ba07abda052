package cache

import (
	"context"
	"time"
)

// Entry is a serialized cache value as held by a durable tier.
type Entry struct {
	Key        string    `json:"key"`
	Value      []byte    `json:"value"`
	InsertedAt time.Time `json:"insertedAt"`
}

// DurableStore is a cache tier that survives process restarts. Implementations
// bound their total size and drop the oldest entries first once it is exceeded.
type DurableStore interface {
	// Get returns the entry for key, or nil when there is none.
	Get(ctx context.Context, key string) (*Entry, error)
	Put(ctx context.Context, entry Entry) error
	Remove(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Close() error
}
