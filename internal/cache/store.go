package cache

import (
	"context"
	"time"
)

// Store is the byte-level backend of a Layer.
type Store interface {
	// Get returns the value for key; ok is false on a miss or expiry.
	Get(ctx context.Context, key string) (val []byte, ok bool, err error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// DeletePattern removes every key matching a Redis-style glob and
	// returns how many were removed.
	DeletePattern(ctx context.Context, pattern string) (int, error)
	Ping(ctx context.Context) error
	Close() error
}
