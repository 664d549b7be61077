package cache

import (
	"context"
	"time"
)

// Cache defines the cache operations used by the grading services.
type Cache interface {
	BasicOps
	ZSetOps
	LockOps

	// Ping verifies the cache connection is alive
	Ping(ctx context.Context) error

	// Close closes the cache connection
	Close() error
}

// BasicOps defines basic key-value operations
type BasicOps interface {
	// Get returns "" with a nil error when the key does not exist.
	Get(ctx context.Context, key string) (string, error)

	// Set stores a key-value pair. A zero ttl means no expiration.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// SetNX sets the value only if the key does not exist.
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)

	// Del deletes one or more keys
	Del(ctx context.Context, keys ...string) error

	// IncrWithExpire increments a counter and sets its ttl when the counter is new.
	IncrWithExpire(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// ZSetOps defines sorted set operations.
type ZSetOps interface {
	ZAdd(ctx context.Context, key string, members ...ZMember) error

	// ZRem returns the number of members actually removed.
	ZRem(ctx context.Context, key string, members ...string) (int64, error)

	// ZRangeByScore returns up to limit members with min <= score <= max, lowest score first.
	ZRangeByScore(ctx context.Context, key string, min, max float64, limit int64) ([]ZMember, error)

	ZCard(ctx context.Context, key string) (int64, error)
}

// LockOps defines best-effort distributed lock operations.
// Each acquisition yields an owner token that Unlock must present.
type LockOps interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Unlock(ctx context.Context, key, token string) error
}

// ZMember is a sorted set entry.
type ZMember struct {
	Score  float64
	Member string
}
