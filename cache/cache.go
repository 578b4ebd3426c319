// Package cache decorates the query engine with a get-or-compute response
// cache: TTL freshness, an optional stale-while-revalidate window, and
// pluggable storage. A cache failure is never a request failure.
package cache

import (
	"context"
	"time"
)

// Store is the minimal storage contract the decorator needs. The same
// decorator works with the in-process store or an external one.
type Store interface {
	// Get retrieves a value from the store
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with a TTL
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from the store
	Delete(ctx context.Context, key string) error

	// Clear removes all values from the store
	Clear(ctx context.Context) error
}

// Config holds common configuration for cache stores
type Config struct {
	// DefaultTTL is the default time-to-live for cached items
	DefaultTTL time.Duration
	// Prefix is prepended to all cache keys
	Prefix string
}

// DefaultConfig returns a default store configuration
func DefaultConfig() Config {
	return Config{
		DefaultTTL: 5 * time.Minute,
		Prefix:     "tablekit:",
	}
}

// ErrCacheMiss is returned when a key is not found in the store
type ErrCacheMiss struct {
	Key string
}

func (e ErrCacheMiss) Error() string {
	return "cache miss: " + e.Key
}

// IsCacheMiss checks if an error is a cache miss
func IsCacheMiss(err error) bool {
	_, ok := err.(ErrCacheMiss)
	return ok
}
