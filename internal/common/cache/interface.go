package cache

import (
	"context"
	"time"
)

// Cache is the key-value surface the artifact store needs from a remote cache.
type Cache interface {
	// Get retrieves the value for the given key.
	// A missing key yields an empty string and a nil error.
	Get(ctx context.Context, key string) (string, error)

	// Set stores a key-value pair. If ttl is 0, the key will not expire.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Del deletes one or more keys
	Del(ctx context.Context, keys ...string) error

	// Exists returns the number of the given keys that exist
	Exists(ctx context.Context, keys ...string) (int64, error)

	// TTL returns the remaining time to live of a key
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Ping verifies the cache connection is alive
	Ping(ctx context.Context) error

	// Close closes the cache connection
	Close() error
}
