// Package cache provides the shared key-value store used to memoize tax
// calculations. Keys are deterministic fingerprints of calculation inputs,
// so concurrent writers to the same key are harmless: identical inputs
// produce identical cached values.
package cache

import (
	"context"
	"time"
)

// Service is a shared key-value cache with per-entry TTL.
// Implementations: RedisCache, MemoryCache.
type Service interface {
	// Get unmarshals the cached value for key into dest.
	// Returns false when the key is absent or expired.
	Get(ctx context.Context, key string, dest any) (bool, error)

	// Set stores value under key for ttl.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}
