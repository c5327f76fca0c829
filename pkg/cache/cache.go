// Package cache defines the key-value collaborator the framework builds
// on: general application caching plus the atomic test-and-set the nonce
// ledger requires. The Redis implementation serves production; the
// in-memory one serves tests and single-process deployments.
package cache

import (
	"context"
	"time"
)

// Cache is a string key-value store with optional expiry.
//
// SetIfAbsent must be atomic: of any number of concurrent calls for the
// same absent key, exactly one returns true. Replay protection depends
// on this property holding under race.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}
