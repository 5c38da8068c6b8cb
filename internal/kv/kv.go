// Package kv provides the shared low-latency key-value store used for
// session state and counters. Two implementations sit behind one interface:
// an in-process concurrent map for single-instance deployments and a Redis
// client for horizontally scaled ones, so scaling out does not silently
// change session or counter semantics.
package kv

import (
	"context"
	"time"
)

// Store is a TTL-aware string key-value store.
//
// Get reports presence explicitly instead of returning an error: a missing
// or expired key is a routine outcome on the hot path, not a failure.
type Store interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)

	// Set writes the value. ttl <= 0 means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes the key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Expire resets the key's TTL. A missing key is ignored.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// IncrBy atomically adds delta to the integer value at key, creating it
	// at zero if absent, and applies ttl on first creation.
	IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)

	// Close releases any resources held by the store.
	Close() error
}
