// Package cache provides the key/value store with per-entry expiry used by the
// data access layer. Values are opaque bytes; callers own their encoding.
// Supports an in-process memory store and shared Redis or Olric backends for
// multi-instance deployments.
package cache

import (
	"context"
	"time"
)

// Store defines the interface for expiring key/value storage.
// Implementations must be safe for concurrent use.
//
// All operations are total: backend failures are logged and behave as a miss
// (Get) or a no-op (Set, Delete, Clear), so a broken shared cache degrades the
// layer to uncached calls instead of failing them.
type Store interface {
	// Get returns the value stored under key if it exists and has not expired.
	Get(ctx context.Context, key string) ([]byte, bool)

	// Set stores value under key for ttl, replacing any previous entry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)

	// Delete removes the entry stored under key.
	Delete(ctx context.Context, key string)

	// Clear removes every entry owned by this store.
	Clear(ctx context.Context)

	// Close releases any resources held by the store.
	Close() error
}
