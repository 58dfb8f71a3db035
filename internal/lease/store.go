// Package lease provides the expiring key/value store that backs all
// in-flight reservation state (seat holds and order sessions). The store
// is deliberately not the durable database: entries vanish on expiry or
// process loss, which is the safe failure mode for unpaid carts. Because
// several server instances must see the same holds, production runs on
// Redis; an in-memory implementation with the same contract exists for
// tests and single-node development.
package lease

import (
	"context"
	"time"
)

// Store is an expiring key/value store. Put and Delete are atomic per
// key; there is no cross-key transaction. KeysMatching exists for
// conflict scanning only and must not be relied on inside hot critical
// sections.
type Store interface {
	// Put writes value under key with the given TTL, overwriting any
	// previous value and resetting the expiry window.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Refresh rewrites the value while preserving the key's remaining
	// TTL. It is a no-op when the key is absent or already expired.
	Refresh(ctx context.Context, key string, value []byte) error
	// Get returns the value and true, or false when the key is absent.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Delete removes the key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// Exists reports whether the key is present and unexpired.
	Exists(ctx context.Context, key string) (bool, error)
	// RemainingTTL returns the time left before the key expires, and
	// false when the key is absent.
	RemainingTTL(ctx context.Context, key string) (time.Duration, bool, error)
	// KeysMatching returns all live keys matching a glob-style pattern.
	KeysMatching(ctx context.Context, pattern string) ([]string, error)
}
