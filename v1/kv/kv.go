package kv

import (
	"context"
	"time"
)

// Store abstracts the backing store. Absence is reported through the boolean
// return, never as an error. A ttl of zero stores the entry without expiry.
type Store interface {
	// Get retrieves the raw value for a key.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// List returns every entry whose key equals prefix or lives under
	// prefix + "/". An empty prefix returns the whole keyspace.
	List(ctx context.Context, prefix string) (map[string][]byte, error)
	// Set stores the value for a key, replacing any previous one.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetIfAbsent atomically creates the entry only when the key holds no
	// value. The boolean reports whether this call created it.
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	// Delete removes the entry. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// DeleteIfEqual removes the entry only while it still holds expect.
	DeleteIfEqual(ctx context.Context, key string, expect []byte) (bool, error)
	// ExpireIfEqual resets the entry's TTL only while it still holds expect.
	// ttl must be positive.
	ExpireIfEqual(ctx context.Context, key string, expect []byte, ttl time.Duration) (bool, error)
	// Close releases resources held by the store.
	Close() error
}
