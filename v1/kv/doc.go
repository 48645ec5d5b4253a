// Package kv defines the byte-level contract herd needs from a
// strongly-consistent key-value store, with Redis and in-memory
// implementations. Keys are hierarchical "/"-separated paths, values are
// opaque bytes, and TTLs are enforced by the store itself. The conditional
// operations (SetIfAbsent, DeleteIfEqual, ExpireIfEqual) are the atomic
// primitives the lock package builds on.
package kv
