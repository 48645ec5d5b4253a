// Package lock implements mutual exclusion across processes on top of a
// kv.Store. A lock is one store entry created atomically with SetIfAbsent:
// the entry holds the acquisition's token and carries the lease TTL, so a
// crashed holder frees itself once the lease runs out. Waiters retry on a
// bounded linear backoff schedule; a notify.Bus shortens waits by
// announcing releases but is never required for correctness.
//
// A Lock is a single-actor handle: create one per goroutine or call site,
// not one shared handle per key.
package lock
