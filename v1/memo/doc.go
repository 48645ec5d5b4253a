// Package memo guarantees that an expensive computation runs at most once
// across a fleet of processes sharing a store. The first caller to find the
// cache empty takes a lock, computes, and publishes the result; concurrent
// callers either reuse the cached value or block on the lock and pick up
// the result the winner wrote. Computations that fail are never cached.
package memo
