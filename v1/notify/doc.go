// Package notify provides the pub/sub channel herd uses to announce that a
// lock became free, with in-memory, Redis, NATS and Kafka implementations.
// Notifications shorten waits; they are never required for correctness. A
// waiter that misses one simply retries on its backoff schedule.
package notify
