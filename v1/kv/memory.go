package kv

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"time"
)

type memoryEntry struct {
	value    []byte
	deadline time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.deadline.IsZero() && now.After(e.deadline)
}

// Memory implements Store using a map. Expiry is lazy: entries past their
// deadline count as absent and are dropped on the next access. Meant for
// tests and single-process deployments.
type Memory struct {
	mu    sync.Mutex
	items map[string]memoryEntry
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{items: make(map[string]memoryEntry)}
}

// live returns the unexpired entry for key. Caller must hold mu.
func (s *Memory) live(key string, now time.Time) (memoryEntry, bool) {
	e, ok := s.items[key]
	if !ok {
		return memoryEntry{}, false
	}
	if e.expired(now) {
		delete(s.items, key)
		return memoryEntry{}, false
	}
	return e, true
}

func clone(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return append([]byte(nil), b...)
}

// Get implements Store.Get.
func (s *Memory) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key, time.Now())
	if !ok {
		return nil, false, nil
	}
	return clone(e.value), true, nil
}

// List implements Store.List.
func (s *Memory) List(ctx context.Context, prefix string) (map[string][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	out := make(map[string][]byte)
	for k, e := range s.items {
		if e.expired(now) {
			delete(s.items, k)
			continue
		}
		if prefix != "" && k != prefix && !strings.HasPrefix(k, prefix+"/") {
			continue
		}
		out[k] = clone(e.value)
	}
	return out, nil
}

// Set implements Store.Set.
func (s *Memory) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = s.entry(value, ttl)
	return nil
}

// SetIfAbsent implements Store.SetIfAbsent.
func (s *Memory) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.live(key, time.Now()); ok {
		return false, nil
	}
	s.items[key] = s.entry(value, ttl)
	return true, nil
}

// Delete implements Store.Delete.
func (s *Memory) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}

// DeleteIfEqual implements Store.DeleteIfEqual.
func (s *Memory) DeleteIfEqual(ctx context.Context, key string, expect []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key, time.Now())
	if !ok || !bytes.Equal(e.value, expect) {
		return false, nil
	}
	delete(s.items, key)
	return true, nil
}

// ExpireIfEqual implements Store.ExpireIfEqual.
func (s *Memory) ExpireIfEqual(ctx context.Context, key string, expect []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key, time.Now())
	if !ok || !bytes.Equal(e.value, expect) {
		return false, nil
	}
	s.items[key] = s.entry(e.value, ttl)
	return true, nil
}

// Close implements Store.Close.
func (s *Memory) Close() error { return nil }

func (s *Memory) entry(value []byte, ttl time.Duration) memoryEntry {
	e := memoryEntry{value: clone(value)}
	if ttl > 0 {
		e.deadline = time.Now().Add(ttl)
	}
	return e
}
