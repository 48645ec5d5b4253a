package notify

import (
	"context"
	"sync"
	"sync/atomic"
)

// Bus is a minimal fan-out channel. Publish wakes every current subscriber
// of channel; delivery is best-effort and carries no payload.
type Bus interface {
	Publish(ctx context.Context, channel string) error
	Subscribe(ctx context.Context, channel string) (chan struct{}, error)
	Unsubscribe(ctx context.Context, channel string, ch chan struct{}) error
}

// Metrics reports how many signals a bus published and delivered.
type Metrics struct {
	Published uint64
	Delivered uint64
}

// InMemoryBus is a process-local Bus for tests and single-process fleets.
type InMemoryBus struct {
	mu        sync.Mutex
	subs      map[string][]chan struct{}
	pending   map[string]struct{}
	published uint64
	delivered uint64
}

// NewInMemoryBus returns a new InMemoryBus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{subs: make(map[string][]chan struct{}), pending: make(map[string]struct{})}
}

// Publish implements Bus.Publish.
func (b *InMemoryBus) Publish(ctx context.Context, channel string) error {
	b.mu.Lock()
	if _, ok := b.pending[channel]; ok {
		b.mu.Unlock()
		return nil // deduplicate
	}
	b.pending[channel] = struct{}{}
	chans := append([]chan struct{}(nil), b.subs[channel]...)
	b.mu.Unlock()
	atomic.AddUint64(&b.published, 1)
	for _, ch := range chans {
		select {
		case ch <- struct{}{}:
			atomic.AddUint64(&b.delivered, 1)
		default:
		}
	}
	b.mu.Lock()
	delete(b.pending, channel)
	b.mu.Unlock()
	return nil
}

// Subscribe implements Bus.Subscribe. The subscription ends when ctx is
// cancelled or Unsubscribe is called with the returned channel.
func (b *InMemoryBus) Subscribe(ctx context.Context, channel string) (chan struct{}, error) {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], ch)
	b.mu.Unlock()
	go func() {
		<-ctx.Done()
		_ = b.Unsubscribe(context.Background(), channel, ch)
	}()
	return ch, nil
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *InMemoryBus) Unsubscribe(ctx context.Context, channel string, ch chan struct{}) error {
	b.mu.Lock()
	subs := b.subs[channel]
	for i, c := range subs {
		if c == ch {
			subs[i] = subs[len(subs)-1]
			subs = subs[:len(subs)-1]
			b.subs[channel] = subs
			close(c)
			break
		}
	}
	if len(subs) == 0 {
		delete(b.subs, channel)
	}
	b.mu.Unlock()
	return nil
}

// Metrics returns the published and delivered counts.
func (b *InMemoryBus) Metrics() Metrics {
	return Metrics{
		Published: atomic.LoadUint64(&b.published),
		Delivered: atomic.LoadUint64(&b.delivered),
	}
}
