package notify

import (
	"context"
	"sync"
	"sync/atomic"

	nats "github.com/nats-io/nats.go"
)

type natsSubscription struct {
	sub   *nats.Subscription
	chans []chan struct{}
}

// NATSBus implements Bus using a NATS backend. Channels map to NATS
// subjects one to one.
type NATSBus struct {
	conn      *nats.Conn
	mu        sync.Mutex
	subs      map[string]*natsSubscription
	pending   map[string]struct{}
	published uint64
	delivered uint64
}

// NewNATSBus returns a new NATSBus using the provided connection.
func NewNATSBus(conn *nats.Conn) *NATSBus {
	return &NATSBus{
		conn:    conn,
		subs:    make(map[string]*natsSubscription),
		pending: make(map[string]struct{}),
	}
}

// Publish implements Bus.Publish.
func (b *NATSBus) Publish(ctx context.Context, channel string) error {
	b.mu.Lock()
	if _, ok := b.pending[channel]; ok {
		b.mu.Unlock()
		return nil // deduplicate
	}
	b.pending[channel] = struct{}{}
	b.mu.Unlock()

	err := b.conn.Publish(channel, []byte("1"))
	if err == nil {
		atomic.AddUint64(&b.published, 1)
	}

	b.mu.Lock()
	delete(b.pending, channel)
	b.mu.Unlock()
	return err
}

// Subscribe implements Bus.Subscribe.
func (b *NATSBus) Subscribe(ctx context.Context, channel string) (chan struct{}, error) {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	sub := b.subs[channel]
	if sub == nil {
		ns, err := b.conn.Subscribe(channel, func(_ *nats.Msg) {
			b.mu.Lock()
			cur := b.subs[channel]
			if cur == nil {
				// Message raced an Unsubscribe that already dropped the entry.
				b.mu.Unlock()
				return
			}
			chans := append([]chan struct{}(nil), cur.chans...)
			b.mu.Unlock()
			for _, c := range chans {
				select {
				case c <- struct{}{}:
					atomic.AddUint64(&b.delivered, 1)
				default:
				}
			}
		})
		if err != nil {
			b.mu.Unlock()
			return nil, err
		}
		sub = &natsSubscription{sub: ns}
		b.subs[channel] = sub
	}
	sub.chans = append(sub.chans, ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = b.Unsubscribe(context.Background(), channel, ch)
	}()
	return ch, nil
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *NATSBus) Unsubscribe(ctx context.Context, channel string, ch chan struct{}) error {
	b.mu.Lock()
	sub := b.subs[channel]
	if sub == nil {
		b.mu.Unlock()
		return nil
	}
	for i, c := range sub.chans {
		if c == ch {
			sub.chans[i] = sub.chans[len(sub.chans)-1]
			sub.chans = sub.chans[:len(sub.chans)-1]
			close(c)
			break
		}
	}
	if len(sub.chans) == 0 {
		delete(b.subs, channel)
		b.mu.Unlock()
		return sub.sub.Unsubscribe()
	}
	b.mu.Unlock()
	return nil
}

// Metrics returns the published and delivered counts.
func (b *NATSBus) Metrics() Metrics {
	return Metrics{
		Published: atomic.LoadUint64(&b.published),
		Delivered: atomic.LoadUint64(&b.delivered),
	}
}
