package notify

import (
	"context"
	"sync"
	"sync/atomic"

	redis "github.com/redis/go-redis/v9"
)

type redisSubscription struct {
	pubsub *redis.PubSub
	chans  []chan struct{}
}

// RedisBus implements Bus using Redis pub/sub. Local subscribers of one
// channel share a single Redis subscription.
type RedisBus struct {
	client    *redis.Client
	mu        sync.Mutex
	subs      map[string]*redisSubscription
	pending   map[string]struct{}
	published uint64
	delivered uint64
}

// NewRedisBus returns a new RedisBus using the provided client.
func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{
		client:  client,
		subs:    make(map[string]*redisSubscription),
		pending: make(map[string]struct{}),
	}
}

// Publish implements Bus.Publish.
func (b *RedisBus) Publish(ctx context.Context, channel string) error {
	b.mu.Lock()
	if _, ok := b.pending[channel]; ok {
		b.mu.Unlock()
		return nil // deduplicate
	}
	b.pending[channel] = struct{}{}
	b.mu.Unlock()

	err := b.client.Publish(ctx, channel, "1").Err()
	if err == nil {
		atomic.AddUint64(&b.published, 1)
	}

	b.mu.Lock()
	delete(b.pending, channel)
	b.mu.Unlock()
	return err
}

// Subscribe implements Bus.Subscribe.
func (b *RedisBus) Subscribe(ctx context.Context, channel string) (chan struct{}, error) {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	sub := b.subs[channel]
	if sub == nil {
		ps := b.client.Subscribe(ctx, channel)
		// Wait for the subscription to be established so a publish racing
		// this call cannot slip through unheard.
		if _, err := ps.Receive(ctx); err != nil {
			b.mu.Unlock()
			_ = ps.Close()
			return nil, err
		}
		sub = &redisSubscription{pubsub: ps}
		b.subs[channel] = sub
		go b.dispatch(channel, sub)
	}
	sub.chans = append(sub.chans, ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = b.Unsubscribe(context.Background(), channel, ch)
	}()
	return ch, nil
}

func (b *RedisBus) dispatch(channel string, sub *redisSubscription) {
	for range sub.pubsub.Channel() {
		b.mu.Lock()
		chans := append([]chan struct{}(nil), sub.chans...)
		b.mu.Unlock()
		for _, c := range chans {
			select {
			case c <- struct{}{}:
				atomic.AddUint64(&b.delivered, 1)
			default:
			}
		}
	}
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *RedisBus) Unsubscribe(ctx context.Context, channel string, ch chan struct{}) error {
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
		return sub.pubsub.Close()
	}
	b.mu.Unlock()
	return nil
}

// Metrics returns the published and delivered counts.
func (b *RedisBus) Metrics() Metrics {
	return Metrics{
		Published: atomic.LoadUint64(&b.published),
		Delivered: atomic.LoadUint64(&b.delivered),
	}
}

// Close drops every subscription; channels handed out by Subscribe are
// closed.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[string]*redisSubscription)
	b.mu.Unlock()
	var firstErr error
	for _, sub := range subs {
		for _, c := range sub.chans {
			close(c)
		}
		if err := sub.pubsub.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
