package herd

import (
	"context"
	"strings"
	"time"

	uuid "github.com/hashicorp/go-uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	herderrors "github.com/mirkobrombin/go-herd/v1/errors"
	"github.com/mirkobrombin/go-herd/v1/events"
	"github.com/mirkobrombin/go-herd/v1/kv"
	"github.com/mirkobrombin/go-herd/v1/lock"
	"github.com/mirkobrombin/go-herd/v1/logging"
	"github.com/mirkobrombin/go-herd/v1/memo"
	"github.com/mirkobrombin/go-herd/v1/notify"
)

var tracer = otel.Tracer("github.com/mirkobrombin/go-herd/v1/herd")

// Client ties a store, a codec and an optional notification bus into one
// coordination surface. Clients are cheap and safe for concurrent use; a
// fleet usually runs one per process.
type Client struct {
	id        string
	store     kv.Store
	codec     kv.Codec
	bus       notify.Bus
	emitter   *events.Emitter
	log       logging.Logger
	namespace string
	tracing   bool

	leaseTTL time.Duration
	maxWait  time.Duration
	memoTTL  time.Duration

	memo *memo.Engine[any]
}

// New creates a Client over store.
func New(store kv.Store, opts ...Option) (*Client, error) {
	id, err := uuid.GenerateUUID()
	if err != nil {
		return nil, err
	}
	c := &Client{
		id:       id,
		store:    store,
		codec:    kv.JSONCodec{},
		emitter:  events.NewEmitter(),
		log:      logging.Nop{},
		leaseTTL: lock.DefaultLeaseTTL,
		maxWait:  lock.DefaultMaxWait,
		memoTTL:  memo.DefaultTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	memoOpts := []memo.Option{
		memo.WithCodec(c.codec),
		memo.WithBus(c.bus),
		memo.WithEmitter(c.emitter),
		memo.WithLogger(c.log),
		memo.WithTTL(c.memoTTL),
		memo.WithLeaseTTL(c.leaseTTL),
		memo.WithMaxWait(c.maxWait),
	}
	if c.tracing {
		memoOpts = append(memoOpts, memo.WithTracing())
	}
	c.memo = memo.New[any](store, memoOpts...)
	return c, nil
}

// ID returns this client's instance identifier, unique per construction.
func (c *Client) ID() string { return c.id }

// path prefixes key with the client's namespace.
func (c *Client) path(key string) string {
	if c.namespace == "" {
		return key
	}
	return c.namespace + "/" + key
}

// Get reads the value at key into out, which must be a pointer. It reports
// false when the key is absent; absence is never an error.
func (c *Client) Get(ctx context.Context, key string, out any) (bool, error) {
	k := c.path(key)
	call := events.Call{Key: k, Method: "get"}
	start := time.Now()
	c.emitter.Start(ctx, call)
	var span trace.Span
	if c.tracing {
		ctx, span = tracer.Start(ctx, "Client.Get")
		defer span.End()
	}

	found, err := c.get(ctx, k, out)

	if span != nil {
		span.SetAttributes(attribute.String("herd.key", k), attribute.Bool("herd.found", found))
	}
	c.emitter.Finish(ctx, call, events.Result{Status: herderrors.Classify(err), Err: err, Elapsed: time.Since(start)})
	return found, err
}

func (c *Client) get(ctx context.Context, key string, out any) (bool, error) {
	data, ok, err := c.store.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if out == nil {
		return true, nil
	}
	if err := c.codec.Unmarshal(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// GetTree reads the whole subtree under key as a nested map: intermediate
// path segments become nested maps, leaves decode through the codec. An
// empty subtree reports false. The entry at key itself, if any, is not
// part of the tree; Get reads it.
func (c *Client) GetTree(ctx context.Context, key string) (map[string]any, bool, error) {
	k := c.path(key)
	call := events.Call{Key: k, Method: "tree"}
	start := time.Now()
	c.emitter.Start(ctx, call)
	var span trace.Span
	if c.tracing {
		ctx, span = tracer.Start(ctx, "Client.GetTree")
		defer span.End()
	}

	root, found, err := c.tree(ctx, k)

	if span != nil {
		span.SetAttributes(attribute.String("herd.key", k), attribute.Bool("herd.found", found))
	}
	c.emitter.Finish(ctx, call, events.Result{Status: herderrors.Classify(err), Err: err, Elapsed: time.Since(start)})
	return root, found, err
}

func (c *Client) tree(ctx context.Context, key string) (map[string]any, bool, error) {
	entries, err := c.store.List(ctx, key)
	if err != nil {
		return nil, false, err
	}
	root := make(map[string]any)
	for fullKey, data := range entries {
		if fullKey == key {
			continue
		}
		rel := fullKey
		if key != "" {
			rel = strings.TrimPrefix(fullKey, key+"/")
		}
		segs := strings.Split(rel, "/")
		node := root
		for _, s := range segs[:len(segs)-1] {
			child, ok := node[s].(map[string]any)
			if !ok {
				// a leaf and a subtree may share a name; the subtree wins
				child = make(map[string]any)
				node[s] = child
			}
			node = child
		}
		var v any
		if err := c.codec.Unmarshal(data, &v); err != nil {
			return nil, false, err
		}
		node[segs[len(segs)-1]] = v
	}
	if len(root) == 0 {
		return nil, false, nil
	}
	return root, true, nil
}

// SetOption configures a single Set.
type SetOption func(*setOptions)

type setOptions struct {
	ttl time.Duration
}

// WithTTL gives the entry a lifetime, enforced by the store. Zero, the
// default, stores it without expiry.
func WithTTL(d time.Duration) SetOption {
	return func(o *setOptions) {
		if d > 0 {
			o.ttl = d
		}
	}
}

// Set stores value at key.
func (c *Client) Set(ctx context.Context, key string, value any, opts ...SetOption) error {
	var o setOptions
	for _, opt := range opts {
		opt(&o)
	}
	k := c.path(key)
	call := events.Call{Key: k, Method: "set"}
	start := time.Now()
	c.emitter.Start(ctx, call)
	var span trace.Span
	if c.tracing {
		ctx, span = tracer.Start(ctx, "Client.Set")
		defer span.End()
	}

	err := c.set(ctx, k, value, o.ttl)

	if span != nil {
		span.SetAttributes(attribute.String("herd.key", k))
	}
	c.emitter.Finish(ctx, call, events.Result{Status: herderrors.Classify(err), Err: err, Elapsed: time.Since(start)})
	return err
}

func (c *Client) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := c.codec.Marshal(value)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, key, data, ttl)
}

// Delete removes the entry at key. Deleting an absent key is not an error.
func (c *Client) Delete(ctx context.Context, key string) error {
	k := c.path(key)
	call := events.Call{Key: k, Method: "delete"}
	start := time.Now()
	c.emitter.Start(ctx, call)
	var span trace.Span
	if c.tracing {
		ctx, span = tracer.Start(ctx, "Client.Delete")
		defer span.End()
	}

	err := c.store.Delete(ctx, k)

	if span != nil {
		span.SetAttributes(attribute.String("herd.key", k))
	}
	c.emitter.Finish(ctx, call, events.Result{Status: herderrors.Classify(err), Err: err, Elapsed: time.Since(start)})
	return err
}

// NewLock returns an unheld handle for the named lock, carrying the
// client's defaults. Lock keys live in the same namespace as value keys.
func (c *Client) NewLock(key string, opts ...lock.Option) *lock.Lock {
	base := []lock.Option{
		lock.WithLeaseTTL(c.leaseTTL),
		lock.WithMaxWait(c.maxWait),
		lock.WithBus(c.bus),
		lock.WithEmitter(c.emitter),
		lock.WithLogger(c.log),
	}
	if c.tracing {
		base = append(base, lock.WithTracing())
	}
	return lock.New(c.store, c.path(key), append(base, opts...)...)
}

// AcquireLock blocks until the named lock is held and returns its handle.
// The caller owns the handle and must Release it.
func (c *Client) AcquireLock(ctx context.Context, key string, opts ...lock.Option) (*lock.Lock, error) {
	lk := c.NewLock(key, opts...)
	if err := lk.Acquire(ctx); err != nil {
		return nil, err
	}
	return lk, nil
}

// Memoize returns the value for key, running fn at most once across every
// process sharing the store. The value comes back decoded through the
// client's codec; typed callers can use a memo.Engine directly instead.
func (c *Client) Memoize(ctx context.Context, key string, fn func(ctx context.Context) (any, error), opts ...memo.Option) (any, memo.Outcome, error) {
	return c.memo.Do(ctx, c.path(key), memo.Func[any](fn), opts...)
}

// Close releases the store. A bus passed in via WithBus stays open; its
// owner closes it.
func (c *Client) Close() error {
	return c.store.Close()
}
