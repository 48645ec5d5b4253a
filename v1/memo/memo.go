package memo

import (
	"context"
	stdErrors "errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	herderrors "github.com/mirkobrombin/go-herd/v1/errors"
	"github.com/mirkobrombin/go-herd/v1/events"
	"github.com/mirkobrombin/go-herd/v1/kv"
	"github.com/mirkobrombin/go-herd/v1/lock"
	"github.com/mirkobrombin/go-herd/v1/logging"
	"github.com/mirkobrombin/go-herd/v1/notify"
)

var tracer = otel.Tracer("github.com/mirkobrombin/go-herd/v1/memo")

const (
	// DefaultTTL is how long memoized results stay cached.
	DefaultTTL = 5 * time.Minute

	valueSuffix = "-value"
	lockSuffix  = "-lock"
)

// Outcome reports how Do produced its result.
type Outcome string

const (
	// HitBeforeLock means the cached value answered the first probe; no
	// lock was taken.
	HitBeforeLock Outcome = "hit_before_lock"
	// HitAfterLock means another process cached the value while this
	// caller waited for the lock.
	HitAfterLock Outcome = "hit_after_lock"
	// Computed means this caller ran the computation and cached the
	// result.
	Computed Outcome = "computed"
	// NotCached means this caller ran the computation with caching
	// disabled (ttl zero).
	NotCached Outcome = "not_cached"
)

// Func computes the value for a key.
type Func[T any] func(ctx context.Context) (T, error)

// Option configures an Engine, or a single Do call when passed there.
type Option func(*options)

type options struct {
	codec    kv.Codec
	bus      notify.Bus
	emitter  *events.Emitter
	log      logging.Logger
	ttl      time.Duration
	leaseTTL time.Duration
	maxWait  time.Duration
	step     time.Duration
	maxDelay time.Duration
	tracing  bool
}

// WithTTL sets how long results stay cached. Zero disables caching
// entirely: the computation still runs under the lock, its result is
// returned but never written.
func WithTTL(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.ttl = d
		}
	}
}

// WithLeaseTTL sets the computation lock's lease.
func WithLeaseTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.leaseTTL = d
		}
	}
}

// WithMaxWait sets how long a caller may wait on the computation lock.
func WithMaxWait(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.maxWait = d
		}
	}
}

// WithBackoff overrides the lock's linear backoff schedule.
func WithBackoff(step, max time.Duration) Option {
	return func(o *options) {
		if step > 0 {
			o.step = step
		}
		if max > 0 {
			o.maxDelay = max
		}
	}
}

// WithCodec sets the codec results are cached with.
func WithCodec(c kv.Codec) Option {
	return func(o *options) {
		if c != nil {
			o.codec = c
		}
	}
}

// WithBus wires release notifications into the computation lock.
func WithBus(b notify.Bus) Option {
	return func(o *options) { o.bus = b }
}

// WithEmitter wires start/finish instrumentation events.
func WithEmitter(e *events.Emitter) Option {
	return func(o *options) { o.emitter = e }
}

// WithLogger sets the diagnostics sink.
func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithTracing enables OpenTelemetry spans around Do and its lock.
func WithTracing() Option {
	return func(o *options) { o.tracing = true }
}

// Engine memoizes computations in a shared store. For a key, the result
// lives at "<key>-value" and the computation lock at "<key>-lock"; the
// cached entry's existence is the only "already computed" signal.
type Engine[T any] struct {
	store kv.Store
	opts  options
}

// New returns an Engine over store. opts become the defaults for every Do
// call.
func New[T any](store kv.Store, opts ...Option) *Engine[T] {
	o := options{
		codec:    kv.JSONCodec{},
		log:      logging.Nop{},
		ttl:      DefaultTTL,
		leaseTTL: lock.DefaultLeaseTTL,
		maxWait:  lock.DefaultMaxWait,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Engine[T]{store: store, opts: o}
}

// Do returns the memoized value for key, computing it at most once across
// the fleet. Zero results still cache as concrete values; absence stays
// reserved for "never computed". A failing fn leaves the cache untouched
// and its error is returned as-is, so the next caller retries.
func (e *Engine[T]) Do(ctx context.Context, key string, fn Func[T], opts ...Option) (T, Outcome, error) {
	o := e.opts
	for _, opt := range opts {
		opt(&o)
	}

	call := events.Call{Key: key, Method: "memo"}
	start := time.Now()
	o.emitter.Start(ctx, call)
	var span trace.Span
	if o.tracing {
		ctx, span = tracer.Start(ctx, "Engine.Do")
		defer span.End()
	}

	v, outcome, status, err := e.run(ctx, key, fn, o)

	if span != nil {
		span.SetAttributes(
			attribute.String("herd.key", key),
			attribute.String("herd.outcome", string(outcome)),
		)
	}
	o.emitter.Finish(ctx, call, events.Result{Status: status, Err: err, Elapsed: time.Since(start)})
	return v, outcome, err
}

func (e *Engine[T]) run(ctx context.Context, key string, fn Func[T], o options) (T, Outcome, string, error) {
	var zero T

	// Fast path: the cached value answers without any locking.
	v, ok, err := e.probe(ctx, key, o)
	if err != nil {
		return zero, "", herderrors.Classify(err), err
	}
	if ok {
		return v, HitBeforeLock, string(HitBeforeLock), nil
	}

	lockOpts := []lock.Option{
		lock.WithLeaseTTL(o.leaseTTL),
		lock.WithMaxWait(o.maxWait),
		lock.WithBackoff(o.step, o.maxDelay),
		lock.WithBus(o.bus),
		lock.WithEmitter(o.emitter),
		lock.WithLogger(o.log),
	}
	if o.tracing {
		lockOpts = append(lockOpts, lock.WithTracing())
	}
	lk := lock.New(e.store, key+lockSuffix, lockOpts...)
	if err := lk.Acquire(ctx); err != nil {
		var te *lock.TimeoutError
		if stdErrors.As(err, &te) {
			return zero, "", "timeout", err
		}
		return zero, "", herderrors.Classify(err), err
	}
	defer lk.Release(context.Background())

	// Second probe: the previous holder may have cached the value while
	// this caller waited.
	v, ok, err = e.probe(ctx, key, o)
	if err != nil {
		return zero, "", herderrors.Classify(err), err
	}
	if ok {
		return v, HitAfterLock, string(HitAfterLock), nil
	}

	hb := startHeartbeat(lk, o.leaseTTL, o.log)
	defer hb.halt()

	v, err = fn(ctx)
	if err != nil {
		return zero, "", "computation", err
	}

	// The lease must have stayed ours for the whole computation; caching
	// under a lost lock would break the single-writer contract.
	if err := hb.halt(); err != nil {
		return zero, "", "not_held", err
	}

	if o.ttl == 0 {
		return v, NotCached, string(NotCached), nil
	}

	data, err := o.codec.Marshal(v)
	if err != nil {
		return zero, "", "encode", err
	}
	if err := e.store.Set(ctx, key+valueSuffix, data, o.ttl); err != nil {
		return zero, "", herderrors.Classify(err), err
	}
	return v, Computed, string(Computed), nil
}

func (e *Engine[T]) probe(ctx context.Context, key string, o options) (T, bool, error) {
	var zero T
	data, ok, err := e.store.Get(ctx, key+valueSuffix)
	if err != nil || !ok {
		return zero, false, err
	}
	var v T
	if err := o.codec.Unmarshal(data, &v); err != nil {
		return zero, false, err
	}
	return v, true, nil
}
