package lock

import (
	"bytes"
	"context"
	stdErrors "errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	herderrors "github.com/mirkobrombin/go-herd/v1/errors"
	"github.com/mirkobrombin/go-herd/v1/events"
	"github.com/mirkobrombin/go-herd/v1/kv"
	"github.com/mirkobrombin/go-herd/v1/logging"
	"github.com/mirkobrombin/go-herd/v1/notify"
)

var tracer = otel.Tracer("github.com/mirkobrombin/go-herd/v1/lock")

const (
	// DefaultLeaseTTL bounds how long a crashed holder can block others.
	DefaultLeaseTTL = 10 * time.Second
	// DefaultMaxWait bounds how long Acquire keeps retrying.
	DefaultMaxWait = 30 * time.Second

	// Contended attempts wait min(attempt*step, cap) before retrying.
	defaultBackoffStep = 250 * time.Millisecond
	defaultBackoffCap  = 750 * time.Millisecond
)

// UnlockChannel returns the notify channel on which releases of key are
// announced.
func UnlockChannel(key string) string { return "unlock:" + key }

// Option configures a Lock.
type Option func(*options)

type options struct {
	leaseTTL time.Duration
	maxWait  time.Duration
	step     time.Duration
	maxDelay time.Duration
	bus      notify.Bus
	emitter  *events.Emitter
	log      logging.Logger
	tracing  bool
}

// WithLeaseTTL sets the lease the lock entry is stored with. Must be
// positive; the lease is also the self-heal horizon after a crash.
func WithLeaseTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.leaseTTL = d
		}
	}
}

// WithMaxWait sets the total wait budget for Acquire.
func WithMaxWait(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.maxWait = d
		}
	}
}

// WithBackoff overrides the linear backoff schedule: contended attempt n
// waits min(n*step, max).
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

// WithBus wires release notifications so waiters retry the moment the lock
// frees up instead of sleeping out their backoff.
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

// WithTracing enables OpenTelemetry spans around acquisitions.
func WithTracing() Option {
	return func(o *options) { o.tracing = true }
}

// Lock is a mutual exclusion handle for one key. Every acquisition mints a
// fresh token, stored as the entry value, so a handle can only release or
// renew what it actually holds.
type Lock struct {
	key     string
	store   kv.Store
	bus     notify.Bus
	emitter *events.Emitter
	log     logging.Logger

	leaseTTL time.Duration
	maxWait  time.Duration
	step     time.Duration
	maxDelay time.Duration
	tracing  bool

	mu    sync.Mutex
	token string
	held  bool
}

// New returns an unheld handle for key backed by store.
func New(store kv.Store, key string, opts ...Option) *Lock {
	o := options{
		leaseTTL: DefaultLeaseTTL,
		maxWait:  DefaultMaxWait,
		step:     defaultBackoffStep,
		maxDelay: defaultBackoffCap,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Lock{
		key:      key,
		store:    store,
		bus:      o.bus,
		emitter:  o.emitter,
		log:      logging.OrNop(o.log),
		leaseTTL: o.leaseTTL,
		maxWait:  o.maxWait,
		step:     o.step,
		maxDelay: o.maxDelay,
		tracing:  o.tracing,
	}
}

// Key returns the lock's key.
func (l *Lock) Key() string { return l.key }

// Token returns the token of the current acquisition, or "" before the
// first one.
func (l *Lock) Token() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.token
}

// Held reports whether this handle believes it holds the lock. The lease
// may still expire underneath it; Renew is the authoritative check.
func (l *Lock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

// TryAcquire makes a single attempt and reports whether this handle now
// holds the lock. Contention is not an error.
func (l *Lock) TryAcquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	if l.held {
		l.mu.Unlock()
		return true, nil
	}
	token := uuid.NewString()
	l.token = token
	l.mu.Unlock()
	return l.try(ctx, token)
}

// Acquire blocks until the lock is held, the wait budget runs out, or ctx
// is cancelled. Contended attempts back off linearly; a release
// notification triggers one immediate extra attempt. Store errors end the
// acquisition at once.
func (l *Lock) Acquire(ctx context.Context) error {
	l.mu.Lock()
	if l.held {
		l.mu.Unlock()
		return nil
	}
	token := uuid.NewString()
	l.token = token
	l.mu.Unlock()

	call := events.Call{Key: l.key, Method: "lock.acquire"}
	start := time.Now()
	l.emitter.Start(ctx, call)
	var span trace.Span
	if l.tracing {
		ctx, span = tracer.Start(ctx, "Lock.Acquire")
		defer span.End()
	}

	attempts, err := l.acquireLoop(ctx, token, start)

	status := "acquired"
	switch {
	case err == nil && attempts > 1:
		status = "waited"
	case err != nil:
		var te *TimeoutError
		if stdErrors.As(err, &te) {
			status = "timeout"
		} else {
			status = herderrors.Classify(err)
		}
	}
	if span != nil {
		span.SetAttributes(
			attribute.String("herd.key", l.key),
			attribute.String("herd.status", status),
			attribute.Int("herd.attempts", attempts),
		)
	}
	l.emitter.Finish(ctx, call, events.Result{Status: status, Err: err, Elapsed: time.Since(start)})
	return err
}

func (l *Lock) acquireLoop(ctx context.Context, token string, start time.Time) (int, error) {
	budget := time.NewTimer(l.maxWait)
	defer budget.Stop()

	var freed chan struct{}
	if l.bus != nil {
		subCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		ch, err := l.bus.Subscribe(subCtx, UnlockChannel(l.key))
		if err != nil {
			l.log.Printf("lock %q: release notifications unavailable: %v", l.key, err)
		} else {
			freed = ch
		}
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt, err
		}
		ok, err := l.try(ctx, token)
		if err != nil {
			return attempt, err
		}
		if ok {
			return attempt, nil
		}
		delay := time.Duration(attempt) * l.step
		if delay > l.maxDelay {
			delay = l.maxDelay
		}
		l.log.Printf("lock %q: contended, retry in %s (attempt %d)", l.key, delay, attempt)
		retry := time.NewTimer(delay)
		select {
		case <-retry.C:
		case <-freed:
			retry.Stop()
		case <-budget.C:
			retry.Stop()
			return attempt, &TimeoutError{Key: l.key, Elapsed: time.Since(start), Attempts: attempt}
		case <-ctx.Done():
			retry.Stop()
			return attempt, ctx.Err()
		}
	}
}

// try makes one store attempt and reports it through the event stream.
func (l *Lock) try(ctx context.Context, token string) (bool, error) {
	call := events.Call{Key: l.key, Method: "lock.try"}
	start := time.Now()
	l.emitter.Start(ctx, call)

	ok, err := l.tryOnce(ctx, token)
	if ok {
		l.mu.Lock()
		l.held = true
		l.mu.Unlock()
	}

	status := "contended"
	switch {
	case err != nil:
		status = herderrors.Classify(err)
	case ok:
		status = "held"
	}
	l.emitter.Finish(ctx, call, events.Result{Status: status, Err: err, Elapsed: time.Since(start)})
	return ok, err
}

func (l *Lock) tryOnce(ctx context.Context, token string) (bool, error) {
	created, err := l.store.SetIfAbsent(ctx, l.key, []byte(token), l.leaseTTL)
	if err != nil {
		return false, err
	}
	if created {
		return true, nil
	}
	// The create may have landed even though its response was lost; the
	// read-back settles ownership.
	cur, ok, err := l.store.Get(ctx, l.key)
	if err != nil {
		return false, err
	}
	return ok && bytes.Equal(cur, []byte(token)), nil
}

// Renew extends the lease while the handle still owns the lock. ErrNotHeld
// means mutual exclusion is already lost and must not be ignored.
func (l *Lock) Renew(ctx context.Context) error {
	l.mu.Lock()
	held, token := l.held, l.token
	l.mu.Unlock()
	if !held {
		return ErrNotHeld
	}

	call := events.Call{Key: l.key, Method: "lock.renew"}
	start := time.Now()
	l.emitter.Start(ctx, call)

	ok, err := l.store.ExpireIfEqual(ctx, l.key, []byte(token), l.leaseTTL)
	if err == nil && !ok {
		l.mu.Lock()
		l.held = false
		l.mu.Unlock()
		err = ErrNotHeld
	}

	status := "ok"
	switch {
	case stdErrors.Is(err, ErrNotHeld):
		status = "not_held"
	case err != nil:
		status = herderrors.Classify(err)
	}
	l.emitter.Finish(ctx, call, events.Result{Status: status, Err: err, Elapsed: time.Since(start)})
	return err
}

// Release frees the lock and wakes waiters. Failures are swallowed after
// logging: the lease TTL reclaims the entry if the delete never lands.
// Releasing an unheld handle is a no-op.
func (l *Lock) Release(ctx context.Context) {
	l.mu.Lock()
	held, token := l.held, l.token
	l.held = false
	l.mu.Unlock()
	if !held {
		return
	}

	call := events.Call{Key: l.key, Method: "lock.release"}
	start := time.Now()
	l.emitter.Start(ctx, call)

	status := "ok"
	deleted, err := l.store.DeleteIfEqual(ctx, l.key, []byte(token))
	if err != nil {
		status = herderrors.Classify(err)
		l.log.Printf("lock %q: release: %v", l.key, err)
	}
	if deleted && l.bus != nil {
		if err := l.bus.Publish(ctx, UnlockChannel(l.key)); err != nil {
			l.log.Printf("lock %q: release notification: %v", l.key, err)
		}
	}
	l.emitter.Finish(ctx, call, events.Result{Status: status, Err: err, Elapsed: time.Since(start)})
}
