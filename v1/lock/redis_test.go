package lock

import (
	"context"
	stdErrors "errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"

	"github.com/mirkobrombin/go-herd/v1/kv"
	"github.com/mirkobrombin/go-herd/v1/notify"
)

func newRedisLockStore(t *testing.T) (*kv.Redis, *miniredis.Miniredis, context.Context) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return kv.NewRedis(client), mr, context.Background()
}

func TestRedisLockAcquireContendRelease(t *testing.T) {
	store, _, ctx := newRedisLockStore(t)

	a := New(store, "job")
	b := New(store, "job")

	if ok, err := a.TryAcquire(ctx); err != nil || !ok {
		t.Fatalf("a try acquire: ok=%v err=%v", ok, err)
	}
	if ok, err := b.TryAcquire(ctx); err != nil || ok {
		t.Fatalf("expected contended, got ok=%v err=%v", ok, err)
	}

	a.Release(ctx)

	if ok, err := b.TryAcquire(ctx); err != nil || !ok {
		t.Fatalf("b try acquire after release: ok=%v err=%v", ok, err)
	}
}

func TestRedisLockLeaseFreesCrashedHolder(t *testing.T) {
	store, mr, ctx := newRedisLockStore(t)

	crashed := New(store, "job")
	if ok, err := crashed.TryAcquire(ctx); err != nil || !ok {
		t.Fatalf("try acquire: ok=%v err=%v", ok, err)
	}

	// The holder never releases; the lease reclaims the entry.
	mr.FastForward(DefaultLeaseTTL + time.Second)

	next := New(store, "job")
	if ok, err := next.TryAcquire(ctx); err != nil || !ok {
		t.Fatalf("try acquire after lease expiry: ok=%v err=%v", ok, err)
	}
}

func TestRedisLockRenewExtendsLease(t *testing.T) {
	store, mr, ctx := newRedisLockStore(t)

	l := New(store, "job")
	if ok, err := l.TryAcquire(ctx); err != nil || !ok {
		t.Fatalf("try acquire: ok=%v err=%v", ok, err)
	}

	mr.FastForward(6 * time.Second)
	if err := l.Renew(ctx); err != nil {
		t.Fatalf("renew: %v", err)
	}

	// Past the original expiry, inside the renewed lease.
	mr.FastForward(6 * time.Second)
	other := New(store, "job")
	if ok, err := other.TryAcquire(ctx); err != nil || ok {
		t.Fatalf("expected still held, got ok=%v err=%v", ok, err)
	}

	mr.FastForward(5 * time.Second)
	if ok, err := other.TryAcquire(ctx); err != nil || !ok {
		t.Fatalf("try acquire after renewed lease expiry: ok=%v err=%v", ok, err)
	}
}

func TestRedisLockRenewAfterExpiry(t *testing.T) {
	store, mr, ctx := newRedisLockStore(t)

	l := New(store, "job")
	if ok, err := l.TryAcquire(ctx); err != nil || !ok {
		t.Fatalf("try acquire: ok=%v err=%v", ok, err)
	}

	mr.FastForward(DefaultLeaseTTL + time.Second)

	if err := l.Renew(ctx); !stdErrors.Is(err, ErrNotHeld) {
		t.Fatalf("expected ErrNotHeld got %v", err)
	}
	if l.Held() {
		t.Fatal("expected held cleared")
	}
}

func TestRedisLockStaleReleaseKeepsNewHolder(t *testing.T) {
	store, mr, ctx := newRedisLockStore(t)

	a := New(store, "job")
	if ok, err := a.TryAcquire(ctx); err != nil || !ok {
		t.Fatalf("a try acquire: ok=%v err=%v", ok, err)
	}

	mr.FastForward(DefaultLeaseTTL + time.Second)

	b := New(store, "job")
	if ok, err := b.TryAcquire(ctx); err != nil || !ok {
		t.Fatalf("b try acquire: ok=%v err=%v", ok, err)
	}

	a.Release(ctx)

	if err := b.Renew(ctx); err != nil {
		t.Fatalf("b renew after stale release: %v", err)
	}
}

func TestRedisLockReleaseWakesWaiter(t *testing.T) {
	store, mr, ctx := newRedisLockStore(t)

	// Bus on the same miniredis as the store.
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bus := notify.NewRedisBus(client)
	t.Cleanup(func() {
		_ = bus.Close()
		_ = client.Close()
	})

	holder := New(store, "job", WithBus(bus))
	if ok, err := holder.TryAcquire(ctx); err != nil || !ok {
		t.Fatalf("holder try acquire: ok=%v err=%v", ok, err)
	}

	waiter := New(store, "job", WithBus(bus), WithBackoff(10*time.Second, 10*time.Second))
	done := make(chan error, 1)
	go func() { done <- waiter.Acquire(ctx) }()

	time.Sleep(150 * time.Millisecond)
	holder.Release(ctx)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("waiter acquire: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter not woken by release")
	}
}
