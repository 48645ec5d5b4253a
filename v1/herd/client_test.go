package herd_test

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mirkobrombin/go-herd/v1/events"
	"github.com/mirkobrombin/go-herd/v1/herd"
	"github.com/mirkobrombin/go-herd/v1/kv"
	"github.com/mirkobrombin/go-herd/v1/memo"
	"github.com/mirkobrombin/go-herd/v1/notify"
)

type opRecorder struct {
	mu       sync.Mutex
	starts   int
	keys     map[string][]string // method -> keys
	statuses map[string][]string // method -> statuses
}

func newOpRecorder() *opRecorder {
	return &opRecorder{
		keys:     make(map[string][]string),
		statuses: make(map[string][]string),
	}
}

func (r *opRecorder) HandleStart(_ context.Context, c events.Call) {
	r.mu.Lock()
	r.starts++
	r.mu.Unlock()
}

func (r *opRecorder) HandleFinish(_ context.Context, c events.Call, res events.Result) {
	r.mu.Lock()
	r.keys[c.Method] = append(r.keys[c.Method], c.Key)
	r.statuses[c.Method] = append(r.statuses[c.Method], res.Status)
	r.mu.Unlock()
}

func (r *opRecorder) count(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.statuses[method])
}

func TestClientSetGetDelete(t *testing.T) {
	c, err := herd.New(kv.NewMemory())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx := context.Background()

	value := map[string]any{
		"enabled": true,
		"count":   float64(3),
		"name":    "four",
		"ports":   []any{float64(1), float64(2), float64(3)},
	}
	if err := c.Set(ctx, "app/config", value); err != nil {
		t.Fatalf("set: %v", err)
	}

	var out map[string]any
	found, err := c.Get(ctx, "app/config", &out)
	if err != nil || !found {
		t.Fatalf("get: found=%v err=%v", found, err)
	}
	if !reflect.DeepEqual(out, value) {
		t.Fatalf("got %#v want %#v", out, value)
	}

	// Existence probe without decoding.
	if found, err := c.Get(ctx, "app/config", nil); err != nil || !found {
		t.Fatalf("get nil out: found=%v err=%v", found, err)
	}

	if found, err := c.Get(ctx, "absent", &out); err != nil || found {
		t.Fatalf("absent get: found=%v err=%v", found, err)
	}

	if err := c.Delete(ctx, "app/config"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if found, _ := c.Get(ctx, "app/config", nil); found {
		t.Fatal("entry survived delete")
	}
	if err := c.Delete(ctx, "app/config"); err != nil {
		t.Fatalf("delete absent: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestClientSetWithTTL(t *testing.T) {
	c, err := herd.New(kv.NewMemory())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx := context.Background()

	if err := c.Set(ctx, "session", "tok", herd.WithTTL(30*time.Millisecond)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if found, _ := c.Get(ctx, "session", nil); !found {
		t.Fatal("entry missing before expiry")
	}
	time.Sleep(80 * time.Millisecond)
	if found, _ := c.Get(ctx, "session", nil); found {
		t.Fatal("entry survived its ttl")
	}
}

func TestClientNamespace(t *testing.T) {
	store := kv.NewMemory()
	ctx := context.Background()

	alpha, err := herd.New(store, herd.WithNamespace("alpha"))
	if err != nil {
		t.Fatalf("new alpha: %v", err)
	}
	beta, err := herd.New(store, herd.WithNamespace("beta"))
	if err != nil {
		t.Fatalf("new beta: %v", err)
	}

	if err := alpha.Set(ctx, "cfg", "x"); err != nil {
		t.Fatalf("set: %v", err)
	}

	// The raw store sees the prefixed key.
	if _, ok, err := store.Get(ctx, "alpha/cfg"); err != nil || !ok {
		t.Fatalf("raw get: ok=%v err=%v", ok, err)
	}

	if found, _ := beta.Get(ctx, "cfg", nil); found {
		t.Fatal("namespaces leaked")
	}
	var v string
	if found, err := alpha.Get(ctx, "cfg", &v); err != nil || !found || v != "x" {
		t.Fatalf("alpha get: found=%v v=%q err=%v", found, v, err)
	}
}

func TestClientGetTree(t *testing.T) {
	c, err := herd.New(kv.NewMemory())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx := context.Background()

	for key, v := range map[string]any{
		"app":         "root",
		"app/db/host": "localhost",
		"app/db/port": 5432,
		"app/name":    "svc",
		"apple":       "fruit",
	} {
		if err := c.Set(ctx, key, v); err != nil {
			t.Fatalf("set %s: %v", key, err)
		}
	}

	tree, found, err := c.GetTree(ctx, "app")
	if err != nil || !found {
		t.Fatalf("tree: found=%v err=%v", found, err)
	}
	want := map[string]any{
		"db": map[string]any{
			"host": "localhost",
			"port": float64(5432),
		},
		"name": "svc",
	}
	if !reflect.DeepEqual(tree, want) {
		t.Fatalf("got %#v want %#v", tree, want)
	}

	if _, found, err := c.GetTree(ctx, "missing"); err != nil || found {
		t.Fatalf("missing tree: found=%v err=%v", found, err)
	}
}

func TestClientEventsPerOperation(t *testing.T) {
	rec := newOpRecorder()
	c, err := herd.New(kv.NewMemory(), herd.WithHandler(rec))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx := context.Background()

	var out map[string]any
	if _, err := c.Get(ctx, "absent", &out); err != nil {
		t.Fatalf("get absent: %v", err)
	}
	if err := c.Set(ctx, "config", map[string]any{"on": true}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := c.Get(ctx, "config", &out); err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, _, err := c.GetTree(ctx, "config"); err != nil {
		t.Fatalf("tree: %v", err)
	}
	if err := c.Delete(ctx, "config"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, _, err := c.Memoize(ctx, "job", func(context.Context) (any, error) {
		return "done", nil
	}); err != nil {
		t.Fatalf("memoize: %v", err)
	}
	lk, err := c.AcquireLock(ctx, "leader")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	lk.Release(ctx)

	// A failed decode still finishes its event.
	if err := c.Set(ctx, "str", "text"); err != nil {
		t.Fatalf("set str: %v", err)
	}
	var n int
	if _, err := c.Get(ctx, "str", &n); err == nil {
		t.Fatal("expected decode error")
	}

	wantCounts := map[string]int{
		"get":          3,
		"set":          2,
		"tree":         1,
		"delete":       1,
		"memo":         1,
		"lock.acquire": 2, // one direct, one inside memoize
		"lock.try":     2,
		"lock.release": 2,
	}
	total := 0
	for method, want := range wantCounts {
		if got := rec.count(method); got != want {
			t.Fatalf("%s events = %d want %d", method, got, want)
		}
		total += want
	}
	rec.mu.Lock()
	starts := rec.starts
	var statuses []string
	statuses = append(statuses, rec.statuses["get"]...)
	rec.mu.Unlock()
	if starts != total {
		t.Fatalf("starts %d != finishes %d", starts, total)
	}
	if last := statuses[len(statuses)-1]; last == "ok" {
		t.Fatalf("decode failure reported status %q", last)
	}
}

func TestClientMemoizeSingleFlightAcrossClients(t *testing.T) {
	store := kv.NewMemory()
	bus := notify.NewInMemoryBus()
	ctx := context.Background()

	newClient := func() *herd.Client {
		t.Helper()
		c, err := herd.New(store, herd.WithBus(bus))
		if err != nil {
			t.Fatalf("new client: %v", err)
		}
		return c
	}
	first, second := newClient(), newClient()
	if first.ID() == second.ID() {
		t.Fatal("client ids must differ")
	}

	var calls int64
	fn := func(context.Context) (any, error) {
		atomic.AddInt64(&calls, 1)
		time.Sleep(80 * time.Millisecond)
		return "report", nil
	}

	type result struct {
		v       any
		outcome memo.Outcome
		err     error
	}
	const perClient = 5
	results := make(chan result, 2*perClient)
	var wg sync.WaitGroup
	for _, c := range []*herd.Client{first, second} {
		for i := 0; i < perClient; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				v, outcome, err := c.Memoize(ctx, "daily", fn)
				results <- result{v, outcome, err}
			}()
		}
	}
	wg.Wait()
	close(results)

	var computed int
	for r := range results {
		if r.err != nil {
			t.Fatalf("memoize: %v", r.err)
		}
		if r.v != "report" {
			t.Fatalf("got %v", r.v)
		}
		if r.outcome == memo.Computed {
			computed++
		}
	}
	if computed != 1 {
		t.Fatalf("expected exactly one computed, got %d", computed)
	}
	if n := atomic.LoadInt64(&calls); n != 1 {
		t.Fatalf("computation ran %d times", n)
	}
}

func TestClientLockAcrossClients(t *testing.T) {
	store := kv.NewMemory()
	bus := notify.NewInMemoryBus()
	ctx := context.Background()

	first, err := herd.New(store, herd.WithBus(bus))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	second, err := herd.New(store, herd.WithBus(bus))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	held, err := first.AcquireLock(ctx, "leader")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	if ok, err := second.NewLock("leader").TryAcquire(ctx); err != nil || ok {
		t.Fatalf("expected contended, got ok=%v err=%v", ok, err)
	}

	held.Release(ctx)

	if ok, err := second.NewLock("leader").TryAcquire(ctx); err != nil || !ok {
		t.Fatalf("try acquire after release: ok=%v err=%v", ok, err)
	}
}

func TestClientLockUsesNamespace(t *testing.T) {
	store := kv.NewMemory()
	ctx := context.Background()

	c, err := herd.New(store, herd.WithNamespace("team"))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	lk := c.NewLock("job")
	if ok, err := lk.TryAcquire(ctx); err != nil || !ok {
		t.Fatalf("try acquire: ok=%v err=%v", ok, err)
	}
	defer lk.Release(ctx)

	if _, ok, err := store.Get(ctx, "team/job"); err != nil || !ok {
		t.Fatalf("raw lock entry: ok=%v err=%v", ok, err)
	}
}

func TestClientCustomCodec(t *testing.T) {
	type payload struct {
		Name  string
		Count int
	}
	c, err := herd.New(kv.NewMemory(), herd.WithCodec(kv.GobCodec{}))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx := context.Background()

	want := payload{Name: "beta", Count: 7}
	if err := c.Set(ctx, "obj", want); err != nil {
		t.Fatalf("set: %v", err)
	}
	var got payload
	if found, err := c.Get(ctx, "obj", &got); err != nil || !found {
		t.Fatalf("get: found=%v err=%v", found, err)
	}
	if got != want {
		t.Fatalf("got %+v want %+v", got, want)
	}
}
