package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jamiealquiza/envy"
	redis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/mirkobrombin/go-herd/v1/kv"
	"github.com/mirkobrombin/go-herd/v1/lock"
	"github.com/mirkobrombin/go-herd/v1/memo"
	"github.com/mirkobrombin/go-herd/v1/notify"
)

var (
	mode        = flag.String("mode", "lock", "Benchmark mode: [lock, memo, kv]")
	concurrency = flag.Int("c", 50, "Number of concurrent workers")
	requests    = flag.Int("n", 10000, "Total number of operations")
	key         = flag.String("key", "bench", "Base key")
	redisAddr   = flag.String("redis-addr", "", "Redis address (empty runs in-memory)")
	lease       = flag.Duration("lease", lock.DefaultLeaseTTL, "Lock lease lifetime")
	maxWait     = flag.Duration("max-wait", lock.DefaultMaxWait, "Lock wait budget")
	ttl         = flag.Duration("ttl", time.Hour, "Lifetime of bench values")
	work        = flag.Duration("work", 5*time.Millisecond, "Simulated computation time (memo mode)")
	dataSize    = flag.Int("d", 256, "Value size in bytes")
)

type counters struct {
	ops      int64
	errors   int64
	timeouts int64

	hitBefore int64
	hitAfter  int64
	computed  int64
	notCached int64
}

func main() {
	envy.Parse("HERD_BENCH")
	flag.Parse()

	store, bus := buildBackend()
	defer store.Close()

	ctx := context.Background()
	var c counters

	var op func(i int)
	switch *mode {
	case "lock":
		op = lockOp(ctx, store, bus, &c)
	case "memo":
		eng := memo.New[string](store,
			memo.WithBus(bus),
			memo.WithLeaseTTL(*lease),
			memo.WithMaxWait(*maxWait),
			memo.WithTTL(*ttl),
		)
		op = memoOp(ctx, eng, strings.Repeat("x", *dataSize), &c)
	case "kv":
		val := []byte(strings.Repeat("x", *dataSize))
		if err := store.Set(ctx, *key, val, *ttl); err != nil {
			log.Fatalf("Setup failed: %v", err)
		}
		op = kvOp(ctx, store, &c)
	default:
		log.Fatalf("unknown mode %q (want lock, memo or kv)", *mode)
	}

	log.Printf("Starting benchmark: mode=%s, %d ops, %d workers", *mode, *requests, *concurrency)

	g := new(errgroup.Group)
	g.SetLimit(*concurrency)

	start := time.Now()
	for i := 0; i < *requests; i++ {
		g.Go(func() error {
			op(i)
			return nil
		})
	}
	_ = g.Wait()
	elapsed := time.Since(start)

	log.Printf("Finished in %v", elapsed)
	log.Printf("Throughput: %.2f op/s", float64(c.ops)/elapsed.Seconds())
	log.Printf("Avg Latency: %.3f ms", elapsed.Seconds()/float64(c.ops)*1e3)
	if c.errors > 0 {
		log.Printf("Errors: %d (%d lock timeouts)", c.errors, c.timeouts)
	}
	if *mode == "memo" {
		log.Printf("Outcomes: %d hit_before_lock, %d hit_after_lock, %d computed, %d not_cached",
			c.hitBefore, c.hitAfter, c.computed, c.notCached)
	}
}

func buildBackend() (kv.Store, notify.Bus) {
	if *redisAddr == "" {
		return kv.NewMemory(), notify.NewInMemoryBus()
	}
	rdb := redis.NewClient(&redis.Options{Addr: *redisAddr})
	return kv.NewRedis(rdb), notify.NewRedisBus(rdb)
}

func lockOp(ctx context.Context, store kv.Store, bus notify.Bus, c *counters) func(int) {
	return func(int) {
		lk := lock.New(store, *key+"-lock",
			lock.WithBus(bus),
			lock.WithLeaseTTL(*lease),
			lock.WithMaxWait(*maxWait),
		)
		if err := lk.Acquire(ctx); err != nil {
			atomic.AddInt64(&c.errors, 1)
			var te *lock.TimeoutError
			if errors.As(err, &te) {
				atomic.AddInt64(&c.timeouts, 1)
			}
		} else {
			lk.Release(ctx)
		}
		atomic.AddInt64(&c.ops, 1)
	}
}

func memoOp(ctx context.Context, eng *memo.Engine[string], payload string, c *counters) func(int) {
	return func(i int) {
		// one key per wave of workers, so every wave races a fresh computation
		k := fmt.Sprintf("%s-%d", *key, i/(*concurrency))
		_, outcome, err := eng.Do(ctx, k, func(ctx context.Context) (string, error) {
			time.Sleep(*work)
			return payload, nil
		})
		if err != nil {
			atomic.AddInt64(&c.errors, 1)
		} else {
			switch outcome {
			case memo.HitBeforeLock:
				atomic.AddInt64(&c.hitBefore, 1)
			case memo.HitAfterLock:
				atomic.AddInt64(&c.hitAfter, 1)
			case memo.Computed:
				atomic.AddInt64(&c.computed, 1)
			case memo.NotCached:
				atomic.AddInt64(&c.notCached, 1)
			}
		}
		atomic.AddInt64(&c.ops, 1)
	}
}

func kvOp(ctx context.Context, store kv.Store, c *counters) func(int) {
	return func(int) {
		_, ok, err := store.Get(ctx, *key)
		if err != nil || !ok {
			atomic.AddInt64(&c.errors, 1)
		}
		atomic.AddInt64(&c.ops, 1)
	}
}
