// Package presets wires the usual herd deployments in one call.
package presets

import (
	redis "github.com/redis/go-redis/v9"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mirkobrombin/go-herd/v1/herd"
	"github.com/mirkobrombin/go-herd/v1/kv"
	"github.com/mirkobrombin/go-herd/v1/metrics"
	"github.com/mirkobrombin/go-herd/v1/notify"
)

// RedisOptions configures the connection to Redis.
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	Namespace string
	// Registry receives the core metrics when set.
	Registry prometheus.Registerer
}

// NewRedis creates a Client that uses Redis as both the store and the
// release-notification bus. One connection pool serves both roles.
func NewRedis(opts RedisOptions, extra ...herd.Option) (*herd.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	store := kv.NewRedis(client)
	bus := notify.NewRedisBus(client)

	base := []herd.Option{
		herd.WithBus(bus),
		herd.WithNamespace(opts.Namespace),
	}
	if opts.Registry != nil {
		metrics.RegisterCoreMetrics(opts.Registry)
		base = append(base, herd.WithHandler(metrics.Observer{}))
	}
	return herd.New(store, append(base, extra...)...)
}

// NewStandalone creates a Client that runs entirely in-memory with no
// external dependencies. Useful for local development and tests.
func NewStandalone(extra ...herd.Option) (*herd.Client, error) {
	store := kv.NewMemory()
	bus := notify.NewInMemoryBus()
	return herd.New(store, append([]herd.Option{herd.WithBus(bus)}, extra...)...)
}
