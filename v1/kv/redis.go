package kv

import (
	"context"
	stdErrors "errors"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	herderrors "github.com/mirkobrombin/go-herd/v1/errors"
)

const defaultRedisOpTimeout = 5 * time.Second

var delIfEqualScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
else
    return 0
end
`)

var expireIfEqualScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
    return 0
end
`)

// Redis implements Store using a Redis backend.
type Redis struct {
	client  *redis.Client
	timeout time.Duration
}

// RedisOption configures a Redis store.
type RedisOption func(*redisOptions)

type redisOptions struct {
	timeout time.Duration
}

// WithTimeout sets the operation timeout for Redis calls.
func WithTimeout(d time.Duration) RedisOption {
	return func(o *redisOptions) {
		o.timeout = d
	}
}

// NewRedis returns a new Redis store using the provided client.
func NewRedis(client *redis.Client, opts ...RedisOption) *Redis {
	o := redisOptions{timeout: defaultRedisOpTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	return &Redis{client: client, timeout: o.timeout}
}

// wrap classifies a Redis failure. Key absence never reaches it.
func wrap(op, key string, err error) error {
	switch {
	case err == nil:
		return nil
	case stdErrors.Is(err, context.DeadlineExceeded):
		return herderrors.ErrTimeout
	case stdErrors.Is(err, redis.ErrClosed):
		return herderrors.ErrConnectionClosed
	case stdErrors.Is(err, context.Canceled):
		return err
	}
	return &herderrors.StoreError{Op: op, Key: key, Err: err}
}

// Get implements Store.Get.
func (s *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, wrap("get", key, err)
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	data, err := s.client.Get(cctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, wrap("get", key, err)
	}
	return data, true, nil
}

// List implements Store.List using SCAN to iterate over keys and MGET to
// fetch values in batches.
func (s *Redis) List(ctx context.Context, prefix string) (map[string][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrap("list", prefix, err)
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	match := "*"
	if prefix != "" {
		match = prefix + "*"
	}
	var cursor uint64
	var keys []string
	for {
		batch, next, err := s.client.Scan(cctx, cursor, match, 100).Result()
		if err != nil {
			return nil, wrap("list", prefix, err)
		}
		for _, k := range batch {
			if prefix == "" || k == prefix || strings.HasPrefix(k, prefix+"/") {
				keys = append(keys, k)
			}
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	out := make(map[string][]byte, len(keys))
	for i := 0; i < len(keys); i += 100 {
		end := i + 100
		if end > len(keys) {
			end = len(keys)
		}
		vals, err := s.client.MGet(cctx, keys[i:end]...).Result()
		if err != nil {
			return nil, wrap("list", prefix, err)
		}
		for j, v := range vals {
			str, ok := v.(string)
			if !ok {
				// expired between SCAN and MGET
				continue
			}
			out[keys[i+j]] = []byte(str)
		}
	}
	return out, nil
}

// Set implements Store.Set.
func (s *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return wrap("set", key, err)
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.client.Set(cctx, key, value, ttl).Err(); err != nil {
		return wrap("set", key, err)
	}
	return nil
}

// SetIfAbsent implements Store.SetIfAbsent using SET NX.
func (s *Redis) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, wrap("setnx", key, err)
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	ok, err := s.client.SetNX(cctx, key, value, ttl).Result()
	if err != nil {
		return false, wrap("setnx", key, err)
	}
	return ok, nil
}

// Delete implements Store.Delete.
func (s *Redis) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return wrap("del", key, err)
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.client.Del(cctx, key).Err(); err != nil {
		return wrap("del", key, err)
	}
	return nil
}

// DeleteIfEqual implements Store.DeleteIfEqual through a Lua script so the
// compare and the delete are one atomic step.
func (s *Redis) DeleteIfEqual(ctx context.Context, key string, expect []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, wrap("del", key, err)
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	n, err := delIfEqualScript.Run(cctx, s.client, []string{key}, expect).Int()
	if err != nil {
		return false, wrap("del", key, err)
	}
	return n == 1, nil
}

// ExpireIfEqual implements Store.ExpireIfEqual through a Lua script so the
// compare and the PEXPIRE are one atomic step.
func (s *Redis) ExpireIfEqual(ctx context.Context, key string, expect []byte, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, wrap("expire", key, err)
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	n, err := expireIfEqualScript.Run(cctx, s.client, []string{key}, expect, ttl.Milliseconds()).Int()
	if err != nil {
		return false, wrap("expire", key, err)
	}
	return n == 1, nil
}

// Close implements Store.Close.
func (s *Redis) Close() error { return s.client.Close() }
