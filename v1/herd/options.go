package herd

import (
	"time"

	"github.com/mirkobrombin/go-herd/v1/events"
	"github.com/mirkobrombin/go-herd/v1/kv"
	"github.com/mirkobrombin/go-herd/v1/logging"
	"github.com/mirkobrombin/go-herd/v1/notify"
)

// Option configures a Client.
type Option func(*Client)

// WithCodec sets the codec values are stored with. JSON is the default.
func WithCodec(c kv.Codec) Option {
	return func(cl *Client) {
		if c != nil {
			cl.codec = c
		}
	}
}

// WithBus wires release notifications for locks and memoized computations.
func WithBus(b notify.Bus) Option {
	return func(cl *Client) { cl.bus = b }
}

// WithHandler subscribes an instrumentation handler to every operation of
// this client.
func WithHandler(h events.Handler) Option {
	return func(cl *Client) { cl.emitter.Subscribe(h) }
}

// WithLogger sets the diagnostics sink.
func WithLogger(l logging.Logger) Option {
	return func(cl *Client) { cl.log = logging.OrNop(l) }
}

// WithNamespace prefixes every key this client touches with ns + "/".
func WithNamespace(ns string) Option {
	return func(cl *Client) { cl.namespace = ns }
}

// WithTracing enables OpenTelemetry spans around operations.
func WithTracing() Option {
	return func(cl *Client) { cl.tracing = true }
}

// WithLeaseTTL sets the default lock lease for AcquireLock and Memoize.
func WithLeaseTTL(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.leaseTTL = d
		}
	}
}

// WithMaxWait sets the default wait budget for AcquireLock and Memoize.
func WithMaxWait(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.maxWait = d
		}
	}
}

// WithMemoTTL sets the default lifetime of memoized results.
func WithMemoTTL(d time.Duration) Option {
	return func(cl *Client) {
		if d >= 0 {
			cl.memoTTL = d
		}
	}
}
