// Package events carries start/finish notifications for every public herd
// operation. Handlers observe calls; they can never alter their outcome.
package events

import (
	"context"
	"sync"
	"time"
)

// Call identifies one operation in flight: the key it touches and the
// method name ("get", "lock.acquire", "memo", ...).
type Call struct {
	Key    string
	Method string
}

// Result describes how a call ended. Status is "ok" on success, otherwise a
// short classifier such as "timeout", "contended" or "store".
type Result struct {
	Status  string
	Err     error
	Elapsed time.Duration
}

// Handler receives one HandleStart and exactly one HandleFinish per call,
// on success and failure paths alike. Implementations must be fast and must
// not panic; they run inline with the operation.
type Handler interface {
	HandleStart(ctx context.Context, c Call)
	HandleFinish(ctx context.Context, c Call, r Result)
}

// Emitter fans calls out to subscribed handlers. A nil *Emitter is valid
// and emits nothing, so components never need to nil-check.
type Emitter struct {
	mu       sync.RWMutex
	handlers []Handler
}

func NewEmitter(hs ...Handler) *Emitter {
	e := &Emitter{}
	for _, h := range hs {
		e.Subscribe(h)
	}
	return e
}

func (e *Emitter) Subscribe(h Handler) {
	if e == nil || h == nil {
		return
	}
	e.mu.Lock()
	e.handlers = append(e.handlers, h)
	e.mu.Unlock()
}

func (e *Emitter) Start(ctx context.Context, c Call) {
	if e == nil {
		return
	}
	e.mu.RLock()
	hs := e.handlers
	e.mu.RUnlock()
	for _, h := range hs {
		h.HandleStart(ctx, c)
	}
}

func (e *Emitter) Finish(ctx context.Context, c Call, r Result) {
	if e == nil {
		return
	}
	e.mu.RLock()
	hs := e.handlers
	e.mu.RUnlock()
	for _, h := range hs {
		h.HandleFinish(ctx, c, r)
	}
}
