package events

import (
	"context"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu       sync.Mutex
	starts   []Call
	finishes []Result
}

func (r *recorder) HandleStart(_ context.Context, c Call) {
	r.mu.Lock()
	r.starts = append(r.starts, c)
	r.mu.Unlock()
}

func (r *recorder) HandleFinish(_ context.Context, _ Call, res Result) {
	r.mu.Lock()
	r.finishes = append(r.finishes, res)
	r.mu.Unlock()
}

func TestEmitterFanOut(t *testing.T) {
	ctx := context.Background()
	r1 := &recorder{}
	r2 := &recorder{}
	e := NewEmitter(r1, r2)

	call := Call{Key: "k", Method: "get"}
	e.Start(ctx, call)
	e.Finish(ctx, call, Result{Status: "ok", Elapsed: time.Millisecond})

	for _, r := range []*recorder{r1, r2} {
		if len(r.starts) != 1 || len(r.finishes) != 1 {
			t.Fatalf("expected 1 start and 1 finish, got %d/%d", len(r.starts), len(r.finishes))
		}
		if r.starts[0] != call {
			t.Fatalf("unexpected call %+v", r.starts[0])
		}
		if r.finishes[0].Status != "ok" {
			t.Fatalf("unexpected status %q", r.finishes[0].Status)
		}
	}
}

func TestNilEmitterIsSafe(t *testing.T) {
	var e *Emitter
	e.Subscribe(&recorder{})
	e.Start(context.Background(), Call{Key: "k", Method: "get"})
	e.Finish(context.Background(), Call{Key: "k", Method: "get"}, Result{Status: "ok"})
}

func TestSubscribeIgnoresNilHandler(t *testing.T) {
	r := &recorder{}
	e := NewEmitter(r, nil)
	e.Start(context.Background(), Call{Key: "k", Method: "set"})
	if len(r.starts) != 1 {
		t.Fatalf("expected 1 start, got %d", len(r.starts))
	}
}
