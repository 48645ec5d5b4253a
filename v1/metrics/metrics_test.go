package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mirkobrombin/go-herd/v1/events"
)

func gatherValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			match := true
			for k, v := range labels {
				found := false
				for _, lp := range m.GetLabel() {
					if lp.GetName() == k && lp.GetValue() == v {
						found = true
						break
					}
				}
				if !found {
					match = false
					break
				}
			}
			if !match {
				continue
			}
			if c := m.GetCounter(); c != nil {
				return c.GetValue()
			}
			if g := m.GetGauge(); g != nil {
				return g.GetValue()
			}
			if h := m.GetHistogram(); h != nil {
				return float64(h.GetSampleCount())
			}
		}
	}
	return 0
}

func TestRegisterCoreMetrics(t *testing.T) {
	reg := NewRegistry()
	RegisterCoreMetrics(reg)
	OpsCounter.WithLabelValues("get", "ok").Inc()
	ContentionCounter.Inc()
	OpDuration.WithLabelValues("get").Observe(0.01)
	InFlightGauge.Set(0)
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(mfs) < 4 {
		t.Fatalf("expected metrics registered")
	}
}

func TestRegisterCoreMetricsDuplicatePanics(t *testing.T) {
	reg := NewRegistry()
	RegisterCoreMetrics(reg)
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	RegisterCoreMetrics(reg)
}

func TestObserverCountsOperations(t *testing.T) {
	reg := NewRegistry()
	RegisterCoreMetrics(reg)
	ctx := context.Background()

	em := events.NewEmitter(Observer{})
	call := events.Call{Key: "jobs/1", Method: "get"}

	opsBefore := gatherValue(t, reg, "herd_ops_total", map[string]string{"method": "get", "status": "ok"})
	durBefore := gatherValue(t, reg, "herd_op_duration_seconds", map[string]string{"method": "get"})
	flightBefore := gatherValue(t, reg, "herd_ops_in_flight", nil)

	em.Start(ctx, call)
	if got := gatherValue(t, reg, "herd_ops_in_flight", nil); got != flightBefore+1 {
		t.Fatalf("in flight = %v want %v", got, flightBefore+1)
	}

	em.Finish(ctx, call, events.Result{Status: "ok", Elapsed: 10 * time.Millisecond})
	if got := gatherValue(t, reg, "herd_ops_in_flight", nil); got != flightBefore {
		t.Fatalf("in flight after finish = %v want %v", got, flightBefore)
	}
	if got := gatherValue(t, reg, "herd_ops_total", map[string]string{"method": "get", "status": "ok"}); got != opsBefore+1 {
		t.Fatalf("ops total = %v want %v", got, opsBefore+1)
	}
	if got := gatherValue(t, reg, "herd_op_duration_seconds", map[string]string{"method": "get"}); got != durBefore+1 {
		t.Fatalf("duration samples = %v want %v", got, durBefore+1)
	}
}

func TestObserverCountsContention(t *testing.T) {
	reg := NewRegistry()
	RegisterCoreMetrics(reg)
	ctx := context.Background()

	em := events.NewEmitter(Observer{})
	call := events.Call{Key: "jobs/1", Method: "lock.try"}

	before := gatherValue(t, reg, "herd_lock_contention_total", nil)
	em.Start(ctx, call)
	em.Finish(ctx, call, events.Result{Status: "contended", Elapsed: time.Millisecond})
	em.Start(ctx, call)
	em.Finish(ctx, call, events.Result{Status: "held", Elapsed: time.Millisecond})

	if got := gatherValue(t, reg, "herd_lock_contention_total", nil); got != before+1 {
		t.Fatalf("contention total = %v want %v", got, before+1)
	}
}
