package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mirkobrombin/go-herd/v1/events"
)

var (
	// OpsCounter tracks finished operations by method and status.
	OpsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "herd_ops_total",
		Help: "Total number of finished operations by method and status",
	}, []string{"method", "status"})
	// ContentionCounter tracks lock attempts that found the lock held.
	ContentionCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "herd_lock_contention_total",
		Help: "Total number of lock attempts that found the lock held",
	})
	// OpDuration observes operation latency by method.
	OpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "herd_op_duration_seconds",
		Help:    "Latency of finished operations by method",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})
	// InFlightGauge reports operations currently running.
	InFlightGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "herd_ops_in_flight",
		Help: "Current number of operations in flight",
	})
)

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// RegisterCoreMetrics registers herd core metrics on the provided registry.
func RegisterCoreMetrics(reg prometheus.Registerer) {
	reg.MustRegister(OpsCounter, ContentionCounter, OpDuration, InFlightGauge)
}

// Observer bridges instrumentation events into the collectors. Subscribe
// it to an events.Emitter to meter every herd operation.
type Observer struct{}

// HandleStart implements events.Handler.
func (Observer) HandleStart(ctx context.Context, c events.Call) {
	InFlightGauge.Inc()
}

// HandleFinish implements events.Handler.
func (Observer) HandleFinish(ctx context.Context, c events.Call, r events.Result) {
	InFlightGauge.Dec()
	OpsCounter.WithLabelValues(c.Method, r.Status).Inc()
	OpDuration.WithLabelValues(c.Method).Observe(r.Elapsed.Seconds())
	if c.Method == "lock.try" && r.Status == "contended" {
		ContentionCounter.Inc()
	}
}
