package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"

	sarama "github.com/IBM/sarama"
	nats "github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"

	"github.com/mirkobrombin/go-herd/v1/metrics"
	"github.com/mirkobrombin/go-herd/v1/notify"
)

var (
	listen     = flag.String("listen", ":8787", "Address to serve on")
	backend    = flag.String("backend", "redis", "Bus backend: [redis, nats, kafka]")
	redisAddr  = flag.String("redis-addr", "localhost:6379", "Redis address")
	natsURL    = flag.String("nats-url", nats.DefaultURL, "NATS server URL")
	kafkaAddrs = flag.String("kafka-addrs", "localhost:9092", "Kafka broker list (comma-separated)")
)

func main() {
	flag.Parse()

	bus, err := buildBus()
	if err != nil {
		log.Fatalf("failed to connect bus: %v", err)
	}

	reg := metrics.NewRegistry()
	registerBusMetrics(reg, bus)

	mux := http.NewServeMux()
	mux.Handle("/events", notify.SSEHandler(bus))
	mux.Handle("/ws", notify.WebSocketHandler(bus))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	log.Printf("herd-watch listening on %s (backend=%s)", *listen, *backend)
	log.Fatal(http.ListenAndServe(*listen, mux))
}

func buildBus() (notify.Bus, error) {
	switch *backend {
	case "redis":
		return notify.NewRedisBus(redis.NewClient(&redis.Options{Addr: *redisAddr})), nil
	case "nats":
		conn, err := nats.Connect(*natsURL)
		if err != nil {
			return nil, err
		}
		return notify.NewNATSBus(conn), nil
	case "kafka":
		return notify.NewKafkaBus(strings.Split(*kafkaAddrs, ","), sarama.NewConfig())
	}
	return nil, fmt.Errorf("unknown backend %q (want redis, nats or kafka)", *backend)
}

// registerBusMetrics exposes the bus delivery counters of this process.
func registerBusMetrics(reg prometheus.Registerer, bus notify.Bus) {
	m, ok := bus.(interface{ Metrics() notify.Metrics })
	if !ok {
		return
	}
	reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "herd_watch_published_total",
		Help: "Signals published through the watched bus by this process",
	}, func() float64 { return float64(m.Metrics().Published) }))
	reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "herd_watch_delivered_total",
		Help: "Signals delivered to watchers of this process",
	}, func() float64 { return float64(m.Metrics().Delivered) }))
}
