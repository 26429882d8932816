// Package metrics exposes the coordinator's live counters over
// Prometheus, the way canonical-redis_exporter exposes Redis's own
// INFO fields. Serving is optional: Serve is only called when
// --metrics-port is nonzero.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"goredis/internal/logging"
)

var log = logging.For("metrics")

var (
	ConnectedReplicas = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "goredis",
		Name:      "connected_replicas",
		Help:      "Number of replica links currently attached to the coordinator.",
	})

	TotalWriteBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "goredis",
		Name:      "total_write_bytes",
		Help:      "Cumulative bytes propagated to replicas since startup.",
	})

	LastWriteBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "goredis",
		Name:      "last_write_bytes",
		Help:      "Size in bytes of the most recently propagated frame.",
	})

	WaitCallsServed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "goredis",
		Name:      "wait_calls_served_total",
		Help:      "Number of WAIT commands the coordinator has completed.",
	})

	KeysStored = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "goredis",
		Name:      "keys_stored",
		Help:      "Number of keys currently held by the store, expired or not.",
	})
)

func init() {
	prometheus.MustRegister(ConnectedReplicas, TotalWriteBytes, LastWriteBytes, WaitCallsServed, KeysStored)
}

// Serve starts the Prometheus HTTP endpoint on addr and blocks until it
// fails. Callers run it in its own goroutine.
func Serve(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	log.WithField("addr", addr).Info("serving metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.WithError(err).Error("metrics server stopped")
	}
}
