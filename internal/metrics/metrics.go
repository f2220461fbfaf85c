// Package metrics provides Prometheus instrumentation for the batching
// engine: batch throughput, size and wait distributions, and dispatch
// failures.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// BatchesDrained counts drained batches, labeled by chat kind.
	BatchesDrained = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wabot_batches_drained_total",
		Help: "Total number of message batches drained",
	}, []string{"kind"}) // kind = "personal", "group"

	// BatchSize records how many messages each drained batch contained.
	BatchSize = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wabot_batch_size",
		Help:    "Messages per drained batch",
		Buckets: []float64{1, 2, 3, 5, 8, 10, 15},
	}, []string{"kind"})

	// BatchWaitSeconds records the time from first message to drain.
	BatchWaitSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wabot_batch_wait_seconds",
		Help:    "Time from a batch's first message to its drain",
		Buckets: []float64{.5, 1, 2, 3, 5, 8, 13, 21, 34},
	}, []string{"kind"})

	// DispatchFailures counts turn-processor dispatch errors.
	DispatchFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wabot_dispatch_failures_total",
		Help: "Total number of failed turn dispatches",
	})

	// ActiveBatches tracks the number of chats with an open batch.
	ActiveBatches = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wabot_active_batches",
		Help: "Current number of chats with an open batch",
	})
)

func init() {
	prometheus.MustRegister(
		BatchesDrained,
		BatchSize,
		BatchWaitSeconds,
		DispatchFailures,
		ActiveBatches,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
