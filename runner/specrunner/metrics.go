// metrics.go - Prometheus-Metriken des Schedulers
//
// Enthaelt:
// - metrics: Zaehler, Histogramme und Gauges einer Server-Instanz
// - newMetrics: Registriert die Metriken an einem Registerer
package specrunner

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	iterations       prometheus.Counter
	batchTokens      prometheus.Histogram
	committedTokens  prometheus.Counter
	proposedTokens   prometheus.Counter
	acceptedTokens   prometheus.Counter
	requests         *prometheus.CounterVec
	queueDepth       prometheus.Gauge
	runningRequests  prometheus.Gauge
	evaluateDuration prometheus.Histogram
}

// newMetrics registriert alle Metriken an reg. Ein nil Registerer erzeugt
// unregistrierte Metriken.
func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		iterations: f.NewCounter(prometheus.CounterOpts{
			Name: "treeserve_iterations_total",
			Help: "Number of evaluated batches",
		}),
		batchTokens: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "treeserve_batch_tokens",
			Help:    "Tokens per evaluated batch",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		committedTokens: f.NewCounter(prometheus.CounterOpts{
			Name: "treeserve_committed_tokens_total",
			Help: "Tokens written to the KV cache",
		}),
		proposedTokens: f.NewCounter(prometheus.CounterOpts{
			Name: "treeserve_speculative_proposed_total",
			Help: "Draft tokens submitted for verification",
		}),
		acceptedTokens: f.NewCounter(prometheus.CounterOpts{
			Name: "treeserve_speculative_accepted_total",
			Help: "Draft tokens accepted by the evaluator",
		}),
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "treeserve_requests_total",
			Help: "Requests by terminal status",
		}, []string{"status"}),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "treeserve_queue_depth",
			Help: "Requests waiting for a batch slot",
		}),
		runningRequests: f.NewGauge(prometheus.GaugeOpts{
			Name: "treeserve_running_requests",
			Help: "Requests holding a batch slot",
		}),
		evaluateDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "treeserve_evaluate_duration_seconds",
			Help:    "Duration of evaluator calls",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
	}
}
