// Package metrics exposes ledger operation counters and latencies to Prometheus.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cashflow"

var errMissingRegistry = errors.New("metrics: registry is required")

// Recorder implements ledger.Observer on top of Prometheus collectors.
type Recorder struct {
	operations *prometheus.CounterVec
	durations  *prometheus.HistogramVec
	requests   *prometheus.CounterVec
	gatherer   prometheus.Gatherer
}

// NewRecorder registers the ledger collectors on registry.
func NewRecorder(registry *prometheus.Registry) (*Recorder, error) {
	if registry == nil {
		return nil, errMissingRegistry
	}

	recorder := &Recorder{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Ledger operations by operation and outcome.",
		}, []string{"operation", "outcome"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operation_duration_seconds",
			Help:      "Ledger operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "status"}),
		gatherer: registry,
	}

	for _, collector := range []prometheus.Collector{recorder.operations, recorder.durations, recorder.requests} {
		if err := registry.Register(collector); err != nil {
			return nil, err
		}
	}
	return recorder, nil
}

// ObserveOperation counts one ledger operation and records its latency.
func (r *Recorder) ObserveOperation(operation, outcome string, duration time.Duration) {
	r.operations.WithLabelValues(operation, outcome).Inc()
	r.durations.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveRequest counts one HTTP request.
func (r *Recorder) ObserveRequest(route, status string) {
	r.requests.WithLabelValues(route, status).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}
