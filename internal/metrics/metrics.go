// Package metrics provides Prometheus instrumentation for the gateway.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "botgate"

var (
	// AdmissionsTotal counts front door decisions.
	AdmissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "admissions_total",
		Help:      "Admission decisions by verdict and threat level.",
	}, []string{"verdict", "threat"})

	AdmissionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "admission_duration_seconds",
		Help:      "Time spent in the admission pipeline.",
		Buckets:   []float64{0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01},
	})

	AutoBlocksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "auto_blocks_total",
		Help:      "Sources blocked automatically, by cause.",
	}, []string{"cause"}) // "rate_limit", "spike"

	SpikesObservedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "spikes_observed_total",
		Help:      "Requests that hit the burst threshold without blocking.",
	})

	ManualCommandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "manual_commands_total",
		Help:      "Operator block/unblock commands by result.",
	}, []string{"command", "result"})

	EstimatorFallbacksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "estimator_fallbacks_total",
		Help:      "Requests scored without the estimator.",
	})

	TrackedSources = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tracked_sources",
		Help:      "Sources currently held by the tracker.",
	})

	BlockedSources = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "blocked_sources",
		Help:      "Current blocklist size.",
	})

	PersistFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "persist_failures_total",
		Help:      "Failed flushes to the backing store.",
	}, []string{"kind"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})
)

func init() {
	prometheus.MustRegister(
		AdmissionsTotal,
		AdmissionDuration,
		AutoBlocksTotal,
		SpikesObservedTotal,
		ManualCommandsTotal,
		EstimatorFallbacksTotal,
		TrackedSources,
		BlockedSources,
		PersistFailuresTotal,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTP records one finished HTTP request. route should be a bounded
// label such as "api" or "front_door", never the raw path.
func ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
