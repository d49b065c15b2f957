// Package instrumentation exposes the service's prometheus metrics.
package instrumentation

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "signalbeam",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by method, route and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	TickDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "signalbeam",
		Subsystem: "worker",
		Name:      "tick_duration_seconds",
		Help:      "Periodic worker tick latency by worker name.",
		Buckets:   []float64{.01, .05, .1, .5, 1, 5, 15, 60},
	}, []string{"worker"})

	TickErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signalbeam",
		Subsystem: "worker",
		Name:      "tick_errors_total",
		Help:      "Periodic worker tick failures by worker name.",
	}, []string{"worker"})

	RolloutsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "signalbeam",
		Subsystem: "rollout",
		Name:      "in_flight",
		Help:      "Number of rollouts currently in progress.",
	})

	DevicesOnline = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "signalbeam",
		Subsystem: "devices",
		Name:      "online",
		Help:      "Online devices by tenant.",
	}, []string{"tenant"})

	AuthFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signalbeam",
		Subsystem: "auth",
		Name:      "failures_total",
		Help:      "Authentication failures by reason.",
	}, []string{"reason"})
)

// Handler serves the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveTick times one worker tick and counts its failure.
func ObserveTick(worker string, started time.Time, err error) {
	TickDuration.WithLabelValues(worker).Observe(time.Since(started).Seconds())
	if err != nil {
		TickErrors.WithLabelValues(worker).Inc()
	}
}

// ObserveRequest records one served HTTP request.
func ObserveRequest(method, route string, status int, started time.Time) {
	HTTPRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).
		Observe(time.Since(started).Seconds())
}
