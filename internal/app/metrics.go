package app

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	mutationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voxium_mutations_total",
		Help: "State changing operations, by operation and outcome.",
	}, []string{"operation", "outcome"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voxium_http_request_duration_seconds",
		Help:    "HTTP request latency, by method and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "status"})
)

func init() {
	prometheus.MustRegister(mutationsTotal, httpDuration)
}

// recordMutation is deferred by every mutation with a pointer to its error.
func recordMutation(operation string, err *error) {
	mutationsTotal.WithLabelValues(operation, outcome(*err)).Inc()
}

func observeRequest(method string, status int, started time.Time) {
	httpDuration.WithLabelValues(method, strconv.Itoa(status)).Observe(time.Since(started).Seconds())
}
