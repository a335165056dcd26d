// ABOUTME: Prometheus instrumentation for storage operations
// ABOUTME: Counts operations by backend, op and result and records their latency

package store

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentstate",
		Subsystem: "store",
		Name:      "operations_total",
		Help:      "Storage operations by backend, operation and result.",
	}, []string{"backend", "op", "result"})

	metricDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "agentstate",
		Subsystem: "store",
		Name:      "operation_duration_seconds",
		Help:      "Latency of storage operations.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"backend", "op"})
)

func observe(backend, op string, start time.Time, err error) {
	metricDuration.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
	metricOperations.WithLabelValues(backend, op, resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrCorruptData):
		return "corrupt"
	case errors.Is(err, ErrAuthentication):
		return "auth_failed"
	case errors.Is(err, ErrVersionNotFound):
		return "not_found"
	case errors.Is(err, ErrIO):
		return "io_error"
	default:
		return "error"
	}
}
