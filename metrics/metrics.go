// Package metrics provides Prometheus metrics for remote file system sessions.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	connectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remotefs_connect_attempts_total",
			Help: "Connection attempts by scheme and result",
		},
		[]string{"scheme", "result"},
	)

	sessionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "remotefs_sessions_active",
			Help: "Live protocol sessions",
		},
		[]string{"scheme"},
	)

	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remotefs_operations_total",
			Help: "File system operations by scheme, operation and result",
		},
		[]string{"scheme", "op", "result"},
	)

	changeEventsFlushed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "remotefs_change_events_flushed_total",
			Help: "Change notifications delivered in batches",
		},
	)

	changeBatchesFlushed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "remotefs_change_batches_flushed_total",
			Help: "Change notification batches flushed",
		},
	)
)

func RecordConnect(scheme string, err error) {
	connectAttempts.WithLabelValues(scheme, result(err)).Inc()
}

func SessionOpened(scheme string) {
	sessionsActive.WithLabelValues(scheme).Inc()
}

func SessionClosed(scheme string) {
	sessionsActive.WithLabelValues(scheme).Dec()
}

// RecordOperation counts one operation. kind is the error class, empty on
// success.
func RecordOperation(scheme, op, kind string) {
	if kind == "" {
		kind = "ok"
	}
	operationsTotal.WithLabelValues(scheme, op, kind).Inc()
}

func RecordFlush(events int) {
	changeBatchesFlushed.Inc()
	changeEventsFlushed.Add(float64(events))
}

// Handler returns the HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
