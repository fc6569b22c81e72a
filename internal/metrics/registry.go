// Package metrics provides Prometheus metrics for the coil hub.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds all Prometheus metrics for the service.
type Registry struct {
	// Polling metrics
	PollsTotal   *prometheus.CounterVec
	PollsSkipped prometheus.Counter
	PollDuration *prometheus.HistogramVec
	CoilsRead    prometheus.Counter
	CoilChanges  *prometheus.CounterVec

	// Write metrics
	WritesTotal *prometheus.CounterVec

	// Transport metrics
	TransportErrors *prometheus.CounterVec
	ExchangeLatency prometheus.Histogram

	// Subscriber metrics
	Notifications prometheus.Counter
}

// NewRegistry creates a new metrics registry with all metrics registered.
func NewRegistry() *Registry {
	return &Registry{
		PollsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coilhub",
			Subsystem: "polling",
			Name:      "polls_total",
			Help:      "Total number of poll transactions per slave",
		}, []string{"slave", "status"}),
		PollsSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "coilhub",
			Subsystem: "polling",
			Name:      "polls_skipped_total",
			Help:      "Total polls skipped because the circuit breaker was open",
		}),
		PollDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "coilhub",
			Subsystem: "polling",
			Name:      "duration_seconds",
			Help:      "Poll transaction duration per slave",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"slave"}),
		CoilsRead: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "coilhub",
			Subsystem: "polling",
			Name:      "coils_read_total",
			Help:      "Total number of coil states read",
		}),
		CoilChanges: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coilhub",
			Subsystem: "polling",
			Name:      "coil_changes_total",
			Help:      "Total number of coil state changes observed",
		}, []string{"slave"}),
		WritesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coilhub",
			Subsystem: "write",
			Name:      "writes_total",
			Help:      "Total number of write-coil transactions",
		}, []string{"slave", "status"}),
		TransportErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coilhub",
			Subsystem: "transport",
			Name:      "errors_total",
			Help:      "Total transport and codec errors by type",
		}, []string{"type"}),
		ExchangeLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "coilhub",
			Subsystem: "transport",
			Name:      "exchange_latency_seconds",
			Help:      "Wire exchange latency including connect time",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		Notifications: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "coilhub",
			Subsystem: "subscribers",
			Name:      "notifications_total",
			Help:      "Total subscriber callback invocations",
		}),
	}
}

// RecordPollSuccess records a successful poll transaction.
func (r *Registry) RecordPollSuccess(slave string, duration float64, coilsRead, changes int) {
	r.PollsTotal.WithLabelValues(slave, "success").Inc()
	r.PollDuration.WithLabelValues(slave).Observe(duration)
	r.CoilsRead.Add(float64(coilsRead))
	r.CoilChanges.WithLabelValues(slave).Add(float64(changes))
}

// RecordPollError records a failed poll transaction.
func (r *Registry) RecordPollError(slave, errorType string) {
	r.PollsTotal.WithLabelValues(slave, "error").Inc()
	r.TransportErrors.WithLabelValues(errorType).Inc()
}

// RecordPollSkipped records a poll skipped due to an open breaker.
func (r *Registry) RecordPollSkipped() {
	r.PollsSkipped.Inc()
}

// RecordWrite records a write-coil transaction outcome.
func (r *Registry) RecordWrite(slave string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	r.WritesTotal.WithLabelValues(slave, status).Inc()
}

// RecordExchange records the latency of one wire exchange.
func (r *Registry) RecordExchange(seconds float64) {
	r.ExchangeLatency.Observe(seconds)
}

// RecordNotifications records subscriber fan-out after a poll.
func (r *Registry) RecordNotifications(count int) {
	r.Notifications.Add(float64(count))
}
