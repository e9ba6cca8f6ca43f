// Package metrics provides Prometheus metrics for monitoring the
// notification pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DeliveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outpost_delivery_attempts_total",
			Help: "Total number of delivery attempts by outcome",
		},
		[]string{"event_type", "outcome"},
	)
	RetriesScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outpost_retries_scheduled_total",
			Help: "Total number of delivery retries scheduled",
		},
		[]string{"event_type"},
	)
	BreakerOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "outpost_breaker_open",
			Help: "Whether the gateway circuit breaker is currently open",
		},
	)
	BreakerFailures = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "outpost_breaker_consecutive_failures",
			Help: "Current consecutive failure count of the circuit breaker",
		},
	)
	FindingsProduced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outpost_findings_total",
			Help: "Total number of findings produced by governance tasks",
		},
		[]string{"task", "severity"},
	)
	TaskRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outpost_task_runs_total",
			Help: "Total number of governance task runs",
		},
		[]string{"task", "status"},
	)
	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "outpost_task_duration_seconds",
			Help:    "Governance task execution duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"task"},
	)
	AuditEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outpost_audit_entries_total",
			Help: "Total number of audit ledger entries written",
		},
		[]string{"source"},
	)
	JobsPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "outpost_jobs_pending",
			Help: "Current number of jobs in the durable queue",
		},
	)
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outpost_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "outpost_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)

// Delivery outcomes.
const (
	OutcomeDelivered = "delivered"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
	OutcomeTerminal  = "terminal"
)

func RecordDelivery(eventType, outcome string) {
	DeliveryAttempts.WithLabelValues(eventType, outcome).Inc()
}

func RecordRetryScheduled(eventType string) {
	RetriesScheduled.WithLabelValues(eventType).Inc()
}

func UpdateBreakerState(open bool, consecutiveFailures int) {
	if open {
		BreakerOpen.Set(1)
	} else {
		BreakerOpen.Set(0)
	}
	BreakerFailures.Set(float64(consecutiveFailures))
}

func RecordFinding(task, severity string) {
	FindingsProduced.WithLabelValues(task, severity).Inc()
}

func RecordTaskRun(task, status string, duration time.Duration) {
	TaskRuns.WithLabelValues(task, status).Inc()
	TaskDuration.WithLabelValues(task).Observe(duration.Seconds())
}

func RecordAuditEntry(source string) {
	AuditEntries.WithLabelValues(source).Inc()
}

func UpdateJobsPending(count int) {
	JobsPending.Set(float64(count))
}

func RecordHTTPRequest(method, endpoint, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
