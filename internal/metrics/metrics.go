package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "skynet"

var (
	once sync.Once

	bookingCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_created_total",
			Help:      "Count of bookings created by status.",
		},
		[]string{"status"},
	)

	bookingRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_rejected_total",
			Help:      "Count of rejected booking writes by operation and error kind.",
		},
		[]string{"operation", "kind"},
	)

	bookingUpdated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_updated_total",
			Help:      "Count of booking updates by resulting status.",
		},
		[]string{"status"},
	)

	escalationChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalation_checks_total",
			Help:      "Count of delayed escalation checks by outcome.",
		},
		[]string{"outcome"},
	)

	escalationsResolved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalations_resolved_total",
			Help:      "Count of escalations resolved by source.",
		},
		[]string{"source"},
	)

	jobEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Count of delayed job lifecycle events by kind and event.",
		},
		[]string{"kind", "event"},
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Time spent running a delayed job handler.",
			Buckets:   []float64{.01, .05, .1, .5, 1, 2, 5},
		},
		[]string{"kind"},
	)

	notificationsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Count of staff notifications by channel and status.",
		},
		[]string{"channel", "status"},
	)

	auditWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_writes_total",
			Help:      "Count of audit writes by status.",
		},
		[]string{"status"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Count of HTTP API requests by endpoint and status code.",
		},
		[]string{"endpoint", "code"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			bookingCreated,
			bookingRejected,
			bookingUpdated,
			escalationChecks,
			escalationsResolved,
			jobEvents,
			jobDuration,
			notificationsSent,
			auditWrites,
			httpRequests,
		)
	})
}

func IncBookingCreated(status string) {
	bookingCreated.WithLabelValues(status).Inc()
}

func IncBookingRejected(operation, kind string) {
	bookingRejected.WithLabelValues(operation, kind).Inc()
}

func IncBookingUpdated(status string) {
	bookingUpdated.WithLabelValues(status).Inc()
}

// IncEscalationCheck records the outcome of a check: escalated, noop, missing or duplicate.
func IncEscalationCheck(outcome string) {
	escalationChecks.WithLabelValues(outcome).Inc()
}

func AddEscalationsResolved(source string, n int64) {
	if n <= 0 {
		return
	}
	escalationsResolved.WithLabelValues(source).Add(float64(n))
}

// IncJob records a job event: scheduled, duplicate, completed, retried or failed.
func IncJob(kind, event string) {
	jobEvents.WithLabelValues(kind, event).Inc()
}

func ObserveJobDuration(kind string, seconds float64) {
	jobDuration.WithLabelValues(kind).Observe(seconds)
}

func IncNotification(channel, status string) {
	notificationsSent.WithLabelValues(channel, status).Inc()
}

func IncAuditWrite(status string) {
	auditWrites.WithLabelValues(status).Inc()
}

func IncHTTP(endpoint string, code int) {
	httpRequests.WithLabelValues(endpoint, codeLabel(code)).Inc()
}

func codeLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
