// Package metrics exposes Prometheus collectors for the workflow engine's
// HTTP surface, state transitions, notification retries, and recovery
// actions.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "workflow_engine",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "workflow_engine",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "workflow_engine",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "path"},
	)

	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "workflow_engine",
			Subsystem: "workflow",
			Name:      "transitions_total",
			Help:      "Total number of recorded workflow transitions.",
		},
		[]string{"workflow_type", "action", "result"},
	)

	requestsInitiatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "workflow_engine",
			Subsystem: "workflow",
			Name:      "requests_initiated_total",
			Help:      "Total number of requests initiated, by workflow type and origin.",
		},
		[]string{"workflow_type", "origin"},
	)

	requestsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "workflow_engine",
			Subsystem: "workflow",
			Name:      "requests_completed_total",
			Help:      "Total number of requests completed, labelled by final rating bucket.",
		},
		[]string{"workflow_type", "rating"},
	)

	notificationRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "workflow_engine",
			Subsystem: "notify",
			Name:      "retries_total",
			Help:      "Total number of notification retry attempts, by outcome.",
		},
		[]string{"intent", "outcome"},
	)

	notificationRetryQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "workflow_engine",
			Subsystem: "notify",
			Name:      "retry_queue_depth",
			Help:      "Current number of notification retry entries pending redelivery.",
		},
	)

	recoveryActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "workflow_engine",
			Subsystem: "recovery",
			Name:      "actions_total",
			Help:      "Total number of admin recovery actions applied, by option.",
		},
		[]string{"option"},
	)

	stuckRequestsGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "workflow_engine",
			Subsystem: "recovery",
			Name:      "stuck_requests",
			Help:      "Number of requests reported stuck on the last detection pass.",
		},
	)

	activeTransactionsGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "workflow_engine",
			Subsystem: "state",
			Name:      "active_transactions",
			Help:      "Number of two-phase state transactions currently staged.",
		},
	)

	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "workflow_engine",
			Subsystem: "errors",
			Name:      "records_total",
			Help:      "Total number of error records written, by category and severity.",
		},
		[]string{"category", "severity"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		transitionsTotal,
		requestsInitiatedTotal,
		requestsCompletedTotal,
		notificationRetriesTotal,
		notificationRetryQueueDepth,
		recoveryActionsTotal,
		stuckRequestsGauge,
		activeTransactionsGauge,
		errorsTotal,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps next with HTTP request metrics, skipping /metrics
// and /healthz so scraping and liveness probes don't inflate the counters
// they themselves expose.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" || r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordTransition records one state-machine transition outcome.
func RecordTransition(workflowType, action string, accepted bool) {
	result := "accepted"
	if !accepted {
		result = "rejected"
	}
	transitionsTotal.WithLabelValues(workflowType, action, result).Inc()
}

// RecordRequestInitiated records a newly created request.
func RecordRequestInitiated(workflowType, origin string) {
	requestsInitiatedTotal.WithLabelValues(workflowType, origin).Inc()
}

// RecordRequestCompleted records a terminal completion, bucketing the rating
// into "unrated", "low" (1-2), "mid" (3), or "high" (4-5).
func RecordRequestCompleted(workflowType string, rating *int) {
	bucket := "unrated"
	if rating != nil {
		switch {
		case *rating <= 2:
			bucket = "low"
		case *rating == 3:
			bucket = "mid"
		default:
			bucket = "high"
		}
	}
	requestsCompletedTotal.WithLabelValues(workflowType, bucket).Inc()
}

// RecordNotificationRetry records one redelivery attempt.
func RecordNotificationRetry(intent string, delivered bool) {
	outcome := "delivered"
	if !delivered {
		outcome = "failed"
	}
	notificationRetriesTotal.WithLabelValues(intent, outcome).Inc()
}

// SetNotificationRetryQueueDepth reports the current retry queue size.
func SetNotificationRetryQueueDepth(n int) {
	notificationRetryQueueDepth.Set(float64(n))
}

// RecordRecoveryAction records one admin-invoked recovery action.
func RecordRecoveryAction(option string) {
	recoveryActionsTotal.WithLabelValues(option).Inc()
}

// SetStuckRequests reports the size of the last stuck-request detection pass.
func SetStuckRequests(n int) {
	stuckRequestsGauge.Set(float64(n))
}

// SetActiveTransactions reports the enhanced state manager's in-flight
// two-phase transaction count.
func SetActiveTransactions(n int) {
	activeTransactionsGauge.Set(float64(n))
}

// RecordError records one error-record write, by category and severity.
func RecordError(category, severity string) {
	errorsTotal.WithLabelValues(category, severity).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses path-parameter segments (request and application
// ids) so the requests_total label cardinality stays bounded.
func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	// /v1/workflows/{id}[/...], /v1/staff-applications/{id}[/...] and
	// /v1/admin/recover/{id} collapse their id segment so per-request paths don't each mint a new label series.
	if len(parts) >= 3 && parts[0] == "v1" && (parts[1] == "workflows" || parts[1] == "staff-applications") {
		parts[2] = ":id"
	}
	if len(parts) >= 4 && parts[0] == "v1" && parts[1] == "admin" && parts[2] == "recover" {
		parts[3] = ":id"
	}
	return "/" + strings.Join(parts, "/")
}
