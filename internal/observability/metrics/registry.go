// Package metrics provides centralized Prometheus metrics for the relay.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics track the admin API.
var (
	// HTTPRequestsTotal counts total HTTP requests by method, path, and status
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration measures HTTP request duration in seconds
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Feed check metrics.
var (
	// FeedChecksTotal counts completed checks by result: ok, not_modified, failed.
	FeedChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_checks_total",
			Help: "Total number of feed checks by result",
		},
		[]string{"result"},
	)

	// FeedCheckDuration measures a whole check, fetch through delivery.
	FeedCheckDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "feed_check_duration_seconds",
			Help:    "Time taken by one feed check",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		},
	)

	// FeedCheckSkippedTotal counts checks that did not run, by reason.
	FeedCheckSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_check_skipped_total",
			Help: "Total number of skipped feed checks by reason",
		},
		[]string{"reason"}, // in_flight, breaker_open, recovery_gate, unscheduled
	)

	// FeedsDisabledTotal counts feeds disabled after repeated failures.
	FeedsDisabledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feeds_disabled_total",
			Help: "Total number of feeds disabled by the failure threshold",
		},
	)

	// DedupeItemsTotal counts decoded items by dedupe result: new, seen.
	DedupeItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dedupe_items_total",
			Help: "Total number of decoded items by dedupe result",
		},
		[]string{"result"},
	)
)

// Delivery metrics.
var (
	// DeliveriesTotal counts delivery outcomes with the last failure kind.
	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deliveries_total",
			Help: "Total number of deliveries by outcome and error kind",
		},
		[]string{"outcome", "kind"},
	)

	// ReplayQueueDepth is the current replay queue length.
	ReplayQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "replay_queue_depth",
			Help: "Number of deliveries waiting in the replay queue",
		},
	)

	// ReplayDroppedTotal counts replay entries discarded, by reason.
	ReplayDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replay_dropped_total",
			Help: "Total number of replay entries dropped by reason",
		},
		[]string{"reason"}, // overflow, expired, unscheduled, terminal
	)
)

// Resilience metrics.
var (
	// BreakerState is 0 closed, 1 half-open, 2 open, per source.
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "breaker_state",
			Help: "Circuit breaker state per source (0 closed, 1 half-open, 2 open)",
		},
		[]string{"source"},
	)

	// BreakerTransitionsTotal counts transitions by target state.
	BreakerTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breaker_transitions_total",
			Help: "Total number of circuit breaker transitions by target state",
		},
		[]string{"to"},
	)

	// RateLimitDelay measures admission delays imposed by the limiter.
	RateLimitDelay = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ratelimit_delay_seconds",
			Help:    "Admission delay imposed by the per-source rate limiter",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		},
	)

	// ResilienceConfigRejectionsTotal counts rejected resilience config reloads.
	ResilienceConfigRejectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "resilience_config_rejections_total",
			Help: "Total number of rejected resilience configuration loads",
		},
	)
)

// Schedule metrics.
var (
	// ScheduleEntries is the number of active schedule entries.
	ScheduleEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "schedule_entries",
			Help: "Number of active scheduled checks",
		},
	)

	// ScheduleReconcileTotal counts reconcile passes by kind: regular, thorough.
	ScheduleReconcileTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schedule_reconcile_total",
			Help: "Total number of schedule reconcile passes",
		},
		[]string{"pass"},
	)

	// ScheduleOrphansRemovedTotal counts orphaned entries removed by reconcile.
	ScheduleOrphansRemovedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "schedule_orphans_removed_total",
			Help: "Total number of orphaned schedule entries removed",
		},
	)

	// ScheduleInconsistenciesTotal counts failed verifications.
	ScheduleInconsistenciesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schedule_inconsistencies_total",
			Help: "Total number of schedule inconsistencies by escalation",
		},
		[]string{"escalated"},
	)
)

// Database metrics track database performance
var (
	// DBQueryDuration measures database query duration
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
		},
		[]string{"operation"},
	)

	// DBConnectionsActive tracks active database connections
	DBConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_active",
			Help: "Number of active database connections",
		},
	)

	// DBConnectionsIdle tracks idle database connections
	DBConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_idle",
			Help: "Number of idle database connections",
		},
	)
)

// RecordHTTPRequest records an HTTP request with its metadata
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}
