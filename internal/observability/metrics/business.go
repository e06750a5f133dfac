package metrics

import (
	"strconv"
	"time"

	"github.com/sony/gobreaker"
)

// RecordFeedCheck records a finished check. result is ok, not_modified or failed.
func RecordFeedCheck(result string, duration time.Duration) {
	FeedChecksTotal.WithLabelValues(result).Inc()
	FeedCheckDuration.Observe(duration.Seconds())
}

// RecordCheckSkipped records a check that did not run.
func RecordCheckSkipped(reason string) {
	FeedCheckSkippedTotal.WithLabelValues(reason).Inc()
}

// RecordFeedDisabled records a feed disabled by the failure threshold.
func RecordFeedDisabled() {
	FeedsDisabledTotal.Inc()
}

// RecordDedupe records how many decoded items were new and how many seen.
func RecordDedupe(fresh, seen int) {
	if fresh > 0 {
		DedupeItemsTotal.WithLabelValues("new").Add(float64(fresh))
	}
	if seen > 0 {
		DedupeItemsTotal.WithLabelValues("seen").Add(float64(seen))
	}
}

// RecordDelivery records one delivery outcome. kind is empty on success.
func RecordDelivery(outcome, kind string) {
	if kind == "" {
		kind = "none"
	}
	DeliveriesTotal.WithLabelValues(outcome, kind).Inc()
}

// SetReplayDepth updates the replay queue gauge.
func SetReplayDepth(n int) {
	ReplayQueueDepth.Set(float64(n))
}

// RecordReplayDropped records replay entries discarded for reason.
func RecordReplayDropped(reason string, n int) {
	if n > 0 {
		ReplayDroppedTotal.WithLabelValues(reason).Add(float64(n))
	}
}

// RecordBreakerTransition updates the per-source state gauge and the
// transition counter.
func RecordBreakerTransition(source string, to gobreaker.State) {
	BreakerState.WithLabelValues(source).Set(breakerValue(to))
	BreakerTransitionsTotal.WithLabelValues(to.String()).Inc()
}

// ForgetBreaker removes the gauge series of a pruned source.
func ForgetBreaker(source string) {
	BreakerState.DeleteLabelValues(source)
}

func breakerValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// RecordRateLimitDelay records an admission delay.
func RecordRateLimitDelay(d time.Duration) {
	RateLimitDelay.Observe(d.Seconds())
}

// RecordResilienceConfigRejected records a rejected config load.
func RecordResilienceConfigRejected() {
	ResilienceConfigRejectionsTotal.Inc()
}

// SetScheduleEntries updates the active schedule entry gauge.
func SetScheduleEntries(n int) {
	ScheduleEntries.Set(float64(n))
}

// RecordReconcile records a reconcile pass and the orphans it removed.
func RecordReconcile(thorough bool, orphansRemoved int) {
	pass := "regular"
	if thorough {
		pass = "thorough"
	}
	ScheduleReconcileTotal.WithLabelValues(pass).Inc()
	if orphansRemoved > 0 {
		ScheduleOrphansRemovedTotal.Add(float64(orphansRemoved))
	}
}

// RecordInconsistency records a failed schedule verification.
func RecordInconsistency(escalated bool) {
	ScheduleInconsistenciesTotal.WithLabelValues(strconv.FormatBool(escalated)).Inc()
}

// RecordDBQuery records the duration of a database query operation.
// Operation should describe the query type (e.g., "list_enabled_feeds", "upsert_schedule").
func RecordDBQuery(operation string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// UpdateDBConnectionStats updates database connection pool statistics.
func UpdateDBConnectionStats(active, idle int) {
	DBConnectionsActive.Set(float64(active))
	DBConnectionsIdle.Set(float64(idle))
}
