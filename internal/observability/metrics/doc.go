// Package metrics provides Prometheus metrics registry and recording utilities.
//
// This package centralizes the relay's metrics:
//   - admin API request metrics
//   - feed check, dedupe and delivery counters
//   - breaker, rate limiter and replay queue state
//   - schedule reconcile metrics
//   - database query metrics
//
// All metrics are registered with the Prometheus default registry through
// promauto and exposed via the /metrics endpoint.
//
// Example usage:
//
//	start := time.Now()
//	// ... run the check ...
//	metrics.RecordFeedCheck("ok", time.Since(start))
package metrics
