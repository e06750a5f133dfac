// Package observability groups structured logging, Prometheus metrics and
// OpenTelemetry tracing for the relay.
//
// Subpackages:
//   - logging: slog construction and context propagation
//   - metrics: promauto metric vars and recorders
//   - tracing: tracer access, span helpers and HTTP middleware
package observability
