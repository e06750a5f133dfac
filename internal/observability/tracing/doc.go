// Package tracing provides OpenTelemetry tracing integration.
//
// The admin API is wrapped with Middleware, and the check runner and the
// delivery handler open spans with StartSpan. Spans are exported by whatever
// provider main installs; without one the global no-op provider drops them.
package tracing
