package http

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// TraceHeader carries the trace ID of the server span back to the caller.
const TraceHeader = "X-Trace-Id"

// Tracing starts a server span per request, continuing a W3C traceparent when
// the caller sent one. The span is renamed to the matched route pattern once
// the mux has routed the request.
func Tracing(tp trace.TracerProvider) Middleware {
	tracer := tp.Tracer("feedrelay/http")
	var propagator propagation.TraceContext
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := tracer.Start(ctx, r.Method, trace.WithSpanKind(trace.SpanKindServer))
			defer span.End()
			w.Header().Set(TraceHeader, span.SpanContext().TraceID().String())

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			serveWith(next, rec, r, r.WithContext(ctx))

			route := routeOf(r)
			if r.Pattern != "" {
				span.SetName(route)
			} else {
				span.SetName(r.Method + " " + route)
			}
			span.SetAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", route),
				attribute.String("http.path", r.URL.Path),
				attribute.Int("http.status_code", rec.status),
			)
			if rec.status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(rec.status))
			}
		})
	}
}
