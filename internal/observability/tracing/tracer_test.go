package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestStartSpan_EndSpanRecordsError(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	prev := tracer
	tracer = tp.Tracer("feedrelay")
	defer func() { tracer = prev }()

	_, span := StartSpan(context.Background(), "feed.check", attribute.String("feed.id", "f1"))
	EndSpan(span, errors.New("fetch failed"))

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name != "feed.check" {
		t.Errorf("expected span name 'feed.check', got %q", spans[0].Name)
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("expected error status, got %v", spans[0].Status.Code)
	}
	if len(spans[0].Events) == 0 {
		t.Error("expected the error to be recorded as an event")
	}
}

func TestEndSpan_NoError(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	prev := tracer
	tracer = tp.Tracer("feedrelay")
	defer func() { tracer = prev }()

	_, span := StartSpan(context.Background(), "deliver")
	EndSpan(span, nil)

	spans := exporter.GetSpans()
	if len(spans) != 1 || spans[0].Status.Code == codes.Error {
		t.Fatalf("expected one non-error span, got %+v", spans)
	}
}
