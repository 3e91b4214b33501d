package telemetry

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitTracer_DisabledWithoutEndpoint(t *testing.T) {
	tp, err := InitTracer(context.Background(), Config{ServiceName: "bizcast"})
	if err != nil {
		t.Fatalf("InitTracer() error: %v", err)
	}
	if tp != nil {
		t.Error("expected nil provider without an endpoint")
	}
	if err := Shutdown(context.Background(), nil); err != nil {
		t.Errorf("Shutdown(nil) error: %v", err)
	}
}

func TestInitTracer_WithEndpoint(t *testing.T) {
	// The exporter connects lazily, so no collector is needed.
	tp, err := InitTracer(context.Background(), Config{
		ServiceName: "bizcast",
		Endpoint:    "localhost:4317",
		Insecure:    true,
	})
	if err != nil {
		t.Fatalf("InitTracer() error: %v", err)
	}
	if tp == nil {
		t.Fatal("expected a tracer provider")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = Shutdown(ctx, tp)
}

func TestRecordError(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	_, span := tp.Tracer("test").Start(context.Background(), "op")
	RecordError(span, errors.New("boom"))
	RecordError(span, nil)
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Status().Code != codes.Error || spans[0].Status().Description != "boom" {
		t.Errorf("status = %+v", spans[0].Status())
	}
	if len(spans[0].Events()) != 1 {
		t.Errorf("events = %d, want 1 exception event", len(spans[0].Events()))
	}
}
