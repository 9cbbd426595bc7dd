package tracing

import (
	"context"
	"errors"
	"testing"
)

func TestInitOpenTelemetryDisabled(t *testing.T) {
	if err := InitOpenTelemetry(Config{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ShutdownOpenTelemetry(context.Background()); err != nil {
		t.Fatalf("unexpected shutdown error: %v", err)
	}
}

func TestStartSpanSetsTraceID(t *testing.T) {
	if err := InitOpenTelemetry(Config{Enabled: true, ServiceName: "jobats-test"}); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	defer func() { _ = ShutdownOpenTelemetry(context.Background()) }()

	ctx, span := StartSpan(context.Background(), "jobats.test", "test.span")
	EndSpan(span, errors.New("boom"))

	if GetTraceID(ctx) == "" {
		t.Error("StartSpan did not propagate trace ID")
	}
}

func TestStartSpanKeepsExistingTraceID(t *testing.T) {
	ctx := WithTraceID(context.Background(), "fixed")
	ctx, span := StartSpan(ctx, "jobats.test", "test.span")
	EndSpan(span, nil)

	if GetTraceID(ctx) != "fixed" {
		t.Errorf("Expected fixed trace ID, got %s", GetTraceID(ctx))
	}
}
