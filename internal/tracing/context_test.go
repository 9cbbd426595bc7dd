package tracing

import (
	"context"
	"testing"
)

func TestNewTraceID(t *testing.T) {
	id1 := NewTraceID()
	id2 := NewTraceID()

	if id1 == "" {
		t.Error("NewTraceID returned empty string")
	}

	if id1 == id2 {
		t.Error("NewTraceID returned duplicate IDs")
	}
}

func TestNewRequestID(t *testing.T) {
	id1 := NewRequestID()
	id2 := NewRequestID()

	if id1 == "" {
		t.Error("NewRequestID returned empty string")
	}

	if id1 == id2 {
		t.Error("NewRequestID returned duplicate IDs")
	}
}

func TestContextValues(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-1")
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithTabID(ctx, "42")
	ctx = WithClientID(ctx, "client-1")

	if got := GetTraceID(ctx); got != "trace-1" {
		t.Errorf("Expected trace ID trace-1, got %s", got)
	}
	if got := GetRequestID(ctx); got != "req-1" {
		t.Errorf("Expected request ID req-1, got %s", got)
	}
	if got := GetTabID(ctx); got != "42" {
		t.Errorf("Expected tab ID 42, got %s", got)
	}
	if got := GetClientID(ctx); got != "client-1" {
		t.Errorf("Expected client ID client-1, got %s", got)
	}
}

func TestGettersOnEmptyContext(t *testing.T) {
	ctx := context.Background()

	if GetTraceID(ctx) != "" || GetRequestID(ctx) != "" || GetTabID(ctx) != "" || GetClientID(ctx) != "" {
		t.Error("Expected empty values from empty context")
	}
}

func TestFromContext(t *testing.T) {
	ctx := WithTraceID(context.Background(), "trace")
	ctx = WithRequestID(ctx, "req")
	ctx = WithTabID(ctx, "7")

	want := TraceContext{TraceID: "trace", RequestID: "req", TabID: "7"}
	if got := FromContext(ctx); *got != want {
		t.Errorf("Expected %+v, got %+v", want, *got)
	}
}
