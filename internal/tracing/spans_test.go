package tracing

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func attrMap(s tracetest.SpanStub) map[string]attribute.Value {
	out := make(map[string]attribute.Value, len(s.Attributes))
	for _, kv := range s.Attributes {
		out[string(kv.Key)] = kv.Value
	}
	return out
}

func TestStartQuerySpan(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx, span := StartQuerySpan(context.Background(), "q-1")
	if !trace.SpanFromContext(ctx).SpanContext().IsValid() {
		t.Error("expected valid span in context")
	}
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name != "engine.query" {
		t.Errorf("span name: got %q", spans[0].Name)
	}
	if got := attrMap(spans[0])["query.id"].AsString(); got != "q-1" {
		t.Errorf("query.id: got %q", got)
	}
}

func TestStartDispatchSpan_IsChild(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx, parent := StartQuerySpan(context.Background(), "q-2")
	_, child := StartDispatchSpan(ctx, "fast", 2)
	child.End()
	parent.End()

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	dispatch := spans[0]
	if dispatch.Name != "engine.dispatch" {
		t.Fatalf("first ended span should be the dispatch, got %q", dispatch.Name)
	}
	if dispatch.Parent.SpanID() != spans[1].SpanContext.SpanID() {
		t.Error("dispatch span should be a child of the query span")
	}
	attrs := attrMap(dispatch)
	if attrs["backend.id"].AsString() != "fast" || attrs["dispatch.attempt"].AsInt64() != 2 {
		t.Errorf("dispatch attributes: %v", attrs)
	}
}

func TestStartProbeSpan_IsRoot(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx, parent := StartQuerySpan(context.Background(), "q-3")
	_, probe := StartProbeSpan(ctx, "slow")
	probe.End()
	parent.End()

	spans := exporter.GetSpans()
	if spans[0].Name != "health.probe" {
		t.Fatalf("span name: got %q", spans[0].Name)
	}
	if spans[0].Parent.IsValid() {
		t.Error("probe span should start a new trace")
	}
}

func TestStartUpstreamSpan(t *testing.T) {
	exporter := setupTestTracer(t)

	_, span := StartUpstreamSpan(context.Background(), "http://localhost:11434/v1/chat/completions", "local")
	span.End()

	spans := exporter.GetSpans()
	if len(spans) == 0 {
		t.Fatal("expected at least one span")
	}
	if spans[0].SpanKind != trace.SpanKindClient {
		t.Errorf("expected SpanKindClient, got %v", spans[0].SpanKind)
	}
}

func TestInjectHeaders(t *testing.T) {
	setupTestTracer(t)

	ctx, span := Tracer().Start(context.Background(), "parent")
	defer span.End()

	req, _ := http.NewRequest("POST", "http://localhost:11434/v1/chat/completions", nil)
	InjectHeaders(ctx, req)

	traceparent := req.Header.Get("traceparent")
	if len(traceparent) < 55 {
		t.Fatalf("traceparent missing or short: %q", traceparent)
	}
	if got := traceparent[3:35]; got != span.SpanContext().TraceID().String() {
		t.Errorf("trace id in traceparent: got %s", got)
	}
}

func TestSetOutcomeAttributes(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx, span := StartQuerySpan(context.Background(), "q-4")
	SetAnalysisAttributes(ctx, "high", "analytics", 120)
	SetOutcomeAttributes(ctx, "", 3, true)
	span.End()

	s := exporter.GetSpans()[0]
	attrs := attrMap(s)
	if attrs["query.complexity"].AsString() != "high" {
		t.Errorf("query.complexity: got %v", attrs["query.complexity"])
	}
	if attrs["query.attempts"].AsInt64() != 3 || !attrs["query.degraded"].AsBool() {
		t.Errorf("outcome attributes: %v", attrs)
	}
	if s.Status.Code != codes.Error {
		t.Errorf("degraded query should mark span as error, got %v", s.Status.Code)
	}
}

func TestRecordError(t *testing.T) {
	exporter := setupTestTracer(t)

	RecordError(context.Background(), nil)

	ctx, span := Tracer().Start(context.Background(), "test")
	RecordError(ctx, errors.New("boom"))
	span.End()

	s := exporter.GetSpans()[0]
	if len(s.Events) == 0 {
		t.Error("expected error event on span")
	}
	if s.Status.Code != codes.Error {
		t.Errorf("status: got %v, want Error", s.Status.Code)
	}
}
