package tracing

import (
	"context"
	"slices"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace/noop"
)

// initForTest runs Init and restores the global no-op provider afterwards.
func initForTest(t *testing.T, opts Options) {
	t.Helper()
	shutdown, err := Init(context.Background(), opts)
	if err != nil {
		t.Fatalf("Init(%+v): %v", opts, err)
	}
	t.Cleanup(func() {
		if err := shutdown(context.Background()); err != nil {
			t.Errorf("shutdown: %v", err)
		}
		otel.SetTracerProvider(noop.NewTracerProvider())
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator())
	})
}

func TestInit_InstallsProviderAndPropagator(t *testing.T) {
	initForTest(t, Options{ServiceName: "modelmux-test", Version: "dev", Exporter: "stdout", SampleRate: 1})

	fields := otel.GetTextMapPropagator().Fields()
	for _, want := range []string{"traceparent", "baggage"} {
		if !slices.Contains(fields, want) {
			t.Errorf("propagator fields %v missing %q", fields, want)
		}
	}

	_, span := Tracer().Start(context.Background(), "engine.process")
	defer span.End()
	if !span.SpanContext().IsSampled() {
		t.Error("span not sampled at rate 1")
	}
}

func TestInit_ZeroSampleRateStillIssuesTraceIDs(t *testing.T) {
	initForTest(t, Options{ServiceName: "modelmux-test", Exporter: "stdout", SampleRate: 0})

	_, span := Tracer().Start(context.Background(), "engine.process")
	defer span.End()

	sc := span.SpanContext()
	if !sc.TraceID().IsValid() {
		t.Error("expected a valid trace ID")
	}
	if sc.IsSampled() {
		t.Error("span sampled at rate 0")
	}
}

func TestInit_RejectsUnknownExporter(t *testing.T) {
	if _, err := Init(context.Background(), Options{ServiceName: "modelmux-test", Exporter: "zipkin"}); err == nil {
		t.Fatal("expected an error for an unsupported exporter")
	}
}

func TestNewExporter(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
	}{
		{"stdout", ""},
		{"otlp-grpc", "localhost:4317"},
		{"otlp-grpc", ""},
		{"otlp-http", "localhost:4318"},
	}
	for _, tt := range tests {
		exp, err := newExporter(context.Background(), tt.name, tt.endpoint, true)
		if err != nil {
			t.Errorf("newExporter(%s, %q): %v", tt.name, tt.endpoint, err)
			continue
		}
		if exp == nil {
			t.Errorf("newExporter(%s): nil exporter", tt.name)
			continue
		}
		// Nothing was exported, so shutdown never dials the collector.
		_ = exp.Shutdown(context.Background())
	}
}

func TestSampler(t *testing.T) {
	tests := map[float64]string{
		1:   "ParentBased{root:AlwaysOnSampler",
		2:   "ParentBased{root:AlwaysOnSampler",
		0:   "ParentBased{root:AlwaysOffSampler",
		-1:  "ParentBased{root:AlwaysOffSampler",
		0.5: "ParentBased{root:TraceIDRatioBased{0.5}",
	}
	for rate, want := range tests {
		if got := sampler(rate).Description(); !strings.HasPrefix(got, want) {
			t.Errorf("sampler(%v) = %q, want prefix %q", rate, got, want)
		}
	}
}
