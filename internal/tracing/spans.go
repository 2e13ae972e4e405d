package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// StartQuerySpan opens the span covering one AcceptQuery call.
func StartQuerySpan(ctx context.Context, queryID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "engine.query",
		trace.WithAttributes(attribute.String("query.id", queryID)),
	)
}

// StartDispatchSpan opens a child span for one dispatch attempt.
func StartDispatchSpan(ctx context.Context, backendID string, attempt int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "engine.dispatch",
		trace.WithAttributes(
			attribute.String("backend.id", backendID),
			attribute.Int("dispatch.attempt", attempt),
		),
	)
}

// StartProbeSpan opens a root span for a health probe.
func StartProbeSpan(ctx context.Context, backendID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "health.probe",
		trace.WithNewRoot(),
		trace.WithAttributes(attribute.String("backend.id", backendID)),
	)
}

// StartUpstreamSpan creates a client span for an outbound HTTP call.
func StartUpstreamSpan(ctx context.Context, url, backendID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "upstream.call",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("upstream.url", url),
			attribute.String("backend.id", backendID),
		),
	)
}

// InjectHeaders writes the current trace context (traceparent, tracestate)
// into the outbound request headers.
func InjectHeaders(ctx context.Context, req *http.Request) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
}

// SetAnalysisAttributes records the query classification on the current span.
func SetAnalysisAttributes(ctx context.Context, complexity, queryType string, contextBytes int) {
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("query.complexity", complexity),
		attribute.String("query.type", queryType),
		attribute.Int("query.context_bytes", contextBytes),
	)
}

// SetOutcomeAttributes records how a query finished.
func SetOutcomeAttributes(ctx context.Context, backendID string, attempts int, degraded bool) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("query.backend", backendID),
		attribute.Int("query.attempts", attempts),
		attribute.Bool("query.degraded", degraded),
	)
	if degraded {
		span.SetStatus(codes.Error, "degraded")
	}
}

// RecordError records err on the current span and marks it failed.
func RecordError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
