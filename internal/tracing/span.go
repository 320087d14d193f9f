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

// Span attribute keys shared by the collection and the source middleware.
const (
	AttrPosition  = attribute.Key("mechafeed.position")
	AttrOffset    = attribute.Key("mechafeed.offset")
	AttrBatchSize = attribute.Key("mechafeed.batch_size")
	AttrTotal     = attribute.Key("mechafeed.total")
	AttrCached    = attribute.Key("mechafeed.cached")
	AttrAppended  = attribute.Key("mechafeed.appended")
	AttrSource    = attribute.Key("mechafeed.source")
)

// StartSpan starts an internal span named name. A nil tracer yields a no-op span.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if tracer == nil {
		tracer = NoopTracer()
	}
	return tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
}

// StartClientSpan starts a client span for a call to a remote record source.
func StartClientSpan(ctx context.Context, tracer trace.Tracer, system, operation string) (context.Context, trace.Span) {
	if tracer == nil {
		tracer = NoopTracer()
	}
	ctx, span := tracer.Start(ctx, system+" "+operation,
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("rpc.system", system),
		attribute.String("rpc.method", operation),
	)
	return ctx, span
}

// EndSpan finishes a span, recording error status if applicable.
func EndSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// InjectHTTPHeaders injects W3C trace context into HTTP headers.
func InjectHTTPHeaders(ctx context.Context, headers http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(headers))
}

// ExtractHTTPHeaders returns ctx carrying any W3C trace context found in headers.
func ExtractHTTPHeaders(ctx context.Context, headers http.Header) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(headers))
}
