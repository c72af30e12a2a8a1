package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope of business spans
const TracerName = "payalloc"

// Span attribute keys
const (
	SpanAttrTenantID      = "tenant_id"
	SpanAttrPaymentID     = "payment_id"
	SpanAttrAllocationID  = "allocation_id"
	SpanAttrCustomerID    = "customer_id"
	SpanAttrStrategy      = "allocation.strategy"
	SpanAttrMethod        = "allocation.method"
	SpanAttrAmount        = "amount"
	SpanAttrPairCount     = "allocation.pairs"
	SpanAttrCandidates    = "allocation.candidates"
	SpanAttrRemaining     = "payment.remaining_amount"
	SpanAttrBatchID       = "batch_id"
	SpanAttrBatchRows     = "batch.rows"
	SpanAttrSourceType    = "batch.source_type"
	SpanAttrDryRun        = "batch.dry_run"
	SpanAttrErrorCode     = "error.code"
	SpanAttrIdempotentKey = "idempotency_key"
)

// StartSpan starts an internal span named spanName
func StartSpan(ctx context.Context, spanName string, kv ...any) (context.Context, trace.Span) {
	tracer := otel.GetTracerProvider().Tracer(TracerName)
	opts := []trace.SpanStartOption{trace.WithSpanKind(trace.SpanKindInternal)}
	if attrs := toAttributes(kv); len(attrs) > 0 {
		opts = append(opts, trace.WithAttributes(attrs...))
	}
	return tracer.Start(ctx, spanName, opts...)
}

// StartServiceSpan starts a span named {service}.{method}
//
//	ctx, span := telemetry.StartServiceSpan(ctx, "allocation", "execute")
//	defer span.End()
func StartServiceSpan(ctx context.Context, service, method string, kv ...any) (context.Context, trace.Span) {
	return StartSpan(ctx, service+"."+method, kv...)
}

// SetAttributes sets alternating key/value attributes on span
func SetAttributes(span trace.Span, kv ...any) {
	if span == nil {
		return
	}
	span.SetAttributes(toAttributes(kv)...)
}

// RecordError records err and marks the span as failed
func RecordError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetOK marks the span as successful
func SetOK(span trace.Span) {
	if span == nil {
		return
	}
	span.SetStatus(codes.Ok, "")
}

// AddEvent adds a named event with alternating key/value attributes
func AddEvent(span trace.Span, name string, kv ...any) {
	if span == nil {
		return
	}
	span.AddEvent(name, trace.WithAttributes(toAttributes(kv)...))
}

// GetTraceID returns the trace ID of the span in ctx, empty if none
func GetTraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

func toAttributes(kv []any) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		attrs = append(attrs, toAttribute(key, kv[i+1]))
	}
	return attrs
}

func toAttribute(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case bool:
		return attribute.Bool(key, v)
	case []string:
		return attribute.StringSlice(key, v)
	case fmt.Stringer:
		return attribute.String(key, v.String())
	default:
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
}
