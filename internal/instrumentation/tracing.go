package instrumentation

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope for every mailagent span.
const TracerName = "github.com/londonzade-stack/agent-seller-sub000"

// Span attribute keys.
const (
	SpanAttrTool        = "mailagent.tool"
	SpanAttrOperation   = "mailbox.operation"
	SpanAttrConnection  = "mailagent.connection"
	SpanAttrDestructive = "mailagent.destructive"
	SpanAttrCount       = "mailbox.count"
	SpanAttrTurn        = "agent.turn"
	SpanAttrStep        = "agent.step"
)

// StartToolSpan starts a server span for a tool invocation.
func StartToolSpan(ctx context.Context, tool, connectionID string, destructive bool) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "tool."+tool,
		trace.WithAttributes(
			attribute.String(SpanAttrTool, tool),
			attribute.String(SpanAttrConnection, connectionID),
			attribute.Bool(SpanAttrDestructive, destructive),
		),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// StartMailboxSpan starts a client span for a provider API call.
func StartMailboxSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := append([]attribute.KeyValue{attribute.String(SpanAttrOperation, operation)}, attrs...)
	return otel.Tracer(TracerName).Start(ctx, "mailbox."+operation,
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// StartTurnSpan starts the root span for one agent turn.
func StartTurnSpan(ctx context.Context, turnID, connectionID string) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "agent.turn",
		trace.WithAttributes(
			attribute.String(SpanAttrTurn, turnID),
			attribute.String(SpanAttrConnection, connectionID),
		),
	)
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// GetTraceID returns the trace id of the span in ctx, or "".
func GetTraceID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}

// GetSpanID returns the span id of the span in ctx, or "".
func GetSpanID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.SpanID().String()
}
