package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "habitat"

// StartActionSpan starts a span covering one action request, gate to result.
func StartActionSpan(ctx context.Context, agentID, tool string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "action",
		trace.WithAttributes(
			attribute.String("agent.id", agentID),
			attribute.String("action.tool", tool),
		),
	)
}

// StartCommandSpan starts a span for an inbound observer command.
func StartCommandSpan(ctx context.Context, observerID, command string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "command",
		trace.WithAttributes(
			attribute.String("observer.id", observerID),
			attribute.String("command.type", command),
		),
	)
}

// StartTickSpan starts a span for one simulation tick.
func StartTickSpan(ctx context.Context, tick uint64) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "tick",
		trace.WithAttributes(attribute.Int64("tick", int64(tick))),
	)
}
