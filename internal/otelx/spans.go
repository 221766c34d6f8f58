package otelx

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Standard attribute keys for kestrel spans.
var (
	AttrBotID        = attribute.Key("kestrel.bot.id")
	AttrTaskID       = attribute.Key("kestrel.task.id")
	AttrTaskType     = attribute.Key("kestrel.task.type")
	AttrQueueName    = attribute.Key("kestrel.queue.name")
	AttrModel        = attribute.Key("kestrel.llm.model")
	AttrTokensInput  = attribute.Key("kestrel.llm.tokens.input")
	AttrTokensOutput = attribute.Key("kestrel.llm.tokens.output")
	AttrKeyProvider  = attribute.Key("kestrel.keyrotation.provider")
	AttrChatNode     = attribute.Key("kestrel.chatgraph.node")
	AttrSessionID    = attribute.Key("kestrel.session.id")
)

// StartSpan is a convenience wrapper that starts an internal span with common attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartServerSpan starts a span for an inbound request (Gateway).
func StartServerSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// StartClientSpan starts a span for an outbound call (LLM API, queue publish).
func StartClientSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}
