package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/danmuck/vcsrpc"

// Tracer resolves the tracer from the global provider. Binaries that export
// traces install a provider with otel.SetTracerProvider before serving.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartConnSpan opens the span covering one accepted connection.
func StartConnSpan(ctx context.Context, node, transport, remote string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "vcsrpc.conn",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("vcsrpc.node", node),
			attribute.String("vcsrpc.transport", transport),
			attribute.String("net.peer.addr", remote),
		),
	)
}
