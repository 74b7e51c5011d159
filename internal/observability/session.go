package observability

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SessionObserver feeds session events into the prometheus collectors and
// opens one span per dispatched message. Operation labels are limited to the
// names it was built with; anything else a peer sends counts as "other".
type SessionObserver struct {
	ctx    context.Context
	node   string
	ops    map[string]struct{}
	tracer trace.Tracer
}

// NewSessionObserver builds an observer whose spans are children of ctx.
func NewSessionObserver(ctx context.Context, node string, ops []string) *SessionObserver {
	RegisterMetrics()
	if ctx == nil {
		ctx = context.Background()
	}
	known := make(map[string]struct{}, len(ops))
	for _, op := range ops {
		known[op] = struct{}{}
	}
	return &SessionObserver{ctx: ctx, node: node, ops: known, tracer: Tracer()}
}

func (o *SessionObserver) label(op string) string {
	if _, ok := o.ops[op]; ok {
		return op
	}
	return opOther
}

func (o *SessionObserver) MessageSent(op string, bytes int) {
	rpcMessages.WithLabelValues(o.node, "send", o.label(op)).Inc()
	rpcBytes.WithLabelValues(o.node, "send").Add(float64(bytes))
}

func (o *SessionObserver) MessageReceived(op string, bytes int) {
	rpcMessages.WithLabelValues(o.node, "recv", o.label(op)).Inc()
	rpcBytes.WithLabelValues(o.node, "recv").Add(float64(bytes))
}

func (o *SessionObserver) FlowMarker(fseq, rseq int64) {
	flowMarkers.WithLabelValues(o.node).Inc()
}

func (o *SessionObserver) HandlerStart(op string) func(error) {
	label := o.label(op)
	start := time.Now()
	_, span := o.tracer.Start(o.ctx, "vcsrpc.dispatch "+label,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("vcsrpc.node", o.node),
			attribute.String("vcsrpc.op", op),
		),
	)
	return func(err error) {
		success := err == nil
		handlerDuration.WithLabelValues(o.node, label, strconv.FormatBool(success)).
			Observe(time.Since(start).Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}
