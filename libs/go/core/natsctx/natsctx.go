package natsctx

import (
	"context"
	"time"

	nats "github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var propagator = propagation.TraceContext{}

// Publish injects the current trace context into NATS headers and publishes.
func Publish(ctx context.Context, nc *nats.Conn, subject string, data []byte) error {
	msg := &nats.Msg{Subject: subject, Data: data, Header: nats.Header{}}
	propagator.Inject(ctx, propagation.HeaderCarrier(msg.Header))
	return nc.PublishMsg(msg)
}

// Request is Publish with a reply, propagating trace context both ways.
func Request(ctx context.Context, nc *nats.Conn, subject string, data []byte, timeout time.Duration) (*nats.Msg, error) {
	msg := &nats.Msg{Subject: subject, Data: data, Header: nats.Header{}}
	propagator.Inject(ctx, propagation.HeaderCarrier(msg.Header))
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return nc.RequestMsgWithContext(reqCtx, msg)
}

// Subscribe wraps nc.Subscribe, extracting trace context from each message
// and running the handler inside a consumer span.
func Subscribe(nc *nats.Conn, subject string, handler func(context.Context, *nats.Msg)) (*nats.Subscription, error) {
	return nc.Subscribe(subject, func(m *nats.Msg) {
		ctx := propagator.Extract(context.Background(), propagation.HeaderCarrier(m.Header))
		ctx, span := otel.Tracer("swarm-nats").Start(ctx, "nats.consume",
			trace.WithSpanKind(trace.SpanKindConsumer))
		defer span.End()
		handler(ctx, m)
	})
}
