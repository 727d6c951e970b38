// File: adapters/trace_adapter.go
// Author: momentics <momentics@gmail.com>
//
// OpenTelemetry span decoration for connection handlers. Spans are
// root spans: the wire protocol carries no trace context, so there is
// no parent to continue.

package adapters

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/momentics/wsloop/api"
)

const tracerName = "github.com/momentics/wsloop/adapters"

// TraceMiddleware builds a Middleware emitting one span per handler
// callback. A nil provider falls back to the global one.
func TraceMiddleware(tp trace.TracerProvider) Middleware {
	return func(next api.Handler) api.Handler {
		return TraceHandler(next, tp)
	}
}

// TraceHandler wraps base so every callback runs inside a span.
func TraceHandler(base api.Handler, tp trace.TracerProvider) api.Handler {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &tracingHandler{next: base, tracer: tp.Tracer(tracerName)}
}

type tracingHandler struct {
	next   api.Handler
	tracer trace.Tracer
}

func (h *tracingHandler) OnOpen() error {
	_, span := h.tracer.Start(context.Background(), "ws.open")
	defer span.End()
	return spanResult(span, h.next.OnOpen())
}

func (h *tracingHandler) OnMessage(m api.Message) error {
	_, span := h.tracer.Start(context.Background(), "ws.message", trace.WithAttributes(
		attribute.String("ws.opcode", m.Op.String()),
		attribute.Int("ws.payload_bytes", len(m.Payload)),
	))
	defer span.End()
	return spanResult(span, h.next.OnMessage(m))
}

func (h *tracingHandler) OnClose(code api.CloseCode, reason string) {
	_, span := h.tracer.Start(context.Background(), "ws.close", trace.WithAttributes(
		attribute.Int("ws.close_code", int(code)),
		attribute.String("ws.close_reason", reason),
	))
	defer span.End()
	h.next.OnClose(code, reason)
}

func (h *tracingHandler) OnError(e *api.Error) {
	_, span := h.tracer.Start(context.Background(), "ws.error", trace.WithAttributes(
		attribute.Stringer("ws.error_kind", e.Kind),
	))
	defer span.End()
	span.RecordError(e)
	span.SetStatus(codes.Error, e.Error())
	h.next.OnError(e)
}

func (h *tracingHandler) OnTimeout(event api.Token) error {
	_, span := h.tracer.Start(context.Background(), "ws.timeout", trace.WithAttributes(
		attribute.Int64("ws.timeout_event", int64(event)),
	))
	defer span.End()
	return spanResult(span, h.next.OnTimeout(event))
}

// OnNewTimeout is bookkeeping, not work; it passes through unspanned.
func (h *tracingHandler) OnNewTimeout(event api.Token, t *api.Timeout) error {
	return h.next.OnNewTimeout(event, t)
}

func (h *tracingHandler) OnShutdown() {
	_, span := h.tracer.Start(context.Background(), "ws.shutdown")
	defer span.End()
	h.next.OnShutdown()
}

func spanResult(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
