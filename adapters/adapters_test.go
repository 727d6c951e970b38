// File: adapters/adapters_test.go
// Author: momentics <momentics@gmail.com>

package adapters

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/momentics/wsloop/api"
)

// capture records which callbacks reached the innermost handler.
type capture struct {
	calls  []string
	msgErr error
}

func (c *capture) OnOpen() error { c.calls = append(c.calls, "open"); return nil }

func (c *capture) OnClose(api.CloseCode, string) { c.calls = append(c.calls, "close") }

func (c *capture) OnError(*api.Error) { c.calls = append(c.calls, "error") }

func (c *capture) OnTimeout(api.Token) error { c.calls = append(c.calls, "timeout"); return nil }

func (c *capture) OnShutdown() { c.calls = append(c.calls, "shutdown") }

func (c *capture) OnMessage(api.Message) error {
	c.calls = append(c.calls, "message")
	return c.msgErr
}

func (c *capture) OnNewTimeout(api.Token, *api.Timeout) error {
	c.calls = append(c.calls, "new_timeout")
	return nil
}

type trailWrapper struct {
	api.Handler
	name  string
	trail *[]string
}

func (w *trailWrapper) OnOpen() error {
	*w.trail = append(*w.trail, w.name)
	return w.Handler.OnOpen()
}

func tag(name string, trail *[]string) Middleware {
	return func(next api.Handler) api.Handler {
		return &trailWrapper{Handler: next, name: name, trail: trail}
	}
}

func TestChain_FirstMiddlewareOutermost(t *testing.T) {
	var trail []string
	base := &trailWrapper{Handler: api.NopHandler{}, name: "base", trail: &trail}

	h := Chain(base, tag("outer", &trail), tag("inner", &trail))
	require.NoError(t, h.OnOpen())
	require.Equal(t, []string{"outer", "inner", "base"}, trail)
}

func TestChain_NoMiddlewareReturnsBase(t *testing.T) {
	base := &capture{}
	require.Same(t, api.Handler(base), Chain(base))
}

func newTraceFixture() (*tracetest.InMemoryExporter, *sdktrace.TracerProvider) {
	exp := tracetest.NewInMemoryExporter()
	return exp, sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
}

func TestTraceHandler_SpanPerCallback(t *testing.T) {
	exp, tp := newTraceFixture()
	base := &capture{}
	h := TraceHandler(base, tp)

	require.NoError(t, h.OnOpen())
	require.NoError(t, h.OnMessage(api.TextMessage("ping")))
	require.NoError(t, h.OnNewTimeout(api.Token(9), &api.Timeout{ID: 1, Event: 9}))
	require.NoError(t, h.OnTimeout(api.Token(9)))
	h.OnError(&api.Error{Kind: api.KindProtocol, Msg: "bad frame"})
	h.OnClose(api.CloseNormal, "done")
	h.OnShutdown()

	spans := exp.GetSpans()
	names := make([]string, len(spans))
	for i, s := range spans {
		names[i] = s.Name
	}
	// OnNewTimeout passes through without a span of its own.
	require.Equal(t, []string{"ws.open", "ws.message", "ws.timeout", "ws.error", "ws.close", "ws.shutdown"}, names)
	require.Equal(t,
		[]string{"open", "message", "new_timeout", "timeout", "error", "close", "shutdown"},
		base.calls)

	msg := spans[1]
	require.Contains(t, msg.Attributes, attribute.String("ws.opcode", "text"))
	require.Contains(t, msg.Attributes, attribute.Int("ws.payload_bytes", 4))

	closed := spans[4]
	require.Contains(t, closed.Attributes, attribute.Int("ws.close_code", 1000))
	require.Contains(t, closed.Attributes, attribute.String("ws.close_reason", "done"))
}

func TestTraceHandler_ErrorCallbackMarksSpan(t *testing.T) {
	exp, tp := newTraceFixture()
	h := TraceHandler(&capture{}, tp)

	h.OnError(&api.Error{Kind: api.KindCapacity, Msg: "queue full"})

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	require.Equal(t, "ws.error", spans[0].Name)
	require.Contains(t, spans[0].Attributes, attribute.String("ws.error_kind", "capacity"))
	require.Equal(t, codes.Error, spans[0].Status.Code)
	require.NotEmpty(t, spans[0].Events)
}

func TestTraceHandler_FailedCallbackMarksSpan(t *testing.T) {
	exp, tp := newTraceFixture()
	boom := errors.New("boom")
	h := TraceHandler(&capture{msgErr: boom}, tp)

	require.ErrorIs(t, h.OnMessage(api.BinaryMessage([]byte{1, 2})), boom)

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	require.Equal(t, codes.Error, spans[0].Status.Code)
	require.Equal(t, "boom", spans[0].Status.Description)
}

func TestTraceHandler_NilProviderFallsBackToGlobal(t *testing.T) {
	base := &capture{}
	h := TraceHandler(base, nil)

	require.NoError(t, h.OnOpen())
	require.Equal(t, []string{"open"}, base.calls)
}

func TestLogHandler_LogsAndForwards(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	base := &capture{}
	h := LogHandler(base, zap.New(core))

	require.NoError(t, h.OnOpen())
	require.NoError(t, h.OnMessage(api.TextMessage("hey")))
	h.OnError(&api.Error{Kind: api.KindIO, Msg: "read failed"})
	h.OnClose(api.CloseAway, "moving")

	require.Equal(t, []string{"open", "message", "error", "close"}, base.calls)
	require.Equal(t, 1, logs.FilterMessage("message received").Len())
	require.Equal(t, 1, logs.FilterMessage("connection error").Len())
	require.Equal(t, 1, logs.FilterLevelExact(zapcore.WarnLevel).Len())
}

func TestLogHandler_NilLoggerIsSafe(t *testing.T) {
	base := &capture{}
	h := LogHandler(base, nil)

	require.NoError(t, h.OnTimeout(api.Token(3)))
	require.Equal(t, []string{"timeout"}, base.calls)
}

func TestMiddleware_ComposeThroughChain(t *testing.T) {
	exp, tp := newTraceFixture()
	core, logs := observer.New(zapcore.DebugLevel)
	base := &capture{}

	h := Chain(base, TraceMiddleware(tp), LogMiddleware(zap.New(core)))
	require.NoError(t, h.OnOpen())

	require.Equal(t, []string{"open"}, base.calls)
	require.Len(t, exp.GetSpans(), 1)
	require.Equal(t, 1, logs.FilterMessage("connection open").Len())
}
