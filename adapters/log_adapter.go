// File: adapters/log_adapter.go
// Author: momentics <momentics@gmail.com>

package adapters

import (
	"go.uber.org/zap"

	"github.com/momentics/wsloop/api"
)

// LogMiddleware builds a Middleware logging every handler callback.
func LogMiddleware(log *zap.Logger) Middleware {
	return func(next api.Handler) api.Handler {
		return LogHandler(next, log)
	}
}

// LogHandler wraps base so every callback is logged before it runs.
// Data-plane callbacks log at debug, failures at warn.
func LogHandler(base api.Handler, log *zap.Logger) api.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &loggingHandler{next: base, log: log}
}

type loggingHandler struct {
	next api.Handler
	log  *zap.Logger
}

func (h *loggingHandler) OnOpen() error {
	h.log.Debug("connection open")
	return h.next.OnOpen()
}

func (h *loggingHandler) OnMessage(m api.Message) error {
	h.log.Debug("message received",
		zap.Stringer("opcode", m.Op),
		zap.Int("payload_bytes", len(m.Payload)))
	return h.next.OnMessage(m)
}

func (h *loggingHandler) OnClose(code api.CloseCode, reason string) {
	h.log.Debug("connection closed",
		zap.Uint16("code", uint16(code)),
		zap.String("reason", reason))
	h.next.OnClose(code, reason)
}

func (h *loggingHandler) OnError(e *api.Error) {
	h.log.Warn("connection error",
		zap.Stringer("kind", e.Kind),
		zap.Error(e))
	h.next.OnError(e)
}

func (h *loggingHandler) OnTimeout(event api.Token) error {
	h.log.Debug("timeout fired", zap.Uint64("event", uint64(event)))
	return h.next.OnTimeout(event)
}

func (h *loggingHandler) OnNewTimeout(event api.Token, t *api.Timeout) error {
	h.log.Debug("timeout scheduled",
		zap.Uint64("event", uint64(event)),
		zap.Uint64("id", t.ID))
	return h.next.OnNewTimeout(event, t)
}

func (h *loggingHandler) OnShutdown() {
	h.log.Debug("shutdown notified")
	h.next.OnShutdown()
}
