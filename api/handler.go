// File: api/handler.go
// Package api defines the Handler extension point.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// Handler receives the lifecycle callbacks of one connection. Every
// callback runs synchronously on the driver goroutine, so a slow
// callback stalls every connection the driver owns. Handlers never
// touch the connection directly; they act through the Sender handle
// given to them at construction time.
//
// Embed NopHandler to implement only the callbacks you need.
type Handler interface {
	// OnOpen fires once, when the handshake completes.
	OnOpen() error

	// OnMessage delivers one decoded data message.
	OnMessage(msg Message) error

	// OnClose fires when the close handshake resolves or the connection
	// drops. code is CloseAbnormal for non-graceful teardown.
	OnClose(code CloseCode, reason string)

	// OnError reports every failure the error policy routes to the
	// application, whatever recovery action follows.
	OnError(err *Error)

	// OnTimeout delivers a previously scheduled timeout event.
	OnTimeout(event Token) error

	// OnNewTimeout hands over the cancellation handle for a timeout
	// scheduled through Sender.Timeout.
	OnNewTimeout(event Token, t *Timeout) error

	// OnShutdown fires when a global shutdown begins, before the
	// connection's graceful close.
	OnShutdown()
}

// NopHandler implements Handler with no-op callbacks.
type NopHandler struct{}

func (NopHandler) OnOpen() error { return nil }

func (NopHandler) OnMessage(Message) error { return nil }

func (NopHandler) OnClose(CloseCode, string) {}

func (NopHandler) OnError(*Error) {}

func (NopHandler) OnTimeout(Token) error { return nil }

func (NopHandler) OnNewTimeout(Token, *Timeout) error { return nil }

func (NopHandler) OnShutdown() {}

var _ Handler = NopHandler{}
