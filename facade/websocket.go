// File: facade/websocket.go
// Unified entry point for the wsloop engine.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// This file defines the WebSocket struct, which assembles the engine's
// components behind a single handle: the command queue, an optional
// listener, the dispatcher, and the ambient services (logging, metrics,
// debug probes, handler middleware). Applications that need more
// control build the dispatch package directly; everything here is
// assembly, not behavior.

package facade

import (
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/momentics/wsloop/adapters"
	"github.com/momentics/wsloop/api"
	"github.com/momentics/wsloop/comm"
	"github.com/momentics/wsloop/control"
	"github.com/momentics/wsloop/dispatch"
	"github.com/momentics/wsloop/transport"
)

// Option adjusts the engine before any resource is allocated.
type Option func(*WebSocket)

// WithSettings replaces the default engine settings.
func WithSettings(s api.Settings) Option {
	return func(ws *WebSocket) { ws.settings = s }
}

// WithLogger attaches a structured logger. The default discards
// everything.
func WithLogger(log *zap.Logger) Option {
	return func(ws *WebSocket) { ws.log = log }
}

// WithMetrics attaches a registry the dispatcher updates with engine
// counters.
func WithMetrics(m *control.MetricsRegistry) Option {
	return func(ws *WebSocket) { ws.metrics = m }
}

// WithProbes attaches a debug probe registry. The engine contributes
// command-queue probes to it on Run.
func WithProbes(p *control.DebugProbes) Option {
	return func(ws *WebSocket) { ws.probes = p }
}

// WithProtocols restricts handshake subprotocol negotiation.
func WithProtocols(protocols ...string) Option {
	return func(ws *WebSocket) { ws.protocols = protocols }
}

// WithMiddleware wraps every connection's handler, first middleware
// outermost.
func WithMiddleware(mw ...adapters.Middleware) Option {
	return func(ws *WebSocket) { ws.middleware = append(ws.middleware, mw...) }
}

// WebSocket is the assembled engine. One WebSocket drives any number of
// server and client connections on a single driver goroutine.
type WebSocket struct {
	settings   api.Settings
	factory    comm.Factory
	log        *zap.Logger
	metrics    *control.MetricsRegistry
	probes     *control.DebugProbes
	protocols  []string
	middleware []adapters.Middleware

	queue    *comm.Queue
	listener transport.Listener
}

// New assembles an engine around factory. Settings default to
// DefaultSettings; options adjust them before the command queue is
// sized.
func New(factory comm.Factory, opts ...Option) (*WebSocket, error) {
	if factory == nil {
		return nil, api.NewError(api.KindInternal, "engine requires a connection factory")
	}
	ws := &WebSocket{
		settings: api.DefaultSettings(),
		factory:  factory,
		log:      zap.NewNop(),
	}
	for _, o := range opts {
		o(ws)
	}
	if err := ws.settings.Validate(); err != nil {
		return nil, err
	}
	ws.queue = comm.NewQueue(ws.settings.QueueCapacity())
	return ws, nil
}

// Listen binds addr for inbound connections. Must be called before Run.
func (ws *WebSocket) Listen(addr string) error {
	if ws.listener != nil {
		return api.NewError(api.KindInternal, "engine is already listening")
	}
	l, err := transport.Listen(addr, transport.FromSettings(ws.settings))
	if err != nil {
		return api.WrapError(api.KindIO, "listen failed", err)
	}
	ws.listener = l
	return nil
}

// LocalAddr reports the bound listen address with the ephemeral port
// resolved, or "" when the engine does not listen.
func (ws *WebSocket) LocalAddr() string {
	if ws.listener == nil {
		return ""
	}
	return ws.listener.Addr()
}

// Connect queues an outbound connection to rawurl. Connections queued
// before Run are dialed as soon as the driver starts; the new
// connection's handler comes from the engine's factory.
func (ws *WebSocket) Connect(rawurl string) error {
	u, err := url.Parse(rawurl)
	if err != nil {
		return api.WrapError(api.KindInternal, "invalid connect url", err)
	}
	return ws.Broadcaster().Connect(u)
}

// Broadcaster returns a handle addressing every live connection. Safe
// to clone and hand to any goroutine.
func (ws *WebSocket) Broadcaster() *comm.Sender {
	return comm.NewSender(api.All, 0, ws.queue)
}

// Shutdown requests a graceful stop: every connection is closed and Run
// returns once they drain.
func (ws *WebSocket) Shutdown() error {
	return ws.Broadcaster().Shutdown()
}

// Run builds the dispatcher and drives the engine until a shutdown
// drains every connection. It must be called at most once; Run cleans
// up the listener and queue itself.
func (ws *WebSocket) Run() error {
	d, err := dispatch.New(dispatch.Config{
		Settings:  ws.settings,
		Factory:   ws.wrapFactory(),
		Queue:     ws.queue,
		Listener:  ws.listener,
		Protocols: ws.protocols,
		Logger:    ws.log,
		Metrics:   ws.metrics,
	})
	if err != nil {
		return err
	}
	ws.registerProbes()
	if ws.settings.ShutdownOnInterrupt {
		stop := ws.watchInterrupt()
		defer stop()
	}
	return d.Run()
}

// Close releases the resources of an engine that never ran.
func (ws *WebSocket) Close() error {
	ws.queue.Close()
	if ws.listener == nil {
		return nil
	}
	err := ws.listener.Close()
	ws.listener = nil
	return err
}

// wrapFactory layers the configured middleware over the application
// factory. Without middleware the factory passes through untouched so
// ConnectionLost hands back the exact handler the factory produced.
func (ws *WebSocket) wrapFactory() comm.Factory {
	if len(ws.middleware) == 0 {
		return ws.factory
	}
	return &decoratedFactory{inner: ws.factory, mw: ws.middleware}
}

type decoratedFactory struct {
	inner comm.Factory
	mw    []adapters.Middleware
}

func (f *decoratedFactory) ConnectionMade(out *comm.Sender) api.Handler {
	return adapters.Chain(f.inner.ConnectionMade(out), f.mw...)
}

func (f *decoratedFactory) ConnectionLost(h api.Handler) {
	if ln, ok := f.inner.(comm.LostNotifier); ok {
		ln.ConnectionLost(h)
	}
}

func (ws *WebSocket) registerProbes() {
	if ws.probes == nil {
		return
	}
	q := ws.queue
	ws.probes.RegisterProbe("queue.len", func() any { return q.Len() })
	ws.probes.RegisterProbe("queue.cap", func() any { return q.Cap() })
}

// watchInterrupt converts SIGINT and SIGTERM into a graceful shutdown
// request. The returned stop function detaches the handler.
func (ws *WebSocket) watchInterrupt() func() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		select {
		case <-ch:
			ws.log.Info("interrupt received, shutting down")
			if err := ws.Shutdown(); err != nil {
				ws.log.Warn("shutdown request failed", zap.Error(err))
			}
		case <-done:
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}

// Serve listens on addr and runs the engine until shutdown. Short form
// for server-only deployments.
func Serve(addr string, factory comm.Factory, opts ...Option) error {
	ws, err := New(factory, opts...)
	if err != nil {
		return err
	}
	if err := ws.Listen(addr); err != nil {
		return err
	}
	return ws.Run()
}

// Connect dials target and runs the engine until shutdown. Short form
// for client-only deployments.
func Connect(target string, factory comm.Factory, opts ...Option) error {
	ws, err := New(factory, opts...)
	if err != nil {
		return err
	}
	if err := ws.Connect(target); err != nil {
		return err
	}
	return ws.Run()
}
