// File: adapters/handler_adapter.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package adapters provides decorators that wrap application handlers
// with cross-cutting behavior: tracing, logging, and composition. The
// engine calls every handler on the driver goroutine; decorators keep
// that property by staying synchronous.
package adapters

import (
	"github.com/momentics/wsloop/api"
)

// Middleware decorates a handler. The engine's factory applies the
// chain once per connection, so middleware may carry per-connection
// state.
type Middleware func(api.Handler) api.Handler

// Chain wraps base so the first middleware listed is outermost.
func Chain(base api.Handler, mw ...Middleware) api.Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		base = mw[i](base)
	}
	return base
}
