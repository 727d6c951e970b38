// File: transport/transport.go
// Author: momentics <momentics@gmail.com>
//
// Package transport provides non-blocking TCP sockets shaped for the
// readiness-driven connection driver. Every descriptor it hands out is
// already in non-blocking mode and safe to register with the reactor.

package transport

import "github.com/momentics/wsloop/api"

// Listener accepts inbound streams without blocking.
type Listener interface {
	// Accept returns the next pending connection, or api.ErrWouldBlock
	// when the backlog is empty.
	Accept() (api.Stream, error)

	// Fd exposes the listening descriptor for reactor registration.
	Fd() uintptr

	// Addr is the bound address, with the ephemeral port resolved.
	Addr() string

	Close() error
}

// Options shape newly created sockets.
type Options struct {
	// NoDelay disables Nagle's algorithm on accepted and dialed
	// sockets.
	NoDelay bool
}

// FromSettings derives socket options from engine settings.
func FromSettings(s api.Settings) Options {
	return Options{NoDelay: s.TCPNoDelay}
}
