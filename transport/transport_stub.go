//go:build !linux
// +build !linux

// File: transport/transport_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for unsupported platforms.

package transport

import (
	"errors"

	"github.com/momentics/wsloop/api"
)

var errUnsupported = errors.New("transport: this platform is not supported")

// Listen returns an error for unsupported platforms.
func Listen(addr string, opts Options) (Listener, error) {
	return nil, errUnsupported
}

// Dial returns an error for unsupported platforms.
func Dial(addr string, opts Options) (api.Stream, error) {
	return nil, errUnsupported
}
