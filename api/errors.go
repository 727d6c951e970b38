// File: api/errors.go
// Author: momentics <momentics@gmail.com>
//
// Structured error taxonomy consumed by the per-connection error-policy
// funnel, plus the sentinel errors used across the library.

package api

import (
	"errors"
	"fmt"
)

// Sentinel errors used across the library.
var (
	// ErrWouldBlock reports that a non-blocking stream operation made no
	// progress. It is flow control inside the driver and never reaches
	// application handlers.
	ErrWouldBlock = errors.New("operation would block")

	// ErrQueueFull is the backpressure signal: the bounded command
	// channel is at capacity and the enqueue was rejected.
	ErrQueueFull = &Error{Kind: KindQueue, Msg: "command queue is full"}

	// ErrQueueClosed reports an enqueue after the engine stopped.
	ErrQueueClosed = &Error{Kind: KindQueue, Msg: "engine is shut down"}
)

// Kind classifies a failure for the error-policy funnel. The kind
// selects the recovery action (close code, hard disconnect, continue)
// and whether the failure may escalate to a fatal stop per Settings.
type Kind int

const (
	// KindInternal is a programming-contract violation inside the engine.
	KindInternal Kind = iota
	// KindCapacity reports buffer or queue limits exhausted with growth
	// disabled.
	KindCapacity
	// KindProtocol is a malformed handshake or frame-level violation by
	// the peer.
	KindProtocol
	// KindEncoding reports a payload that failed validation, such as a
	// text message that is not UTF-8.
	KindEncoding
	// KindIO is a transport-level read/write failure.
	KindIO
	// KindTLS is a secure-transport negotiation failure.
	KindTLS
	// KindQueue is a command-channel failure.
	KindQueue
	// KindTimer is a timer-subsystem failure.
	KindTimer
	// KindResponse reports a failure surfaced while writing an
	// application-supplied handshake response.
	KindResponse
	// KindCustom is raised by application handlers and opaque to the
	// engine.
	KindCustom
)

func (k Kind) String() string {
	switch k {
	case KindInternal:
		return "internal"
	case KindCapacity:
		return "capacity"
	case KindProtocol:
		return "protocol"
	case KindEncoding:
		return "encoding"
	case KindIO:
		return "io"
	case KindTLS:
		return "tls"
	case KindQueue:
		return "queue"
	case KindTimer:
		return "timer"
	case KindResponse:
		return "response"
	case KindCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// Error is the structured failure type routed through a connection's
// error funnel.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s error: %s", e.Kind, e.Msg)
	}
}

// Unwrap exposes the underlying cause for errors.Is and errors.As.
func (e *Error) Unwrap() error { return e.Err }

// NewError creates a structured error of the given kind.
func NewError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// WrapError attaches a kind and description to an underlying error.
func WrapError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// AsError normalizes any error into the structured form. Errors raised
// by application handlers without a kind are classified KindCustom.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindCustom, Err: err}
}

// KindOf extracts the kind from any error, classifying foreign errors
// as KindCustom.
func KindOf(err error) Kind {
	return AsError(err).Kind
}
