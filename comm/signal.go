// File: comm/signal.go
// Author: momentics <momentics@gmail.com>
//
// Signal vocabulary and Command envelope. Pure data: a Signal is built
// by a Sender, wrapped in a Command, and consumed exactly once by the
// connection the dispatcher routes it to.

package comm

import (
	"net/url"
	"time"

	"github.com/momentics/wsloop/api"
)

// SignalKind tags the variants of Signal.
type SignalKind int

const (
	// SignalMessage carries an outgoing data message.
	SignalMessage SignalKind = iota
	// SignalClose requests a graceful close handshake.
	SignalClose
	// SignalConnect requests a new outbound connection.
	SignalConnect
	// SignalShutdown requests the whole engine stop.
	SignalShutdown
	// SignalTimeout schedules a future OnTimeout callback.
	SignalTimeout
	// SignalCancel requests best-effort suppression of a scheduled
	// timeout.
	SignalCancel
)

func (k SignalKind) String() string {
	switch k {
	case SignalMessage:
		return "message"
	case SignalClose:
		return "close"
	case SignalConnect:
		return "connect"
	case SignalShutdown:
		return "shutdown"
	case SignalTimeout:
		return "timeout"
	case SignalCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// Signal is the tagged union of cross-goroutine requests. Only the
// fields of the tagged variant are meaningful.
type Signal struct {
	Kind SignalKind

	// SignalMessage
	Message api.Message

	// SignalClose
	Code   api.CloseCode
	Reason string

	// SignalConnect
	Target *url.URL

	// SignalTimeout
	Delay time.Duration
	Event api.Token

	// SignalCancel
	Handle *api.Timeout
}

// Command addresses one Signal to one connection. ConnectionID pins the
// command to the logical connection that created the Sender: if the
// token was retired and reused, the dispatcher drops the stale command
// instead of delivering it to the new occupant.
type Command struct {
	Token        api.Token
	ConnectionID uint32
	Signal       Signal
}
