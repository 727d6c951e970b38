// File: conn/state.go
// Author: momentics <momentics@gmail.com>
//
// Lifecycle state and endpoint role of a connection.

package conn

// State tracks a connection through the protocol lifecycle. Transitions
// are monotonic along Connecting -> Open -> {AwaitingClose |
// RespondingClose} -> FinishedClose; the only backward move is a client
// Reset, which re-enters Connecting on a fresh socket.
type State int

const (
	// StateConnecting covers everything before the upgrade completes:
	// socket establishment and the HTTP handshake byte exchange.
	StateConnecting State = iota
	// StateOpen permits message traffic in both directions.
	StateOpen
	// StateAwaitingClose means this side initiated a close and is
	// waiting for the peer's confirming close frame.
	StateAwaitingClose
	// StateRespondingClose means the peer initiated a close and this
	// side is sending its confirming close frame.
	StateRespondingClose
	// StateFinishedClose means the close handshake is resolved; the
	// socket is torn down once buffered output drains.
	StateFinishedClose
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateAwaitingClose:
		return "awaiting close"
	case StateRespondingClose:
		return "responding close"
	case StateFinishedClose:
		return "finished close"
	default:
		return "invalid"
	}
}

// IsClosing reports whether a close handshake has begun.
func (s State) IsClosing() bool {
	return s == StateAwaitingClose || s == StateRespondingClose || s == StateFinishedClose
}

// Endpoint distinguishes the two roles a connection can play. The role
// decides masking (clients mask outgoing frames) and whether
// reconnection is permitted.
type Endpoint int

const (
	Server Endpoint = iota
	Client
)

func (e Endpoint) String() string {
	if e == Client {
		return "client"
	}
	return "server"
}
