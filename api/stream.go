// File: api/stream.go
// Author: momentics <momentics@gmail.com>
//
// Non-blocking byte-stream contract between a connection and its
// transport. Secure transports surface their handshake phases through
// the negotiation toggle; the engine never sees TLS mechanics.

package api

// Stream is the byte stream a connection drives. All methods are
// called from the driver goroutine only.
type Stream interface {
	// TryRead reads available bytes into p without blocking. It returns
	// ErrWouldBlock when nothing is available and io.EOF at end of
	// stream.
	TryRead(p []byte) (int, error)

	// TryWrite writes as much of p as the transport accepts without
	// blocking. It returns ErrWouldBlock when no progress is possible.
	TryWrite(p []byte) (int, error)

	// Negotiating reports whether a secure-transport handshake step is
	// pending. Plain TCP streams always report false.
	Negotiating() bool

	// ClearNegotiating acknowledges the pending handshake step so the
	// driver can retry the stalled operation in the opposite direction.
	ClearNegotiating() error

	// Fd exposes the descriptor for readiness registration.
	Fd() uintptr

	// RemoteAddr names the peer for logging.
	RemoteAddr() string

	Close() error
}
