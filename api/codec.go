// File: api/codec.go
// Author: momentics <momentics@gmail.com>
//
// Wire-grammar boundary. The engine core never parses frame or HTTP
// bytes itself: it hands buffered input to a FrameCodec and a Handshake
// implementation and consumes their decoded results.

package api

import "net/url"

// Frame is one decoded incoming frame after fragmentation has been
// resolved. Data frames carry Op and Payload; close frames additionally
// carry the peer's code and reason.
type Frame struct {
	Op      Opcode
	Payload []byte
	Code    CloseCode
	Reason  string
}

// FrameCodec encodes outgoing traffic into wire bytes and decodes
// buffered input into frames. Implementations hold per-connection state
// (masking role, fragment reassembly) and are not safe for concurrent
// use; the driver is their only caller.
type FrameCodec interface {
	// EncodeMessage produces the wire bytes of one data message,
	// splitting oversized payloads into continuation frames.
	EncodeMessage(m Message) ([]byte, error)

	// EncodeClose produces the wire bytes of a close frame.
	EncodeClose(code CloseCode, reason string) ([]byte, error)

	// EncodeControl produces the wire bytes of a ping or pong frame.
	EncodeControl(op Opcode, payload []byte) ([]byte, error)

	// Decode parses the first complete frame from p. n is the number of
	// bytes consumed; n == 0 means p holds no complete frame yet and f
	// is meaningless. Control frames interleaved inside a fragment
	// train are surfaced as they arrive. Violations return errors of
	// KindProtocol or KindEncoding.
	Decode(p []byte) (f Frame, n int, err error)
}

// Handshake performs the HTTP upgrade grammar at the connecting
// boundary. Like FrameCodec, one instance serves one connection.
type Handshake interface {
	// BuildRequest produces the upgrade request a client sends for the
	// target URL.
	BuildRequest(target *url.URL) ([]byte, error)

	// ReadRequest parses an accumulated request prefix on the server
	// side. n == 0 means the request is still incomplete. On success it
	// returns the response bytes to queue and the number of request
	// bytes consumed; trailing bytes belong to the frame layer.
	ReadRequest(p []byte) (resp []byte, n int, err error)

	// ReadResponse parses an accumulated response prefix on the client
	// side. n == 0 means the response is still incomplete.
	ReadResponse(p []byte) (n int, err error)
}
