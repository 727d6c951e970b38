// File: protocol/codec.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package protocol binds the engine's frame and handshake contracts to
// the RFC 6455 wire grammar. Everything operates on plain byte slices
// so the connection state machine can feed it from its own buffers
// without extra reader goroutines.

package protocol

import (
	"bytes"
	"errors"
	"io"
	"unicode/utf8"

	"github.com/eapache/queue"
	"github.com/gobwas/ws"

	"github.com/momentics/wsloop/api"
)

// maxControlPayload is the RFC 6455 limit for control frame payloads.
const maxControlPayload = 125

// Codec translates between buffered wire bytes and single frames. One
// instance belongs to one connection: fragment reassembly state lives
// here between Decode calls. A Decode that consumes bytes but has no
// complete message to hand over yet reports a continuation frame.
type Codec struct {
	side     ws.State
	mask     bool
	settings api.Settings

	// reassembly of a fragmented message in flight
	pending    *queue.Queue
	pendingOp  api.Opcode
	pendingLen int
}

// NewServerCodec decodes masked client frames and emits unmasked ones.
func NewServerCodec(settings api.Settings) *Codec {
	return &Codec{side: ws.StateServerSide, settings: settings}
}

// NewClientCodec decodes unmasked server frames and masks everything it
// emits.
func NewClientCodec(settings api.Settings) *Codec {
	return &Codec{side: ws.StateClientSide, mask: true, settings: settings}
}

var _ api.FrameCodec = (*Codec)(nil)

// EncodeMessage serializes one data message, splitting payloads larger
// than the configured fragment size across continuation frames.
func (c *Codec) EncodeMessage(m api.Message) ([]byte, error) {
	if !m.Valid() {
		return nil, api.NewError(api.KindEncoding, "text message payload is not valid utf-8")
	}
	limit := c.settings.FragmentSize
	if limit <= 0 || len(m.Payload) <= limit {
		return c.compile(ws.NewFrame(ws.OpCode(m.Op), true, m.Payload))
	}
	var out []byte
	op := ws.OpCode(m.Op)
	rest := m.Payload
	for len(rest) > limit {
		bts, err := c.compile(ws.NewFrame(op, false, rest[:limit]))
		if err != nil {
			return nil, err
		}
		out = append(out, bts...)
		rest = rest[limit:]
		op = ws.OpContinuation
	}
	bts, err := c.compile(ws.NewFrame(op, true, rest))
	if err != nil {
		return nil, err
	}
	return append(out, bts...), nil
}

// EncodeClose serializes a close frame. The no-status code produces an
// empty body because RFC 6455 forbids putting 1005 on the wire.
func (c *Codec) EncodeClose(code api.CloseCode, reason string) ([]byte, error) {
	if code == api.CloseStatus || code == 0 {
		return c.compile(ws.NewCloseFrame(nil))
	}
	if max := maxControlPayload - 2; len(reason) > max {
		reason = reason[:max]
		for len(reason) > 0 && !utf8.ValidString(reason) {
			reason = reason[:len(reason)-1]
		}
	}
	body := ws.NewCloseFrameBody(ws.StatusCode(code), reason)
	return c.compile(ws.NewCloseFrame(body))
}

// EncodeControl serializes a ping or pong frame.
func (c *Codec) EncodeControl(op api.Opcode, payload []byte) ([]byte, error) {
	if !op.IsControl() {
		return nil, api.NewError(api.KindInternal, "opcode is not a control opcode")
	}
	if len(payload) > maxControlPayload {
		return nil, api.NewError(api.KindProtocol, "control frame payload exceeds 125 bytes")
	}
	return c.compile(ws.NewFrame(ws.OpCode(op), true, payload))
}

func (c *Codec) compile(f ws.Frame) ([]byte, error) {
	if c.mask {
		f = ws.MaskFrame(f)
	}
	bts, err := ws.CompileFrame(f)
	if err != nil {
		return nil, api.WrapError(api.KindInternal, "frame serialization failed", err)
	}
	return bts, nil
}

// Decode parses the first complete frame in p. n is zero while the
// frame is incomplete. Non-final fragments are absorbed into the
// reassembly queue and reported as continuations; the final fragment
// yields the whole message under the opcode that started it.
func (c *Codec) Decode(p []byte) (api.Frame, int, error) {
	r := bytes.NewReader(p)
	h, err := ws.ReadHeader(r)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return api.Frame{}, 0, nil
		}
		return api.Frame{}, 0, api.WrapError(api.KindProtocol, "malformed frame header", err)
	}
	if err := ws.CheckHeader(h, c.state()); err != nil {
		return api.Frame{}, 0, api.WrapError(api.KindProtocol, "invalid frame header", err)
	}
	if int64(r.Len()) < h.Length {
		return api.Frame{}, 0, nil
	}
	consumed := len(p) - r.Len() + int(h.Length)
	payload := make([]byte, h.Length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return api.Frame{}, 0, api.WrapError(api.KindInternal, "frame payload short read", err)
	}
	if h.Masked {
		ws.Cipher(payload, h.Mask, 0)
	}

	op := api.Opcode(h.OpCode)
	switch {
	case op == api.OpClose:
		return c.closeFrame(payload, consumed)
	case op.IsControl():
		return api.Frame{Op: op, Payload: payload}, consumed, nil
	default:
		return c.dataFrame(op, h.Fin, payload, consumed)
	}
}

// state feeds the fragmentation flag into the header checks so that
// misplaced continuations fail as protocol errors.
func (c *Codec) state() ws.State {
	s := c.side
	if c.fragmented() {
		s |= ws.StateFragmented
	}
	return s
}

func (c *Codec) fragmented() bool {
	return c.pending != nil && c.pending.Length() > 0
}

func (c *Codec) dataFrame(op api.Opcode, fin bool, payload []byte, consumed int) (api.Frame, int, error) {
	if fin && !c.fragmented() {
		if op == api.OpText && !utf8.Valid(payload) {
			return api.Frame{}, 0, api.NewError(api.KindEncoding, "text message payload is not valid utf-8")
		}
		return api.Frame{Op: op, Payload: payload}, consumed, nil
	}

	if c.pending == nil {
		c.pending = queue.New()
	}
	if !c.fragmented() {
		c.pendingOp = op
	}
	if !fin {
		if c.pending.Length() >= c.settings.FragmentsCapacity && !c.settings.FragmentsGrow {
			return api.Frame{}, 0, api.NewError(api.KindCapacity, "exceeded max fragments")
		}
		c.pending.Add(payload)
		c.pendingLen += len(payload)
		return api.Frame{Op: api.OpContinuation}, consumed, nil
	}

	whole := make([]byte, 0, c.pendingLen+len(payload))
	for c.pending.Length() > 0 {
		whole = append(whole, c.pending.Remove().([]byte)...)
	}
	whole = append(whole, payload...)
	c.pendingLen = 0
	op = c.pendingOp
	if op == api.OpText && !utf8.Valid(whole) {
		return api.Frame{}, 0, api.NewError(api.KindEncoding, "text message payload is not valid utf-8")
	}
	return api.Frame{Op: op, Payload: whole}, consumed, nil
}

func (c *Codec) closeFrame(payload []byte, consumed int) (api.Frame, int, error) {
	if len(payload) == 0 {
		return api.Frame{Op: api.OpClose, Code: api.CloseStatus}, consumed, nil
	}
	if len(payload) == 1 {
		return api.Frame{}, 0, api.NewError(api.KindProtocol, "close frame with a one-byte payload")
	}
	code, reason := ws.ParseCloseFrameData(payload)
	if !utf8.ValidString(reason) {
		return api.Frame{}, 0, api.NewError(api.KindEncoding, "close reason is not valid utf-8")
	}
	if err := ws.CheckCloseFrameData(code, reason); err != nil {
		return api.Frame{}, 0, api.WrapError(api.KindProtocol, "invalid close frame", err)
	}
	return api.Frame{Op: api.OpClose, Code: api.CloseCode(code), Reason: reason}, consumed, nil
}
