// File: api/message.go
// Author: momentics <momentics@gmail.com>
//
// Decoded message and frame-type vocabulary exchanged between the
// engine core and application handlers.

package api

import "unicode/utf8"

// Opcode enumerates WebSocket frame types (RFC 6455, section 5.2).
type Opcode byte

const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xA
)

// IsControl reports whether the opcode names a control frame.
func (o Opcode) IsControl() bool { return o&0x8 != 0 }

func (o Opcode) String() string {
	switch o {
	case OpContinuation:
		return "continuation"
	case OpText:
		return "text"
	case OpBinary:
		return "binary"
	case OpClose:
		return "close"
	case OpPing:
		return "ping"
	case OpPong:
		return "pong"
	default:
		return "reserved"
	}
}

// Message is one fully decoded data message: the unit handlers receive
// in OnMessage and applications submit through a Sender. Fragmentation
// is resolved below this type; Op is always OpText or OpBinary.
type Message struct {
	Op      Opcode
	Payload []byte
}

// TextMessage builds a text message from s.
func TextMessage(s string) Message { return Message{Op: OpText, Payload: []byte(s)} }

// BinaryMessage builds a binary message from p. The payload is not copied.
func BinaryMessage(p []byte) Message { return Message{Op: OpBinary, Payload: p} }

func (m Message) IsText() bool   { return m.Op == OpText }
func (m Message) IsBinary() bool { return m.Op == OpBinary }

// Valid reports whether the payload satisfies the opcode's encoding
// rules: text must be well-formed UTF-8, binary is unconstrained.
func (m Message) Valid() bool {
	return m.Op != OpText || utf8.Valid(m.Payload)
}

// String renders the payload as text. Intended for logging and tests.
func (m Message) String() string { return string(m.Payload) }
