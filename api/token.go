// File: api/token.go
// Author: momentics <momentics@gmail.com>
//
// Routing identity and readiness-interest primitives shared by the
// dispatcher, the reactor and the connection state machine.

package api

// Token is the opaque, stable identifier used to route readiness events
// and commands to one connection. Tokens may be reused after a
// connection is retired; the connection id disambiguates reuse.
type Token uint64

// All is the broadcast sentinel. A command addressed to All is fanned
// out by the dispatcher to every live connection.
const All Token = ^Token(0)

// Interest is the set of readiness conditions a connection currently
// wants the polling layer to watch for. An empty set tells the
// dispatcher the connection is done and can be retired.
type Interest uint8

const (
	Readable Interest = 1 << iota
	Writable
)

func (i Interest) IsReadable() bool { return i&Readable != 0 }
func (i Interest) IsWritable() bool { return i&Writable != 0 }
func (i Interest) IsEmpty() bool    { return i == 0 }

// Insert returns the set with the given conditions added.
func (i Interest) Insert(cond Interest) Interest { return i | cond }

// Remove returns the set with the given conditions cleared.
func (i Interest) Remove(cond Interest) Interest { return i &^ cond }

func (i Interest) String() string {
	switch {
	case i.IsReadable() && i.IsWritable():
		return "readable|writable"
	case i.IsReadable():
		return "readable"
	case i.IsWritable():
		return "writable"
	default:
		return "none"
	}
}

// Timeout identifies one scheduled timeout so it can be cancelled.
// Cancellation is advisory only: a timeout that fired before the cancel
// was processed still delivers its callback, so handlers must tolerate
// spurious deliveries.
type Timeout struct {
	// ID is the scheduler's sequence number for this entry.
	ID uint64
	// Event is the application-chosen token passed back to OnTimeout.
	Event Token
}
