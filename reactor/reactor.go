// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral readiness reactor interface.

package reactor

import "github.com/momentics/wsloop/api"

// EventReactor multiplexes readiness across registered descriptors.
// Registration calls are safe to issue while another goroutine blocks
// in Wait.
type EventReactor interface {
	// Add registers a descriptor under a routing token with the given
	// interest set.
	Add(fd uintptr, interest api.Interest, token api.Token) error

	// Modify replaces the interest set and token of a registered
	// descriptor. Unknown descriptors are registered instead, so a
	// connection that swapped sockets needs no explicit re-Add.
	Modify(fd uintptr, interest api.Interest, token api.Token) error

	// Remove drops a descriptor from the watch list.
	Remove(fd uintptr) error

	// Wait blocks until readiness arrives and fills events, returning
	// the count written. A zero count means the wait was interrupted.
	Wait(events []Event) (int, error)

	// Wake interrupts a concurrent Wait.
	Wake() error

	// Close releases the reactor.
	Close() error
}

// Event is one readiness notification. Err marks descriptors the
// kernel flagged with an error or hangup condition; the driver collects
// the failure by attempting the pending operation.
type Event struct {
	Token    api.Token
	Readable bool
	Writable bool
	Err      bool
}
