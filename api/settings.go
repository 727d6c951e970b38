// File: api/settings.go
// Author: momentics <momentics@gmail.com>
//
// Engine configuration record. Pure data: the dispatcher snapshots one
// Settings value per connection and never mutates it afterwards.

package api

import (
	"fmt"
	"time"
)

// FatalMask selects which error kinds escalate to a fatal stop of the
// driver goroutine instead of the kind's normal recovery action. The
// zero value escalates nothing.
type FatalMask uint16

// FatalOn builds a mask from the given kinds.
func FatalOn(kinds ...Kind) FatalMask {
	var m FatalMask
	for _, k := range kinds {
		m |= 1 << uint(k)
	}
	return m
}

// Has reports whether the kind is marked fatal.
func (m FatalMask) Has(k Kind) bool { return m&(1<<uint(k)) != 0 }

// With returns the mask with the kind added.
func (m FatalMask) With(k Kind) FatalMask { return m | 1<<uint(k) }

// Without returns the mask with the kind cleared.
func (m FatalMask) Without(k Kind) FatalMask { return m &^ (1 << uint(k)) }

// Settings carries every tunable of the engine. A connection keeps the
// snapshot it was constructed with for its whole life; live reloads
// only affect connections created afterwards.
type Settings struct {
	// MaxConnections caps the number of simultaneously live connections
	// the dispatcher will carry.
	MaxConnections int

	// QueueSize is the per-connection share of the command channel. The
	// channel's total capacity is QueueSize * MaxConnections; exceeding
	// it surfaces ErrQueueFull to the producer.
	QueueSize int

	// InBufferCapacity is the initial capacity of a connection's input
	// buffer in bytes.
	InBufferCapacity int

	// InBufferGrow permits the input buffer to grow past its initial
	// capacity. When false, overflow surfaces a capacity error.
	InBufferGrow bool

	// OutBufferCapacity is the initial capacity of a connection's output
	// buffer in bytes.
	OutBufferCapacity int

	// OutBufferGrow permits the output buffer to grow past its initial
	// capacity.
	OutBufferGrow bool

	// FragmentSize is the largest payload sent as a single frame.
	// Larger messages are split into continuation frames of at most
	// this size.
	FragmentSize int

	// FragmentsCapacity is the number of incoming fragments the decoder
	// will hold while reassembling one message.
	FragmentsCapacity int

	// FragmentsGrow permits reassembly past FragmentsCapacity. When
	// false, an over-long fragment train surfaces a capacity error.
	FragmentsGrow bool

	// Fatal marks the error kinds that stop the driver outright instead
	// of running the kind's recovery action.
	Fatal FatalMask

	// FatalOnAddressExhaustion stops the driver when a client runs out
	// of candidate addresses during reconnection. When false the
	// exhaustion surfaces as an internal error on the connection.
	FatalOnAddressExhaustion bool

	// FatalOnShutdown stops the driver when a shutdown is requested.
	// Debugging aid for catching unexpected shutdown paths.
	FatalOnShutdown bool

	// ShutdownOnInterrupt installs a SIGINT handler that requests a
	// graceful engine shutdown.
	ShutdownOnInterrupt bool

	// TCPNoDelay disables Nagle's algorithm on accepted and dialed
	// sockets.
	TCPNoDelay bool

	// ReconnectMaxInterval caps the exponential backoff between client
	// reconnection attempts.
	ReconnectMaxInterval time.Duration
}

// DefaultSettings returns the engine defaults: small buffers that may
// grow, a strict fatal policy for internal defects only, and graceful
// interrupt handling.
func DefaultSettings() Settings {
	return Settings{
		MaxConnections:       100,
		QueueSize:            5,
		InBufferCapacity:     2048,
		InBufferGrow:         true,
		OutBufferCapacity:    2048,
		OutBufferGrow:        true,
		FragmentSize:         65535,
		FragmentsCapacity:    10,
		FragmentsGrow:        true,
		Fatal:                FatalOn(KindInternal),
		ShutdownOnInterrupt:  true,
		ReconnectMaxInterval: 30 * time.Second,
	}
}

// Validate reports the first structurally invalid field.
func (s Settings) Validate() error {
	switch {
	case s.MaxConnections <= 0:
		return fmt.Errorf("settings: max_connections must be positive, got %d", s.MaxConnections)
	case s.QueueSize <= 0:
		return fmt.Errorf("settings: queue_size must be positive, got %d", s.QueueSize)
	case s.InBufferCapacity <= 0:
		return fmt.Errorf("settings: in_buffer_capacity must be positive, got %d", s.InBufferCapacity)
	case s.OutBufferCapacity <= 0:
		return fmt.Errorf("settings: out_buffer_capacity must be positive, got %d", s.OutBufferCapacity)
	case s.FragmentSize <= 0:
		return fmt.Errorf("settings: fragment_size must be positive, got %d", s.FragmentSize)
	case s.FragmentsCapacity <= 0:
		return fmt.Errorf("settings: fragments_capacity must be positive, got %d", s.FragmentsCapacity)
	case s.ReconnectMaxInterval < 0:
		return fmt.Errorf("settings: reconnect_max_interval must not be negative")
	}
	return nil
}

// QueueCapacity is the total command-channel capacity implied by the
// settings.
func (s Settings) QueueCapacity() int {
	return s.QueueSize * s.MaxConnections
}
