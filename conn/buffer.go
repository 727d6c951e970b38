// File: conn/buffer.go
// Author: momentics <momentics@gmail.com>
//
// Cursor buffer with a bounded growth policy. One Buffer backs each
// direction of a connection's I/O: writes append at the tail, reads
// advance an independent position, and capacity exhaustion either
// compacts, grows by a fixed increment, or fails, depending on the
// growth flag.

package conn

import (
	"fmt"

	"github.com/momentics/wsloop/api"
)

// Buffer holds bytes between the transport and the codec. Position
// never exceeds length and length never exceeds capacity; growth never
// discards unread bytes, and a rejected append leaves the buffer
// untouched.
type Buffer struct {
	data []byte // written bytes; cap(data) is the current capacity
	pos  int    // read cursor into data
	grow bool
	step int // growth increment, fixed at the initial capacity
}

// NewBuffer allocates a buffer with the given initial capacity. When
// grow is false, appends past capacity fail with a capacity error.
func NewBuffer(capacity int, grow bool) *Buffer {
	return &Buffer{
		data: make([]byte, 0, capacity),
		grow: grow,
		step: capacity,
	}
}

// Len is the number of bytes written so far.
func (b *Buffer) Len() int { return len(b.data) }

// Cap is the current capacity.
func (b *Buffer) Cap() int { return cap(b.data) }

// Pos is the read cursor.
func (b *Buffer) Pos() int { return b.pos }

// Unread is the number of bytes written but not yet consumed.
func (b *Buffer) Unread() int { return len(b.data) - b.pos }

// Bytes exposes the unread tail. The slice is invalidated by the next
// mutating call.
func (b *Buffer) Bytes() []byte { return b.data[b.pos:] }

// Advance consumes n unread bytes. Advancing past the write cursor
// clamps to it.
func (b *Buffer) Advance(n int) {
	b.pos += n
	if b.pos > len(b.data) {
		b.pos = len(b.data)
	}
}

// Rewind moves the read cursor back to the start, keeping the written
// bytes so they can be replayed. Client reconnection uses this to
// resend the handshake request on a fresh socket.
func (b *Buffer) Rewind() { b.pos = 0 }

// Clear drops all content and rewinds both cursors.
func (b *Buffer) Clear() {
	b.data = b.data[:0]
	b.pos = 0
}

// Write appends p under the growth policy: if p does not fit, the
// unread tail is copied into a fresh buffer of the same capacity; if
// the tail plus p still does not fit, the capacity grows by the initial
// increment while permitted, otherwise the append is rejected whole
// with a capacity error.
func (b *Buffer) Write(p []byte) error {
	if len(b.data)+len(p) <= cap(b.data) {
		b.data = append(b.data, p...)
		return nil
	}
	size := cap(b.data)
	tail := len(b.data) - b.pos
	for tail+len(p) > size {
		if !b.grow {
			return api.NewError(api.KindCapacity,
				fmt.Sprintf("maxed out buffer: %d bytes over capacity %d", tail+len(p)-size, cap(b.data)))
		}
		size += b.step
	}
	fresh := make([]byte, tail, size)
	copy(fresh, b.data[b.pos:])
	b.data = append(fresh, p...)
	b.pos = 0
	return nil
}

// ReadFrom performs one non-blocking pull from the stream into spare
// capacity, making room first if the buffer is full. It returns the
// stream's result unchanged: ErrWouldBlock when nothing is available,
// io.EOF at end of stream.
func (b *Buffer) ReadFrom(s api.Stream) (int, error) {
	if len(b.data) == cap(b.data) {
		if err := b.makeRoom(); err != nil {
			return 0, err
		}
	}
	spare := b.data[len(b.data):cap(b.data)]
	n, err := s.TryRead(spare)
	if n > 0 {
		b.data = b.data[:len(b.data)+n]
	}
	return n, err
}

// WriteTo flushes unread bytes to the stream without blocking,
// advancing the read cursor by whatever the transport accepted. An
// empty buffer flushes trivially.
func (b *Buffer) WriteTo(s api.Stream) (int, error) {
	if b.Unread() == 0 {
		return 0, nil
	}
	n, err := s.TryWrite(b.data[b.pos:])
	if n > 0 {
		b.pos += n
	}
	return n, err
}

// makeRoom applies the growth policy with an empty append: compact the
// unread tail, grow if compaction alone cannot free space.
func (b *Buffer) makeRoom() error {
	size := cap(b.data)
	tail := len(b.data) - b.pos
	for tail >= size {
		if !b.grow {
			return api.NewError(api.KindCapacity,
				fmt.Sprintf("maxed out buffer at capacity %d", cap(b.data)))
		}
		size += b.step
	}
	fresh := make([]byte, tail, size)
	copy(fresh, b.data[b.pos:])
	b.data = fresh
	b.pos = 0
	return nil
}
