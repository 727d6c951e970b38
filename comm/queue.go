// File: comm/queue.go
// Author: momentics <momentics@gmail.com>
//
// Bounded multi-producer command queue. The queue is the engine's
// backpressure mechanism: a producer that outruns the driver receives
// an explicit error instead of blocking or growing memory without
// bound.

package comm

import (
	"sync"

	"github.com/momentics/wsloop/api"
)

// Queue is the bounded channel between Sender handles and the driver.
// Capacity is fixed at construction (Settings.QueueCapacity). Push is
// safe from any goroutine; the consuming side belongs to the driver
// alone.
type Queue struct {
	ch   chan Command
	done chan struct{}
	once sync.Once
}

// NewQueue creates a queue holding at most capacity commands.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch:   make(chan Command, capacity),
		done: make(chan struct{}),
	}
}

// Push enqueues cmd without blocking. It returns ErrQueueFull when the
// queue is at capacity and ErrQueueClosed after the engine stopped.
// Commands for retired tokens are still accepted; the dispatcher drops
// them at routing time.
func (q *Queue) Push(cmd Command) error {
	select {
	case <-q.done:
		return api.ErrQueueClosed
	default:
	}
	select {
	case q.ch <- cmd:
		return nil
	default:
		return api.ErrQueueFull
	}
}

// Commands exposes the consuming end for the driver's select loop.
func (q *Queue) Commands() <-chan Command { return q.ch }

// Done is closed when the queue shuts down. The command channel itself
// is never closed; producers observe shutdown through Done.
func (q *Queue) Done() <-chan struct{} { return q.done }

// Close marks the queue shut down. Idempotent.
func (q *Queue) Close() {
	q.once.Do(func() { close(q.done) })
}

// Len reports the number of queued commands. Metrics only; the value
// is stale the moment it returns.
func (q *Queue) Len() int { return len(q.ch) }

// Cap reports the queue capacity.
func (q *Queue) Cap() int { return cap(q.ch) }
