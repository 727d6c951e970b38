// File: dispatch/timer.go
// Author: momentics <momentics@gmail.com>
//
// Deadline bookkeeping for the driver loop. One min-heap carries both
// application timeouts and the dispatcher's own entries, so the loop
// arms a single wakeup timer for the earliest deadline of either kind.

package dispatch

import (
	"time"

	"github.com/momentics/wsloop/api"
)

// timerKind separates application timeouts from dispatcher bookkeeping.
type timerKind int

const (
	// timerUser delivers an OnTimeout callback to a connection handler.
	timerUser timerKind = iota
	// timerRetry re-dials a client connection after a refused connect.
	timerRetry
	// timerDrain force-stops a shutdown that did not drain in time.
	timerDrain
)

type timerEntry struct {
	at    time.Time
	seq   uint64
	kind  timerKind
	token api.Token
	id    uint32
	event api.Token
}

// timerQueue orders entries by deadline, then by scheduling order for
// equal deadlines.
type timerQueue []*timerEntry

func (q timerQueue) Len() int { return len(q) }

func (q timerQueue) Less(i, j int) bool {
	if q[i].at.Equal(q[j].at) {
		return q[i].seq < q[j].seq
	}
	return q[i].at.Before(q[j].at)
}

func (q timerQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *timerQueue) Push(x any) { *q = append(*q, x.(*timerEntry)) }

func (q *timerQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return e
}
