// File: comm/comm_test.go
// Author: momentics <momentics@gmail.com>

package comm

import (
	"net/url"
	"testing"
	"time"

	"github.com/momentics/wsloop/api"
)

func TestQueue_FIFOPerSender(t *testing.T) {
	q := NewQueue(16)
	s := NewSender(7, 1, q)

	for i := 0; i < 5; i++ {
		if err := s.Timeout(time.Duration(i), api.Token(i)); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	for i := 0; i < 5; i++ {
		cmd := <-q.Commands()
		if cmd.Signal.Event != api.Token(i) {
			t.Fatalf("command %d delivered out of order: got event %d", i, cmd.Signal.Event)
		}
	}
}

func TestQueue_ExhaustionSurfacesError(t *testing.T) {
	q := NewQueue(2)
	s := NewSender(1, 1, q)

	if err := s.SendText("a"); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := s.SendText("b"); err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	err := s.SendText("c")
	if err != api.ErrQueueFull {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if api.KindOf(err) != api.KindQueue {
		t.Fatalf("queue exhaustion must carry the queue kind")
	}
}

func TestQueue_ClosedRejectsProducers(t *testing.T) {
	q := NewQueue(4)
	s := NewSender(1, 1, q)

	q.Close()
	q.Close() // idempotent

	if err := s.SendText("late"); err != api.ErrQueueClosed {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
	select {
	case <-q.Done():
	default:
		t.Fatalf("Done must be closed after Close")
	}
}

func TestSender_CommandEnvelopes(t *testing.T) {
	q := NewQueue(16)
	s := NewSender(42, 9, q)

	target, _ := url.Parse("ws://example.com/chat")
	handle := &api.Timeout{ID: 3, Event: 8}

	calls := []struct {
		name string
		do   func() error
		want func(cmd Command) bool
	}{
		{"send", func() error { return s.Send(api.BinaryMessage([]byte{1})) }, func(c Command) bool {
			return c.Token == 42 && c.ConnectionID == 9 && c.Signal.Kind == SignalMessage && c.Signal.Message.IsBinary()
		}},
		{"broadcast", func() error { return s.Broadcast(api.TextMessage("hi")) }, func(c Command) bool {
			return c.Token == api.All && c.Signal.Kind == SignalMessage
		}},
		{"close", func() error { return s.CloseWithReason(api.CloseAway, "bye") }, func(c Command) bool {
			return c.Signal.Kind == SignalClose && c.Signal.Code == api.CloseAway && c.Signal.Reason == "bye"
		}},
		{"connect", func() error { return s.Connect(target) }, func(c Command) bool {
			return c.Signal.Kind == SignalConnect && c.Signal.Target == target
		}},
		{"shutdown", func() error { return s.Shutdown() }, func(c Command) bool {
			return c.Signal.Kind == SignalShutdown
		}},
		{"timeout", func() error { return s.Timeout(50*time.Millisecond, 8) }, func(c Command) bool {
			return c.Signal.Kind == SignalTimeout && c.Signal.Delay == 50*time.Millisecond && c.Signal.Event == 8
		}},
		{"cancel", func() error { return s.Cancel(handle) }, func(c Command) bool {
			return c.Signal.Kind == SignalCancel && c.Signal.Handle == handle
		}},
	}

	for _, tc := range calls {
		if err := tc.do(); err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		cmd := <-q.Commands()
		if !tc.want(cmd) {
			t.Fatalf("%s produced wrong command: %+v", tc.name, cmd)
		}
	}
}

func TestSender_CloneAddressesSameConnection(t *testing.T) {
	q := NewQueue(4)
	s := NewSender(3, 11, q)
	c := s.Clone()

	if c.Token() != s.Token() || c.ConnectionID() != s.ConnectionID() {
		t.Fatalf("clone identity differs: %v/%v vs %v/%v", c.Token(), c.ConnectionID(), s.Token(), s.ConnectionID())
	}
	if err := c.SendText("via clone"); err != nil {
		t.Fatalf("clone enqueue: %v", err)
	}
	cmd := <-q.Commands()
	if cmd.Token != 3 || cmd.ConnectionID != 11 {
		t.Fatalf("clone command misaddressed: %+v", cmd)
	}
}
