// File: comm/sender.go
// Author: momentics <momentics@gmail.com>
//
// Sender is the application-facing handle of the engine. Every method
// is a single bounded enqueue; validity against the connection's state
// is checked by the driver when the command is applied, never here.

package comm

import (
	"net/url"
	"time"

	"github.com/momentics/wsloop/api"
)

// Sender addresses one connection. Handles are cheap, immutable and
// safe for concurrent use from any goroutine; Clone exists for handing
// an independent copy to another owner.
type Sender struct {
	token api.Token
	id    uint32
	queue *Queue
}

// NewSender binds a handle to a connection's token and id. Called by
// the dispatcher when it creates a connection; applications receive
// Senders, they do not construct them.
func NewSender(token api.Token, id uint32, q *Queue) *Sender {
	return &Sender{token: token, id: id, queue: q}
}

// Token returns the routing token this handle addresses.
func (s *Sender) Token() api.Token { return s.token }

// ConnectionID returns the logical connection id this handle is pinned
// to.
func (s *Sender) ConnectionID() uint32 { return s.id }

// Clone returns an independent handle addressing the same connection.
func (s *Sender) Clone() *Sender {
	c := *s
	return &c
}

// Send queues one data message for this connection.
func (s *Sender) Send(msg api.Message) error {
	return s.queue.Push(Command{
		Token:        s.token,
		ConnectionID: s.id,
		Signal:       Signal{Kind: SignalMessage, Message: msg},
	})
}

// SendText queues a text message.
func (s *Sender) SendText(text string) error {
	return s.Send(api.TextMessage(text))
}

// Broadcast queues one data message for every live connection.
func (s *Sender) Broadcast(msg api.Message) error {
	return s.queue.Push(Command{
		Token:        api.All,
		ConnectionID: s.id,
		Signal:       Signal{Kind: SignalMessage, Message: msg},
	})
}

// Close requests a graceful close handshake with the given status code.
func (s *Sender) Close(code api.CloseCode) error {
	return s.CloseWithReason(code, "")
}

// CloseWithReason requests a graceful close carrying a diagnostic
// reason string.
func (s *Sender) CloseWithReason(code api.CloseCode, reason string) error {
	return s.queue.Push(Command{
		Token:        s.token,
		ConnectionID: s.id,
		Signal:       Signal{Kind: SignalClose, Code: code, Reason: reason},
	})
}

// Connect requests a new outbound connection to target. The new
// connection gets its own handler from the engine's factory.
func (s *Sender) Connect(target *url.URL) error {
	return s.queue.Push(Command{
		Token:        s.token,
		ConnectionID: s.id,
		Signal:       Signal{Kind: SignalConnect, Target: target},
	})
}

// Shutdown requests that every connection close and the engine stop.
func (s *Sender) Shutdown() error {
	return s.queue.Push(Command{
		Token:        s.token,
		ConnectionID: s.id,
		Signal:       Signal{Kind: SignalShutdown},
	})
}

// Timeout schedules an OnTimeout callback on this connection's handler
// after delay. event is an application-chosen token identifying which
// timeout fired; the cancellation handle arrives via OnNewTimeout.
func (s *Sender) Timeout(delay time.Duration, event api.Token) error {
	return s.queue.Push(Command{
		Token:        s.token,
		ConnectionID: s.id,
		Signal:       Signal{Kind: SignalTimeout, Delay: delay, Event: event},
	})
}

// Cancel requests suppression of a scheduled timeout. Best effort: a
// timeout that already fired still delivers its callback.
func (s *Sender) Cancel(t *api.Timeout) error {
	return s.queue.Push(Command{
		Token:        s.token,
		ConnectionID: s.id,
		Signal:       Signal{Kind: SignalCancel, Handle: t},
	})
}

// Factory builds one Handler per accepted or initiated connection. The
// out handle is the new connection's own Sender; handlers keep it to
// act on the connection later.
type Factory interface {
	ConnectionMade(out *Sender) api.Handler
}

// FactoryFunc adapts a closure to Factory.
type FactoryFunc func(out *Sender) api.Handler

func (f FactoryFunc) ConnectionMade(out *Sender) api.Handler { return f(out) }

// LostNotifier is an optional extension of Factory: when implemented,
// the dispatcher hands back each connection's handler after retirement
// for final disposal.
type LostNotifier interface {
	ConnectionLost(h api.Handler)
}
