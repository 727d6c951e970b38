// File: conn/connection.go
// Author: momentics <momentics@gmail.com>
//
// The per-connection protocol state machine. One instance owns one
// socket stream, one handler, and the buffers between them; the
// dispatcher drives it with Read/Write on readiness and with the
// state-mutating operations when commands arrive.

package conn

import (
	"errors"
	"fmt"
	"io"
	"net/url"

	"go.uber.org/zap"

	"github.com/momentics/wsloop/api"
)

// handshakeCapacity sizes the request/response cursors used during the
// connecting phase.
const handshakeCapacity = 2048

// Dialer opens a fresh non-blocking stream to addr. Injected by the
// dispatcher so client connections can move across candidate addresses
// during Reset.
type Dialer func(addr string) (api.Stream, error)

// Option customizes construction.
type Option func(*Connection)

// WithCodec replaces the frame codec. The dispatcher supplies a
// masking codec for client connections.
func WithCodec(fc api.FrameCodec) Option {
	return func(c *Connection) { c.codec = fc }
}

// WithHandshake replaces the handshake grammar implementation.
func WithHandshake(h api.Handshake) Option {
	return func(c *Connection) { c.handshake = h }
}

// WithDialer supplies the reconnection dialer for client endpoints.
func WithDialer(d Dialer) Option {
	return func(c *Connection) { c.dial = d }
}

// WithLogger attaches a structured logger. Defaults to a nop logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Connection) { c.log = log }
}

// Connection drives one socket through the WebSocket lifecycle. All
// methods must be called from the dispatcher's driver goroutine;
// external goroutines act through a Sender only.
type Connection struct {
	token    api.Token
	id       uint32
	stream   api.Stream
	state    State
	endpoint Endpoint
	target   *url.URL
	addrs    []string

	events api.Interest

	// Handshake cursors, meaningful only while Connecting. For servers
	// hsReq accumulates the peer's upgrade request and hsRes holds the
	// response to flush; for clients the directions are swapped.
	hsReq *Buffer
	hsRes *Buffer

	// rejected marks that hsRes carries an error response; once it
	// drains the connection tears down instead of opening.
	rejected bool

	in  *Buffer
	out *Buffer

	handler   api.Handler
	codec     api.FrameCodec
	handshake api.Handshake
	dial      Dialer
	settings  api.Settings
	log       *zap.Logger
}

// New builds a connection in the connecting phase with the server role.
// Client connections call AsClient before the first readiness event.
func New(token api.Token, stream api.Stream, handler api.Handler, settings api.Settings, id uint32, opts ...Option) *Connection {
	c := &Connection{
		token:    token,
		id:       id,
		stream:   stream,
		state:    StateConnecting,
		endpoint: Server,
		hsReq:    NewBuffer(handshakeCapacity, settings.OutBufferGrow),
		hsRes:    NewBuffer(handshakeCapacity, settings.OutBufferGrow),
		in:       NewBuffer(settings.InBufferCapacity, settings.InBufferGrow),
		out:      NewBuffer(settings.OutBufferCapacity, settings.OutBufferGrow),
		handler:  handler,
		settings: settings,
		log:      zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Token returns the routing identity the dispatcher knows this
// connection by.
func (c *Connection) Token() api.Token { return c.token }

// ID returns the logical connection id that disambiguates token reuse.
func (c *Connection) ID() uint32 { return c.id }

// State reports the current lifecycle state.
func (c *Connection) State() State { return c.state }

// Endpoint reports the connection's role.
func (c *Connection) Endpoint() Endpoint { return c.endpoint }

// Stream exposes the underlying transport for readiness registration.
func (c *Connection) Stream() api.Stream { return c.stream }

func (c *Connection) IsClient() bool { return c.endpoint == Client }

func (c *Connection) IsServer() bool { return c.endpoint == Server }

// Events returns the readiness interest the connection currently wants
// registered. An empty set tells the dispatcher to retire it.
func (c *Connection) Events() api.Interest { return c.events }

// Consume releases the handler for final disposal at retirement. The
// connection keeps a no-op handler so stray late callbacks are inert.
func (c *Connection) Consume() api.Handler {
	h := c.handler
	c.handler = api.NopHandler{}
	return h
}

func (c *Connection) peerAddr() string { return c.stream.RemoteAddr() }

// Open completes the connecting phase. Internal-kind error outside it.
func (c *Connection) Open() error {
	if c.state != StateConnecting {
		return api.NewError(api.KindInternal, "tried to open a connection that is not in the connecting state")
	}
	c.log.Debug("handshake finished", zap.String("peer", c.peerAddr()))
	c.state = StateOpen
	c.hsReq = nil
	c.hsRes = nil
	c.checkEvents()
	return nil
}

// AsServer marks the accepting side: servers wait for the peer's
// handshake bytes first.
func (c *Connection) AsServer() {
	c.events = c.events.Insert(api.Readable)
}

// AsClient records the target and the remaining candidate addresses,
// switches to the client role, prepares the upgrade request, and asks
// for write readiness so the request goes out first. Internal-kind
// error outside the connecting phase.
func (c *Connection) AsClient(target *url.URL, addrs []string) error {
	if c.state != StateConnecting {
		return api.NewError(api.KindInternal, "tried to set the client role while not connecting")
	}
	c.endpoint = Client
	c.target = target
	c.addrs = addrs
	req, err := c.handshake.BuildRequest(target)
	if err != nil {
		return err
	}
	if err := c.hsReq.Write(req); err != nil {
		return err
	}
	c.events = c.events.Insert(api.Writable)
	return nil
}

// Reset abandons the current socket and reconnects to the next
// candidate address. Valid only for client endpoints still connecting;
// both handshake cursors rewind so the request replays on the fresh
// socket. Address exhaustion is fatal when the settings ask for it,
// otherwise an internal error.
func (c *Connection) Reset() error {
	if !c.IsClient() {
		return api.NewError(api.KindInternal, "server connections cannot be reset")
	}
	if c.state != StateConnecting {
		return api.NewError(api.KindInternal, "unable to reset the connection because it is already active")
	}
	if len(c.addrs) == 0 {
		if c.settings.FatalOnAddressExhaustion {
			panic(fmt.Sprintf("wsloop: unable to connect to %s: exhausted candidate addresses", c.target))
		}
		return api.NewError(api.KindInternal, "exhausted possible addresses")
	}
	if c.dial == nil {
		return api.NewError(api.KindInternal, "no dialer configured for reconnection")
	}
	addr := c.addrs[0]
	c.addrs = c.addrs[1:]
	c.hsReq.Rewind()
	c.hsRes.Rewind()
	c.rejected = false
	c.events = c.events.Remove(api.Readable).Insert(api.Writable)
	_ = c.stream.Close()
	s, err := c.dial(addr)
	if err != nil {
		return api.WrapError(api.KindIO, "reconnect dial failed", err)
	}
	c.stream = s
	c.log.Debug("connection reset", zap.String("addr", addr), zap.Int("remaining", len(c.addrs)))
	return nil
}

// Read drains available bytes and dispatches the results. Called by
// the dispatcher on read readiness; failures funnel through Fail.
func (c *Connection) Read() error {
	if c.stream.Negotiating() {
		c.log.Debug("resuming negotiation via write", zap.String("peer", c.peerAddr()))
		if err := c.stream.ClearNegotiating(); err != nil {
			return api.WrapError(api.KindTLS, "failed to resume negotiation", err)
		}
		return c.Write()
	}
	var res error
	if c.state == StateConnecting {
		res = c.readHandshake()
	} else {
		res = c.readFrames()
	}
	if c.stream.Negotiating() && res == nil {
		c.events = c.events.Remove(api.Readable).Insert(api.Writable)
	}
	return res
}

// Write flushes pending bytes. Called by the dispatcher on write
// readiness; failures funnel through Fail.
func (c *Connection) Write() error {
	if c.stream.Negotiating() {
		c.log.Debug("resuming negotiation via read", zap.String("peer", c.peerAddr()))
		if err := c.stream.ClearNegotiating(); err != nil {
			return api.WrapError(api.KindTLS, "failed to resume negotiation", err)
		}
		return c.Read()
	}
	var res error
	if c.state == StateConnecting {
		res = c.writeHandshake()
	} else {
		res = c.flush()
	}
	if c.stream.Negotiating() && res == nil {
		c.events = c.events.Remove(api.Writable).Insert(api.Readable)
	}
	return res
}

// readFrames pulls until the stream would block, decoding frames after
// every non-empty pull. End of stream drops read interest while output
// is still pending, and disconnects otherwise.
func (c *Connection) readFrames() error {
	for {
		n, err := c.in.ReadFrom(c.stream)
		if errors.Is(err, api.ErrWouldBlock) {
			return nil
		}
		if errors.Is(err, io.EOF) || (err == nil && n == 0) {
			if c.out.Unread() > 0 {
				c.events = c.events.Remove(api.Readable)
			} else {
				c.Disconnect()
			}
			return nil
		}
		if err != nil {
			if api.KindOf(err) == api.KindCapacity {
				return err
			}
			return api.WrapError(api.KindIO, "read failed", err)
		}
		if err := c.dispatchFrames(); err != nil {
			return err
		}
		c.checkEvents()
	}
}

// dispatchFrames decodes every complete frame buffered so far.
func (c *Connection) dispatchFrames() error {
	for {
		f, n, err := c.codec.Decode(c.in.Bytes())
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		c.in.Advance(n)
		switch f.Op {
		case api.OpText, api.OpBinary:
			if c.state != StateOpen && c.state != StateAwaitingClose {
				c.log.Debug("dropping data frame after peer close", zap.String("peer", c.peerAddr()))
				continue
			}
			if err := c.handler.OnMessage(api.Message{Op: f.Op, Payload: f.Payload}); err != nil {
				return err
			}
		case api.OpPing:
			if c.state != StateOpen && c.state != StateAwaitingClose {
				continue
			}
			pong, err := c.codec.EncodeControl(api.OpPong, f.Payload)
			if err != nil {
				return err
			}
			if err := c.out.Write(pong); err != nil {
				return err
			}
		case api.OpPong:
			// keepalive reply; nothing to deliver
		case api.OpClose:
			if err := c.peerClose(f.Code, f.Reason); err != nil {
				return err
			}
		}
	}
}

// peerClose applies the peer's close frame to the handshake state.
func (c *Connection) peerClose(code api.CloseCode, reason string) error {
	switch c.state {
	case StateOpen:
		c.state = StateRespondingClose
		c.handler.OnClose(code, reason)
		echo := code
		if echo.IsReserved() || echo == 0 {
			echo = api.CloseStatus
		}
		return c.SendClose(echo, "")
	case StateAwaitingClose:
		c.state = StateFinishedClose
		c.handler.OnClose(code, reason)
		c.checkEvents()
		return nil
	default:
		// duplicate close frames after the handshake resolved
		return nil
	}
}

// flush writes out buffered bytes. Assumes the write clears the whole
// buffer and recomputes interest afterwards; a flush that empties the
// buffer in FinishedClose on the server side means the confirming
// close frame is out and nothing remains to do.
func (c *Connection) flush() error {
	c.events = c.events.Remove(api.Writable)
	_, err := c.out.WriteTo(c.stream)
	if err != nil && !errors.Is(err, api.ErrWouldBlock) {
		return api.WrapError(api.KindIO, "write failed", err)
	}
	if err == nil && c.out.Unread() == 0 && c.state == StateFinishedClose && c.IsServer() {
		c.events = 0
		return nil
	}
	c.checkEvents()
	return nil
}

// readHandshake accumulates handshake bytes and completes the upgrade
// when the grammar reports the exchange is whole. Bytes past the end
// of the handshake belong to the frame layer.
func (c *Connection) readHandshake() error {
	buf := c.hsReq
	if c.IsClient() {
		buf = c.hsRes
	}
	for {
		n, err := buf.ReadFrom(c.stream)
		if errors.Is(err, api.ErrWouldBlock) {
			return nil
		}
		if errors.Is(err, io.EOF) || (err == nil && n == 0) {
			return api.NewError(api.KindIO, "stream ended during handshake")
		}
		if err != nil {
			if api.KindOf(err) == api.KindCapacity {
				return err
			}
			return api.WrapError(api.KindIO, "handshake read failed", err)
		}
		done, err := c.advanceHandshake(buf)
		if err != nil || done {
			return err
		}
	}
}

// advanceHandshake runs the grammar over the accumulated prefix. done
// reports that the connecting phase made its transition and reading
// should stop.
func (c *Connection) advanceHandshake(buf *Buffer) (bool, error) {
	if c.IsServer() {
		resp, n, err := c.handshake.ReadRequest(buf.Bytes())
		if err != nil {
			return false, err
		}
		if n == 0 {
			return false, nil
		}
		buf.Advance(n)
		if err := c.spillPipelined(buf); err != nil {
			return false, err
		}
		if err := c.hsRes.Write(resp); err != nil {
			return false, err
		}
		c.events = c.events.Remove(api.Readable).Insert(api.Writable)
		return true, nil
	}
	n, err := c.handshake.ReadResponse(buf.Bytes())
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	buf.Advance(n)
	if err := c.spillPipelined(buf); err != nil {
		return false, err
	}
	if err := c.Open(); err != nil {
		return false, err
	}
	if err := c.handler.OnOpen(); err != nil {
		return true, err
	}
	if c.in.Unread() > 0 {
		return true, c.dispatchFrames()
	}
	return true, nil
}

// spillPipelined moves bytes that arrived behind the handshake into
// the input buffer.
func (c *Connection) spillPipelined(buf *Buffer) error {
	if buf.Unread() == 0 {
		return nil
	}
	if err := c.in.Write(buf.Bytes()); err != nil {
		return err
	}
	buf.Advance(buf.Unread())
	return nil
}

// writeHandshake flushes the pending handshake cursor: the upgrade
// request for clients, the response (or a rejection) for servers.
func (c *Connection) writeHandshake() error {
	c.events = c.events.Remove(api.Writable)
	buf := c.hsRes
	if c.IsClient() {
		buf = c.hsReq
	}
	_, err := buf.WriteTo(c.stream)
	if errors.Is(err, api.ErrWouldBlock) {
		c.events = c.events.Insert(api.Writable)
		return nil
	}
	if err != nil {
		return api.WrapError(api.KindIO, "handshake write failed", err)
	}
	if buf.Unread() > 0 {
		c.events = c.events.Insert(api.Writable)
		return nil
	}
	switch {
	case c.rejected:
		// the rejection is out; abandon the connection
		c.log.Debug("handshake rejection flushed", zap.String("peer", c.peerAddr()))
		c.events = 0
	case c.IsClient():
		// request sent, await the response
		c.events = c.events.Insert(api.Readable)
	default:
		if err := c.Open(); err != nil {
			return err
		}
		if err := c.handler.OnOpen(); err != nil {
			return err
		}
		if c.in.Unread() > 0 {
			return c.dispatchFrames()
		}
	}
	return nil
}

// SendMessage wire-encodes one data message onto the output buffer.
// Silently ignored once a close handshake has begun.
func (c *Connection) SendMessage(msg api.Message) error {
	if c.state.IsClosing() {
		c.log.Debug("connection is closing, ignoring message",
			zap.String("peer", c.peerAddr()), zap.Stringer("op", msg.Op))
		return nil
	}
	frame, err := c.codec.EncodeMessage(msg)
	if err != nil {
		return err
	}
	if err := c.out.Write(frame); err != nil {
		return err
	}
	c.checkEvents()
	return nil
}

// SendClose drives this side of the close handshake. Idempotent after
// the first call; closing before the handshake completes is a defect.
func (c *Connection) SendClose(code api.CloseCode, reason string) error {
	switch c.state {
	case StateRespondingClose:
		// our confirming frame goes out next; when it does, we are done
		c.state = StateFinishedClose
	case StateAwaitingClose, StateFinishedClose:
		c.log.Debug("connection is already closing, ignoring close",
			zap.Stringer("code", code), zap.String("peer", c.peerAddr()))
		c.checkEvents()
		return nil
	case StateOpen:
		c.state = StateAwaitingClose
	case StateConnecting:
		panic("wsloop: attempted to close a connection while not yet open")
	}
	frame, err := c.codec.EncodeClose(code, reason)
	if err != nil {
		return err
	}
	if err := c.out.Write(frame); err != nil {
		return err
	}
	c.log.Debug("queued close frame",
		zap.Stringer("code", code), zap.String("reason", reason), zap.String("peer", c.peerAddr()))
	c.checkEvents()
	return nil
}

// Shutdown begins cooperative teardown: notify the handler, then start
// a graceful close. Connections still connecting have nothing on the
// wire to close and drop straight away.
func (c *Connection) Shutdown() {
	c.handler.OnShutdown()
	if c.state == StateConnecting {
		c.Disconnect()
		return
	}
	if err := c.SendClose(api.CloseAway, "Shutting down."); err != nil {
		c.handler.OnError(api.AsError(err))
		c.Disconnect()
	}
}

// NewTimeout hands the cancellation handle of a freshly scheduled
// timeout to the handler.
func (c *Connection) NewTimeout(event api.Token, t *api.Timeout) error {
	return c.handler.OnNewTimeout(event, t)
}

// TimeoutTriggered delivers a fired timeout to the handler.
func (c *Connection) TimeoutTriggered(event api.Token) error {
	return c.handler.OnTimeout(event)
}

// Fail routes a failure through the error policy: report first, then
// the per-kind recovery action, escalating to a panic for kinds the
// settings mark fatal.
func (c *Connection) Fail(err error) {
	e := api.AsError(err)
	c.log.Debug("connection failure",
		zap.Stringer("kind", e.Kind), zap.Error(e), zap.String("peer", c.peerAddr()))
	if c.state == StateConnecting {
		c.failConnecting(e)
		return
	}
	switch e.Kind {
	case api.KindInternal:
		c.panicIfFatal(e)
		c.closeOnError(e, api.CloseError)
	case api.KindCapacity:
		c.panicIfFatal(e)
		c.closeOnError(e, api.CloseSize)
	case api.KindProtocol:
		c.panicIfFatal(e)
		c.closeOnError(e, api.CloseProtocol)
	case api.KindEncoding:
		c.panicIfFatal(e)
		c.closeOnError(e, api.CloseInvalid)
	case api.KindResponse:
		// the handler's own response writing is implicated; nothing
		// sensible can be sent to the peer
		c.handler.OnError(e)
		c.Disconnect()
	case api.KindCustom:
		c.handler.OnError(e)
	case api.KindTimer, api.KindQueue:
		c.panicIfFatal(e)
		c.handler.OnError(e)
	default:
		c.panicIfFatal(e)
		c.handler.OnError(e)
		c.Disconnect()
	}
}

// failConnecting handles failures before the handshake completes.
// Transport failures abandon the connection silently; anything else
// lets a server flush a diagnostic rejection first.
func (c *Connection) failConnecting(e *api.Error) {
	switch e.Kind {
	case api.KindTLS, api.KindIO:
		c.handler.OnError(e)
		c.events = 0
	case api.KindProtocol:
		c.rejectHandshake("HTTP/1.1 400 Bad Request\r\n\r\n", e)
	default:
		c.rejectHandshake("HTTP/1.1 500 Internal Server Error\r\n\r\n", e)
	}
}

// rejectHandshake overwrites the pending response with a diagnostic
// payload and flips interest to write-only so the rejection flushes
// before teardown. Clients have no response to send and just abandon.
func (c *Connection) rejectHandshake(status string, e *api.Error) {
	msg := e.Error()
	c.handler.OnError(e)
	if !c.IsServer() {
		c.events = 0
		return
	}
	c.hsRes.Clear()
	if werr := c.hsRes.Write(append([]byte(status), msg...)); werr != nil {
		c.handler.OnError(api.AsError(werr))
		c.events = 0
		return
	}
	c.rejected = true
	c.events = c.events.Remove(api.Readable).Insert(api.Writable)
}

// closeOnError attempts the graceful close that tells the peer why; if
// even that fails, report it and drop the socket.
func (c *Connection) closeOnError(e *api.Error, code api.CloseCode) {
	reason := e.Error()
	c.handler.OnError(e)
	if cerr := c.SendClose(code, reason); cerr != nil {
		c.handler.OnError(api.AsError(cerr))
		c.Disconnect()
	}
}

func (c *Connection) panicIfFatal(e *api.Error) {
	if c.settings.Fatal.Has(e.Kind) {
		panic(fmt.Sprintf("wsloop: fatal %s failure: %v", e.Kind, e))
	}
}

// Disconnect drops the connection without a close handshake. The close
// callback fires with an abnormal code unless the handshake already
// resolved or never began.
func (c *Connection) Disconnect() {
	switch c.state {
	case StateRespondingClose, StateFinishedClose, StateConnecting:
	default:
		c.handler.OnClose(api.CloseAbnormal, "")
	}
	c.events = 0
}

// checkEvents recomputes the desired readiness set: readable whenever
// the handshake is behind us, writable while output is pending.
func (c *Connection) checkEvents() {
	if c.state == StateConnecting {
		return
	}
	c.events = c.events.Insert(api.Readable)
	if c.out.Unread() > 0 {
		c.events = c.events.Insert(api.Writable)
	} else {
		c.events = c.events.Remove(api.Writable)
	}
}
