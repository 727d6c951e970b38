// File: dispatch/dispatcher.go
// Author: momentics <momentics@gmail.com>
//
// Single-goroutine driver loop. A reactor goroutine blocks in the
// kernel wait and hands readiness batches over a channel; the driver
// goroutine multiplexes those batches with the command queue and the
// timeout heap. Connection state is only ever touched on the driver
// goroutine, so connections need no locks.

package dispatch

import (
	"container/heap"
	"errors"
	"fmt"
	"net"
	"net/url"
	"syscall"
	"time"

	"github.com/eapache/queue"
	"github.com/jpillora/backoff"
	"go.uber.org/zap"

	"github.com/momentics/wsloop/api"
	"github.com/momentics/wsloop/comm"
	"github.com/momentics/wsloop/conn"
	"github.com/momentics/wsloop/control"
	"github.com/momentics/wsloop/protocol"
	"github.com/momentics/wsloop/reactor"
	"github.com/momentics/wsloop/transport"
)

// acceptToken routes listener readiness. Connection tokens are
// allocated from firstConnToken upward, so the two ranges never meet.
const (
	acceptToken    api.Token = 0
	firstConnToken api.Token = 1
)

const (
	// eventBatch is the readiness batch size handed from the reactor
	// goroutine to the driver.
	eventBatch = 64

	// shutdownGrace bounds how long a graceful shutdown waits for close
	// handshakes to drain before dropping the remaining connections.
	shutdownGrace = 5 * time.Second

	// reconnectBaseInterval seeds the exponential backoff between
	// reconnection attempts after a refused connect.
	reconnectBaseInterval = 50 * time.Millisecond
)

func tokenFor(slot int) api.Token { return firstConnToken + api.Token(slot) }

func slotFor(token api.Token) int { return int(token - firstConnToken) }

// Config carries the dispatcher's collaborators. Settings and Factory
// are required; everything else has a working default.
type Config struct {
	Settings api.Settings

	// Factory builds one handler per accepted or initiated connection.
	Factory comm.Factory

	// Queue is the command channel shared with Sender handles. When nil
	// a queue sized by the settings is created.
	Queue *comm.Queue

	// Listener, when set, makes the engine accept inbound connections.
	Listener transport.Listener

	// Protocols restricts handshake subprotocol negotiation.
	Protocols []string

	Logger  *zap.Logger
	Metrics *control.MetricsRegistry
}

// Option adjusts dispatcher internals after the config is applied.
type Option func(*Dispatcher)

// WithPoller substitutes the readiness reactor.
func WithPoller(r reactor.EventReactor) Option {
	return func(d *Dispatcher) { d.poller = r }
}

// WithDialer substitutes the transport used for outbound connections.
func WithDialer(dial conn.Dialer) Option {
	return func(d *Dispatcher) { d.dial = dial }
}

// WithResolver substitutes hostname resolution for connect targets.
func WithResolver(resolve func(*url.URL) ([]string, error)) Option {
	return func(d *Dispatcher) { d.resolve = resolve }
}

// Dispatcher owns every connection and runs the driver loop.
type Dispatcher struct {
	settings  api.Settings
	factory   comm.Factory
	queue     *comm.Queue
	listener  transport.Listener
	protocols []string
	log       *zap.Logger
	metrics   *control.MetricsRegistry

	poller  reactor.EventReactor
	dial    conn.Dialer
	resolve func(*url.URL) ([]string, error)

	conns  []*conn.Connection
	free   *queue.Queue
	nextID uint32
	live   int

	timers   timerQueue
	seq      uint64
	fired    *time.Timer
	backoffs map[api.Token]*backoff.Backoff

	ready    chan []reactor.Event
	stop     chan struct{}
	pollDone chan struct{}
	pollErr  error

	draining bool
	stopped  bool
}

// New validates the config and builds a dispatcher. The reactor is
// created here unless an option injected one, so a New that returns
// without error holds kernel resources until Run or Close.
func New(cfg Config, opts ...Option) (*Dispatcher, error) {
	if err := cfg.Settings.Validate(); err != nil {
		return nil, err
	}
	if cfg.Factory == nil {
		return nil, api.NewError(api.KindInternal, "dispatcher requires a connection factory")
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	q := cfg.Queue
	if q == nil {
		q = comm.NewQueue(cfg.Settings.QueueCapacity())
	}
	d := &Dispatcher{
		settings:  cfg.Settings,
		factory:   cfg.Factory,
		queue:     q,
		listener:  cfg.Listener,
		protocols: cfg.Protocols,
		log:       log,
		metrics:   cfg.Metrics,
		conns:     make([]*conn.Connection, cfg.Settings.MaxConnections),
		free:      queue.New(),
		backoffs:  make(map[api.Token]*backoff.Backoff),
		ready:     make(chan []reactor.Event, 1),
		stop:      make(chan struct{}),
		pollDone:  make(chan struct{}),
	}
	for i := 0; i < cfg.Settings.MaxConnections; i++ {
		d.free.Add(i)
	}
	for _, o := range opts {
		o(d)
	}
	if d.dial == nil {
		topts := transport.FromSettings(cfg.Settings)
		d.dial = func(addr string) (api.Stream, error) { return transport.Dial(addr, topts) }
	}
	if d.resolve == nil {
		d.resolve = resolveTarget
	}
	if d.poller == nil {
		p, err := reactor.NewReactor()
		if err != nil {
			return nil, err
		}
		d.poller = p
	}
	return d, nil
}

// Queue exposes the command channel so callers can build Sender handles.
func (d *Dispatcher) Queue() *comm.Queue { return d.queue }

// Close releases resources of a dispatcher that never ran. Run cleans
// up after itself and must not be combined with Close.
func (d *Dispatcher) Close() error {
	d.queue.Close()
	if d.listener != nil {
		_ = d.listener.Close()
	}
	return d.poller.Close()
}

// Run drives the engine until a shutdown drains every connection or
// the reactor fails. It must be called at most once.
func (d *Dispatcher) Run() error {
	if d.listener != nil {
		if err := d.poller.Add(d.listener.Fd(), api.Readable, acceptToken); err != nil {
			d.queue.Close()
			_ = d.poller.Close()
			return api.WrapError(api.KindIO, "failed to watch the listener", err)
		}
		d.log.Info("listening", zap.String("addr", d.listener.Addr()))
	}
	d.fired = time.NewTimer(time.Hour)
	defer d.fired.Stop()
	go d.pollLoop()
	defer d.cleanup()

	for !d.stopped {
		d.armTimer()
		select {
		case cmd := <-d.queue.Commands():
			d.handleCommand(cmd)
		case batch, ok := <-d.ready:
			if !ok {
				d.stopped = true
				return api.WrapError(api.KindIO, "reactor wait failed", d.pollErr)
			}
			for _, ev := range batch {
				d.handleReadiness(ev)
			}
		case <-d.fired.C:
			d.fireTimers()
		}
	}
	return nil
}

// pollLoop blocks in the reactor on its own goroutine and forwards
// batches to the driver. A fresh slice per wait keeps batches alive
// while the driver still walks the previous one.
func (d *Dispatcher) pollLoop() {
	defer close(d.pollDone)
	for {
		events := make([]reactor.Event, eventBatch)
		n, err := d.poller.Wait(events)
		if err != nil {
			d.pollErr = err
			close(d.ready)
			return
		}
		if n == 0 {
			select {
			case <-d.stop:
				return
			default:
				continue
			}
		}
		select {
		case d.ready <- events[:n]:
		case <-d.stop:
			return
		}
	}
}

func (d *Dispatcher) cleanup() {
	close(d.stop)
	d.queue.Close()
	_ = d.poller.Wake()
	<-d.pollDone
	for i := range d.conns {
		if c := d.conns[i]; c != nil {
			c.Disconnect()
			d.retire(c)
		}
	}
	if d.listener != nil {
		_ = d.listener.Close()
		d.listener = nil
	}
	_ = d.poller.Close()
}

// handleCommand routes one queued command. Connect and Shutdown act on
// the engine; everything else is addressed to a connection and dropped
// when the token's occupant no longer matches the sender's connection
// id.
func (d *Dispatcher) handleCommand(cmd comm.Command) {
	switch cmd.Signal.Kind {
	case comm.SignalShutdown:
		d.beginShutdown()
		return
	case comm.SignalConnect:
		d.connect(cmd.Signal.Target)
		return
	}
	if cmd.Token == api.All {
		d.count("broadcasts")
		for i := range d.conns {
			if c := d.conns[i]; c != nil {
				d.apply(c, cmd.Signal)
			}
		}
		return
	}
	c := d.connLive(cmd.Token, cmd.ConnectionID)
	if c == nil {
		d.count("commands.stale")
		d.log.Debug("dropping command for a retired connection",
			zap.Uint64("token", uint64(cmd.Token)),
			zap.Uint32("id", cmd.ConnectionID),
			zap.Stringer("signal", cmd.Signal.Kind))
		return
	}
	d.count("commands.routed")
	d.apply(c, cmd.Signal)
}

func (d *Dispatcher) apply(c *conn.Connection, s comm.Signal) {
	switch s.Kind {
	case comm.SignalMessage:
		if err := c.SendMessage(s.Message); err != nil {
			d.fail(c, err)
			return
		}
	case comm.SignalClose:
		if c.State() == conn.StateConnecting {
			d.log.Debug("dropping close for a connection still negotiating",
				zap.String("peer", c.Stream().RemoteAddr()))
			return
		}
		if err := c.SendClose(s.Code, s.Reason); err != nil {
			d.fail(c, err)
			return
		}
	case comm.SignalTimeout:
		d.scheduleTimeout(c, s.Delay, s.Event)
		return
	case comm.SignalCancel:
		d.cancelTimeout(s.Handle)
		return
	default:
		d.log.Warn("unhandled signal", zap.Stringer("signal", s.Kind))
		return
	}
	d.sync(c)
}

// handleReadiness applies one reactor event. Error conditions are
// folded into the read attempt; the failing operation reports the
// actual cause.
func (d *Dispatcher) handleReadiness(ev reactor.Event) {
	if ev.Token == acceptToken {
		d.acceptPending()
		return
	}
	c := d.connAt(ev.Token)
	if c == nil {
		d.log.Debug("readiness for a retired token", zap.Uint64("token", uint64(ev.Token)))
		return
	}
	if ev.Readable || ev.Err {
		if err := c.Read(); err != nil {
			d.fail(c, err)
			return
		}
		if c.Events().IsEmpty() {
			d.retire(c)
			return
		}
	}
	if ev.Writable && c.Events().IsWritable() {
		if err := c.Write(); err != nil {
			d.fail(c, err)
			return
		}
	}
	d.sync(c)
}

// acceptPending drains the listener backlog. The listener stays
// level-polled, so anything left behind re-surfaces on the next wait.
func (d *Dispatcher) acceptPending() {
	if d.listener == nil {
		return
	}
	for {
		stream, err := d.listener.Accept()
		if err != nil {
			if !errors.Is(err, api.ErrWouldBlock) {
				d.log.Warn("accept failed", zap.Error(err))
			}
			return
		}
		d.adopt(stream)
	}
}

// adopt installs an accepted socket as a server connection.
func (d *Dispatcher) adopt(stream api.Stream) {
	if d.draining {
		_ = stream.Close()
		return
	}
	slot, ok := d.allocSlot()
	if !ok {
		d.log.Warn("connection limit reached, refusing peer",
			zap.String("peer", stream.RemoteAddr()),
			zap.Int("max", d.settings.MaxConnections))
		_ = stream.Close()
		return
	}
	token := tokenFor(slot)
	id := d.nextConnID()
	handler := d.factory.ConnectionMade(comm.NewSender(token, id, d.queue))
	c := conn.New(token, stream, handler, d.settings, id,
		conn.WithCodec(protocol.NewServerCodec(d.settings)),
		conn.WithHandshake(&protocol.ServerHandshake{Protocols: d.protocols}),
		conn.WithLogger(d.log))
	c.AsServer()
	d.install(slot, c)
	d.count("connections.accepted")
	d.log.Debug("connection accepted",
		zap.String("peer", stream.RemoteAddr()),
		zap.Uint64("token", uint64(token)))
	if err := d.poller.Add(stream.Fd(), c.Events(), token); err != nil {
		d.log.Error("failed to watch an accepted socket", zap.Error(err))
		d.retire(c)
	}
}

// connect resolves the target, dials the first candidate and installs
// the connection as a client. The remaining candidates stay with the
// connection for reconnection.
func (d *Dispatcher) connect(target *url.URL) {
	if d.draining {
		d.log.Debug("ignoring connect during shutdown")
		return
	}
	if target == nil {
		d.log.Warn("connect signal without a target")
		return
	}
	slot, ok := d.allocSlot()
	if !ok {
		d.log.Warn("connection limit reached, dropping connect",
			zap.String("url", target.String()),
			zap.Int("max", d.settings.MaxConnections))
		return
	}
	token := tokenFor(slot)
	id := d.nextConnID()
	handler := d.factory.ConnectionMade(comm.NewSender(token, id, d.queue))

	addrs, err := d.resolve(target)
	if err == nil && len(addrs) == 0 {
		err = fmt.Errorf("no usable address for %q", target.Host)
	}
	if err != nil {
		d.free.Add(slot)
		d.abandon(handler, api.WrapError(api.KindIO, "failed to resolve the connect target", err))
		return
	}
	stream, err := d.dial(addrs[0])
	if err != nil {
		d.free.Add(slot)
		d.abandon(handler, api.WrapError(api.KindIO, "dial failed", err))
		return
	}
	c := conn.New(token, stream, handler, d.settings, id,
		conn.WithCodec(protocol.NewClientCodec(d.settings)),
		conn.WithHandshake(&protocol.ClientHandshake{Protocols: d.protocols}),
		conn.WithDialer(d.dial),
		conn.WithLogger(d.log))
	if err := c.AsClient(target, addrs[1:]); err != nil {
		d.free.Add(slot)
		_ = stream.Close()
		d.abandon(handler, err)
		return
	}
	d.install(slot, c)
	d.count("connections.initiated")
	d.log.Debug("connecting",
		zap.String("url", target.String()),
		zap.String("addr", addrs[0]),
		zap.Uint64("token", uint64(token)))
	if err := d.poller.Add(stream.Fd(), c.Events(), token); err != nil {
		d.log.Error("failed to watch a dialed socket", zap.Error(err))
		d.retire(c)
	}
}

// abandon reports a failure to a handler whose connection never made it
// into the table.
func (d *Dispatcher) abandon(handler api.Handler, err error) {
	e := api.AsError(err)
	d.log.Debug("connect abandoned", zap.Error(e))
	handler.OnError(e)
	if ln, ok := d.factory.(comm.LostNotifier); ok {
		ln.ConnectionLost(handler)
	}
}

// resolveTarget expands a ws or wss url into dialable host:port
// candidates, one per resolved address.
func resolveTarget(target *url.URL) ([]string, error) {
	host := target.Hostname()
	if host == "" {
		return nil, fmt.Errorf("url %q has no host", target)
	}
	port := target.Port()
	if port == "" {
		if target.Scheme == "wss" {
			port = "443"
		} else {
			port = "80"
		}
	}
	if ip := net.ParseIP(host); ip != nil {
		return []string{net.JoinHostPort(host, port)}, nil
	}
	ips, err := net.LookupHost(host)
	if err != nil {
		return nil, err
	}
	addrs := make([]string, 0, len(ips))
	for _, ip := range ips {
		addrs = append(addrs, net.JoinHostPort(ip, port))
	}
	return addrs, nil
}

// fail funnels an operation error. A refused connect on a client that
// is still connecting is paced and retried; everything else goes
// through the connection's error policy.
func (d *Dispatcher) fail(c *conn.Connection, err error) {
	if d.retryable(c, err) {
		d.pace(c)
		return
	}
	c.Fail(err)
	d.sync(c)
}

func (d *Dispatcher) retryable(c *conn.Connection, err error) bool {
	return c.IsClient() && c.State() == conn.StateConnecting &&
		errors.Is(err, syscall.ECONNREFUSED)
}

// pace schedules a reconnect attempt after an exponentially growing
// delay. The dead socket leaves the watch list so the refused state
// stops generating readiness until the retry swaps it out.
func (d *Dispatcher) pace(c *conn.Connection) {
	b := d.backoffs[c.Token()]
	if b == nil {
		b = &backoff.Backoff{
			Min:    reconnectBaseInterval,
			Max:    d.settings.ReconnectMaxInterval,
			Factor: 2,
			Jitter: true,
		}
		d.backoffs[c.Token()] = b
	}
	delay := b.Duration()
	_ = d.poller.Remove(c.Stream().Fd())
	d.log.Debug("connection refused, reconnect paced",
		zap.String("peer", c.Stream().RemoteAddr()),
		zap.Duration("delay", delay))
	d.scheduleInternal(delay, timerRetry, c.Token(), c.ID())
}

// reconnect swaps the connection onto its next candidate address.
func (d *Dispatcher) reconnect(c *conn.Connection) {
	if err := c.Reset(); err != nil {
		c.Fail(err)
	}
	d.sync(c)
}

// scheduleTimeout arms an application timeout and hands the handler its
// cancellation handle.
func (d *Dispatcher) scheduleTimeout(c *conn.Connection, delay time.Duration, event api.Token) {
	d.seq++
	entry := &timerEntry{
		at:    time.Now().Add(delay),
		seq:   d.seq,
		kind:  timerUser,
		token: c.Token(),
		id:    c.ID(),
		event: event,
	}
	heap.Push(&d.timers, entry)
	if err := c.NewTimeout(event, &api.Timeout{ID: entry.seq, Event: event}); err != nil {
		d.fail(c, err)
	}
}

// cancelTimeout removes a pending entry. An entry that already fired is
// gone from the heap; cancellation is advisory, so that case only gets
// a debug line.
func (d *Dispatcher) cancelTimeout(h *api.Timeout) {
	if h == nil {
		return
	}
	for i, e := range d.timers {
		if e.kind == timerUser && e.seq == h.ID {
			heap.Remove(&d.timers, i)
			return
		}
	}
	d.log.Debug("cancel for a timeout that already fired", zap.Uint64("id", h.ID))
}

func (d *Dispatcher) scheduleInternal(delay time.Duration, kind timerKind, token api.Token, id uint32) {
	d.seq++
	heap.Push(&d.timers, &timerEntry{
		at:    time.Now().Add(delay),
		seq:   d.seq,
		kind:  kind,
		token: token,
		id:    id,
	})
}

// armTimer points the loop's wakeup timer at the earliest deadline.
func (d *Dispatcher) armTimer() {
	if !d.fired.Stop() {
		select {
		case <-d.fired.C:
		default:
		}
	}
	if d.timers.Len() > 0 {
		d.fired.Reset(time.Until(d.timers[0].at))
	}
}

// fireTimers pops and applies every entry whose deadline has passed.
func (d *Dispatcher) fireTimers() {
	now := time.Now()
	for d.timers.Len() > 0 {
		if d.timers[0].at.After(now) {
			return
		}
		d.fire(heap.Pop(&d.timers).(*timerEntry))
	}
}

func (d *Dispatcher) fire(e *timerEntry) {
	if e.kind == timerDrain {
		d.forceStop()
		return
	}
	c := d.connLive(e.token, e.id)
	if c == nil {
		d.log.Debug("timeout for a retired connection", zap.Uint64("token", uint64(e.token)))
		return
	}
	switch e.kind {
	case timerRetry:
		if c.State() == conn.StateConnecting {
			d.reconnect(c)
		}
	case timerUser:
		d.count("timeouts.fired")
		if err := c.TimeoutTriggered(e.event); err != nil {
			d.fail(c, err)
			return
		}
		d.sync(c)
	}
}

// beginShutdown starts the graceful drain: no new connections, a close
// handshake on every live one, and a deadline after which stragglers
// are dropped.
func (d *Dispatcher) beginShutdown() {
	if d.draining {
		return
	}
	d.log.Info("shutdown requested", zap.Int("connections", d.live))
	d.draining = true
	d.count("shutdowns")
	if d.listener != nil {
		_ = d.poller.Remove(d.listener.Fd())
		_ = d.listener.Close()
		d.listener = nil
	}
	for i := range d.conns {
		if c := d.conns[i]; c != nil {
			c.Shutdown()
			d.sync(c)
		}
	}
	if d.settings.FatalOnShutdown {
		panic("wsloop: shutdown requested while the fatal shutdown policy is set")
	}
	d.scheduleInternal(shutdownGrace, timerDrain, 0, 0)
	d.maybeStop()
}

// forceStop drops every connection still alive at the drain deadline.
func (d *Dispatcher) forceStop() {
	for i := range d.conns {
		if c := d.conns[i]; c != nil {
			d.log.Debug("dropping connection at the shutdown deadline",
				zap.String("peer", c.Stream().RemoteAddr()))
			c.Disconnect()
			d.retire(c)
		}
	}
	d.stopped = true
}

func (d *Dispatcher) maybeStop() {
	if d.draining && d.live == 0 {
		d.stopped = true
	}
}

// sync reconciles a connection's interest with the reactor, retiring it
// when nothing remains to watch.
func (d *Dispatcher) sync(c *conn.Connection) {
	if d.connAt(c.Token()) != c {
		return
	}
	if c.State() != conn.StateConnecting {
		delete(d.backoffs, c.Token())
	}
	ev := c.Events()
	if ev.IsEmpty() {
		d.retire(c)
		return
	}
	if err := d.poller.Modify(c.Stream().Fd(), ev, c.Token()); err != nil {
		d.log.Error("interest update failed",
			zap.Error(err),
			zap.String("peer", c.Stream().RemoteAddr()))
		c.Disconnect()
		d.retire(c)
	}
}

// retire removes a finished connection: socket closed, token recycled,
// handler handed back to the factory when it wants them.
func (d *Dispatcher) retire(c *conn.Connection) {
	slot := slotFor(c.Token())
	if slot < 0 || slot >= len(d.conns) || d.conns[slot] != c {
		return
	}
	_ = d.poller.Remove(c.Stream().Fd())
	_ = c.Stream().Close()
	d.conns[slot] = nil
	d.free.Add(slot)
	d.live--
	delete(d.backoffs, c.Token())
	d.count("connections.retired")
	d.gauge("connections.live", d.live)
	d.log.Debug("connection retired",
		zap.Uint64("token", uint64(c.Token())),
		zap.Uint32("id", c.ID()))
	handler := c.Consume()
	if ln, ok := d.factory.(comm.LostNotifier); ok {
		ln.ConnectionLost(handler)
	}
	d.maybeStop()
}

func (d *Dispatcher) install(slot int, c *conn.Connection) {
	d.conns[slot] = c
	d.live++
	d.gauge("connections.live", d.live)
}

func (d *Dispatcher) allocSlot() (int, bool) {
	if d.free.Length() == 0 {
		return 0, false
	}
	return d.free.Remove().(int), true
}

func (d *Dispatcher) connAt(token api.Token) *conn.Connection {
	slot := slotFor(token)
	if slot < 0 || slot >= len(d.conns) {
		return nil
	}
	return d.conns[slot]
}

// connLive resolves a token only when its occupant is still the logical
// connection the caller addressed.
func (d *Dispatcher) connLive(token api.Token, id uint32) *conn.Connection {
	c := d.connAt(token)
	if c == nil || c.ID() != id {
		return nil
	}
	return c
}

func (d *Dispatcher) nextConnID() uint32 {
	d.nextID++
	return d.nextID
}

func (d *Dispatcher) count(key string) {
	if d.metrics != nil {
		d.metrics.Inc(key)
	}
}

func (d *Dispatcher) gauge(key string, v any) {
	if d.metrics != nil {
		d.metrics.Set(key, v)
	}
}
