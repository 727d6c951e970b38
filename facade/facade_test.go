// File: facade/facade_test.go
// Author: momentics <momentics@gmail.com>

package facade

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/momentics/wsloop/adapters"
	"github.com/momentics/wsloop/api"
	"github.com/momentics/wsloop/comm"
	"github.com/momentics/wsloop/control"
)

func nopFactory() comm.Factory {
	return comm.FactoryFunc(func(out *comm.Sender) api.Handler { return api.NopHandler{} })
}

func TestNew_RequiresFactory(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}

func TestNew_RejectsInvalidSettings(t *testing.T) {
	bad := api.DefaultSettings()
	bad.MaxConnections = 0
	_, err := New(nopFactory(), WithSettings(bad))
	require.Error(t, err)
}

func TestWebSocket_BroadcasterAddressesEveryConnection(t *testing.T) {
	ws, err := New(nopFactory())
	require.NoError(t, err)

	b := ws.Broadcaster()
	require.Equal(t, api.All, b.Token())
	require.NoError(t, b.SendText("to all"))
	require.Equal(t, 1, ws.queue.Len())
}

func TestWebSocket_ConnectRejectsUnparsableURL(t *testing.T) {
	ws, err := New(nopFactory())
	require.NoError(t, err)
	require.Error(t, ws.Connect("://missing-scheme"))
	require.Equal(t, 0, ws.queue.Len())
}

func TestWebSocket_ConnectQueuesBeforeRun(t *testing.T) {
	ws, err := New(nopFactory())
	require.NoError(t, err)
	require.NoError(t, ws.Connect("ws://127.0.0.1:9"))
	require.Equal(t, 1, ws.queue.Len())
}

type markedHandler struct {
	api.Handler
	name  string
	trail *[]string
}

func (m *markedHandler) OnOpen() error {
	*m.trail = append(*m.trail, m.name)
	return m.Handler.OnOpen()
}

func mark(name string, trail *[]string) adapters.Middleware {
	return func(next api.Handler) api.Handler {
		return &markedHandler{Handler: next, name: name, trail: trail}
	}
}

type countingFactory struct {
	trail *[]string
	lost  int
}

func (f *countingFactory) ConnectionMade(out *comm.Sender) api.Handler {
	return &markedHandler{Handler: api.NopHandler{}, name: "base", trail: f.trail}
}

func (f *countingFactory) ConnectionLost(api.Handler) { f.lost++ }

func TestWebSocket_MiddlewareWrapsEveryHandler(t *testing.T) {
	var trail []string
	inner := &countingFactory{trail: &trail}
	ws, err := New(inner, WithMiddleware(mark("first", &trail), mark("second", &trail)))
	require.NoError(t, err)

	f := ws.wrapFactory()
	h := f.ConnectionMade(ws.Broadcaster())
	require.NoError(t, h.OnOpen())
	require.Equal(t, []string{"first", "second", "base"}, trail)

	f.(comm.LostNotifier).ConnectionLost(h)
	require.Equal(t, 1, inner.lost)
}

func TestWebSocket_NoMiddlewareKeepsFactory(t *testing.T) {
	var trail []string
	inner := &countingFactory{trail: &trail}
	ws, err := New(inner)
	require.NoError(t, err)
	require.Same(t, comm.Factory(inner), ws.wrapFactory())
}

func TestWebSocket_RegistersQueueProbes(t *testing.T) {
	probes := control.NewDebugProbes()
	ws, err := New(nopFactory(), WithProbes(probes))
	require.NoError(t, err)
	require.NoError(t, ws.Broadcaster().SendText("one"))

	ws.registerProbes()
	state := probes.DumpState()
	require.Equal(t, 1, state["queue.len"])
	require.Equal(t, ws.settings.QueueCapacity(), state["queue.cap"])
}

func TestWebSocket_CloseStopsProducers(t *testing.T) {
	ws, err := New(nopFactory())
	require.NoError(t, err)
	require.NoError(t, ws.Close())
	require.ErrorIs(t, ws.Broadcaster().SendText("late"), api.ErrQueueClosed)
}
