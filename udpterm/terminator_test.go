package udpterm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flowterm/flowterm/addr"
	"github.com/flowterm/flowterm/flow"
	"github.com/flowterm/flowterm/ioface"
	"github.com/flowterm/flowterm/ippkt"
)

type fakeSink struct{ sent [][][]byte }

func (f *fakeSink) SendPacket(chunks [][]byte) error {
	f.sent = append(f.sent, chunks)
	return nil
}

type fakeTimer struct{ stopped bool }

func (t *fakeTimer) Stop() { t.stopped = true }

type fakeTimers struct {
	scheduled int
	lastFn    func()
}

func (f *fakeTimers) After(d time.Duration, fn func()) ioface.Timer {
	f.scheduled++
	f.lastFn = fn
	return &fakeTimer{}
}

func (f *fakeTimers) Every(d time.Duration, fn func()) ioface.Timer { return &fakeTimer{} }

type fakeHandler struct{ received [][]byte }

func (h *fakeHandler) ReceiveData(data []byte) error {
	h.received = append(h.received, append([]byte(nil), data...))
	return nil
}

func newTestTerminator(t *testing.T) (*Terminator, *fakeSink, *fakeTimers, *fakeHandler) {
	t.Helper()
	client, ok := addr.Parse("10.0.0.1")
	require.True(t, ok)
	server, ok := addr.Parse("10.0.0.2")
	require.True(t, ok)

	desc := flow.Desc{
		Type:       4,
		HEProto:    uint16(ippkt.ProtoUDP),
		ClientPort: 5000,
		ServerPort: 53,
		ClientAddr: client,
		ServerAddr: server,
	}
	sink := &fakeSink{}
	timers := &fakeTimers{}
	handler := &fakeHandler{}
	term, err := New(desc, sink, timers, handler, nil, DefaultOptions)
	require.NoError(t, err)
	return term, sink, timers, handler
}

func TestNewStartsIdleTimer(t *testing.T) {
	_, _, timers, _ := newTestTerminator(t)
	require.Equal(t, 1, timers.scheduled)
}

func TestPacketReceivedDeliversPayloadAndRestartsTimer(t *testing.T) {
	term, _, timers, handler := newTestTerminator(t)
	client, server := addrsFor(t)

	pkt := ippkt.NewUDP(client, 5000, server, 53, []byte("query"))
	require.True(t, pkt.Valid())

	require.NoError(t, term.PacketReceived(pkt))
	require.Len(t, handler.received, 1)
	require.Equal(t, "query", string(handler.received[0]))
	require.Equal(t, 2, timers.scheduled, "receiving a packet restarts the idle timer")
}

func TestSendDataBuildsReturnPacket(t *testing.T) {
	term, sink, _, _ := newTestTerminator(t)
	require.NoError(t, term.SendData([]byte("response")))
	require.Len(t, sink.sent, 1)

	resp := ippkt.Parse(sink.sent[0])
	udp, ok := resp.GetUDPHeader()
	require.True(t, ok)
	require.Equal(t, uint16(53), udp.SrcPort())
	require.Equal(t, uint16(5000), udp.DestPort())
}

func TestSendDataRejectsEmpty(t *testing.T) {
	term, _, _, _ := newTestTerminator(t)
	require.Error(t, term.SendData(nil))
}

func TestIdleTimeoutInvokesOnDone(t *testing.T) {
	client, ok := addr.Parse("10.0.0.1")
	require.True(t, ok)
	server, ok := addr.Parse("10.0.0.2")
	require.True(t, ok)
	desc := flow.Desc{Type: 4, HEProto: uint16(ippkt.ProtoUDP), ClientPort: 5000, ServerPort: 53, ClientAddr: client, ServerAddr: server}

	sink := &fakeSink{}
	timers := &fakeTimers{}
	handler := &fakeHandler{}
	var removed *Terminator
	term, err := New(desc, sink, timers, handler, func(t *Terminator) { removed = t }, DefaultOptions)
	require.NoError(t, err)

	timers.lastFn()
	require.Same(t, term, removed)
}

func addrsFor(t *testing.T) (addr.Address, addr.Address) {
	t.Helper()
	client, ok := addr.Parse("10.0.0.1")
	require.True(t, ok)
	server, ok := addr.Parse("10.0.0.2")
	require.True(t, ok)
	return client, server
}
