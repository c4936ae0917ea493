package diag

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flowterm/flowterm/addr"
	"github.com/flowterm/flowterm/flow"
	"github.com/flowterm/flowterm/ioface"
	"github.com/flowterm/flowterm/ippkt"
	"github.com/flowterm/flowterm/tcpterm"
	"github.com/flowterm/flowterm/udpterm"
)

type nopSink struct{}

func (nopSink) SendPacket(chunks [][]byte) error { return nil }

type nopTimer struct{}

func (nopTimer) Stop() {}

type nopTimers struct{}

func (nopTimers) After(d time.Duration, fn func()) ioface.Timer { return nopTimer{} }
func (nopTimers) Every(d time.Duration, fn func()) ioface.Timer { return nopTimer{} }

type syncLoop struct{}

func (syncLoop) RunOnLoop(fn func()) { fn() }

type nopTCPHandler struct{}

func (nopTCPHandler) InitializeReceiver(pkt ippkt.Packet) bool { return true }
func (nopTCPHandler) ReceiveData(data []byte) (int, error)     { return len(data), nil }
func (nopTCPHandler) ReceivingCompleted()                      {}
func (nopTCPHandler) SendingUnblocked()                        {}

type nopUDPHandler struct{}

func (nopUDPHandler) ReceiveData(data []byte) error { return nil }

func testDesc(t *testing.T) flow.Desc {
	t.Helper()
	client, ok := addr.Parse("10.0.0.1")
	require.True(t, ok)
	server, ok := addr.Parse("10.0.0.2")
	require.True(t, ok)
	return flow.Desc{
		Type:       4,
		HEProto:    6,
		ClientPort: 4000,
		ServerPort: 80,
		ClientAddr: client,
		ServerAddr: server,
	}
}

func TestAppendDesc(t *testing.T) {
	out := AppendDesc(nil, testDesc(t))
	require.Contains(t, string(out), `"client":"10.0.0.1:4000"`)
	require.Contains(t, string(out), `"server":"10.0.0.2:80"`)
}

func TestAppendUDPState(t *testing.T) {
	desc := testDesc(t)
	desc.HEProto = 17
	term, err := udpterm.New(desc, nopSink{}, nopTimers{}, nopUDPHandler{}, nil, udpterm.DefaultOptions)
	require.NoError(t, err)
	defer term.FlowRemoved()

	out := AppendUDPState(nil, term)
	require.Contains(t, string(out), `"flow":"`)
}

func TestAppendTCPState(t *testing.T) {
	desc := testDesc(t)
	term, err := tcpterm.New(desc, nopSink{}, nopTimers{}, syncLoop{}, nopTCPHandler{}, nil, tcpterm.DefaultOptions)
	require.NoError(t, err)
	defer term.FlowRemoved()

	out := AppendTCPState(nil, term)
	require.Contains(t, string(out), `"state":"`)
}

func TestRegistryPublishLookupRemove(t *testing.T) {
	reg := NewRegistry[string, int]()
	reg.Publish("a", 1)
	reg.Publish("b", 2)

	v, ok := reg.Lookup("a")
	require.True(t, ok)
	require.Equal(t, 1, v)
	require.Equal(t, 2, reg.Len())

	seen := map[string]int{}
	reg.Range(func(key string, value int) bool {
		seen[key] = value
		return true
	})
	require.Equal(t, map[string]int{"a": 1, "b": 2}, seen)

	reg.Remove("a")
	_, ok = reg.Lookup("a")
	require.False(t, ok)
	require.Equal(t, 1, reg.Len())
}

func TestParseCommandDumpFlow(t *testing.T) {
	raw := []byte(`{"cmd":"dump-flow","client":"10.0.0.1:4000","server":"10.0.0.2:80"}`)
	cmd, err := ParseCommand(raw)
	require.NoError(t, err)
	require.Equal(t, CmdDumpFlow, cmd.Name)
	require.Equal(t, "10.0.0.1", cmd.ClientAddr)
	require.EqualValues(t, 4000, cmd.ClientPort)
	require.Equal(t, "10.0.0.2", cmd.ServerAddr)
	require.EqualValues(t, 80, cmd.ServerPort)
}

func TestParseCommandCancelLookup(t *testing.T) {
	raw := []byte(`{"cmd":"cancel-lookup","id":42}`)
	cmd, err := ParseCommand(raw)
	require.NoError(t, err)
	require.Equal(t, CmdCancelLookup, cmd.Name)
	require.EqualValues(t, 42, cmd.LookupID)
}

func TestParseCommandUnknown(t *testing.T) {
	_, err := ParseCommand([]byte(`{"cmd":"reboot"}`))
	require.Error(t, err)
}

func TestParseCommandMissingField(t *testing.T) {
	_, err := ParseCommand([]byte(`{"cmd":"dump-flow","client":"10.0.0.1:4000"}`))
	require.Error(t, err)
}
