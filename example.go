/*
 * a basic example of wiring flowterm's packet core into a toy in-process
 * client/server pair, plus an optional live DNS lookup
 */
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/flowterm/flowterm/addr"
	"github.com/flowterm/flowterm/flow"
	"github.com/flowterm/flowterm/ioface"
	"github.com/flowterm/flowterm/ippkt"
	"github.com/flowterm/flowterm/resolve"
	"github.com/flowterm/flowterm/tcpterm"
	"github.com/flowterm/flowterm/udpterm"
)

var (
	optResolve = flag.String("resolve", "", "hostname to resolve over the network before the demo (skipped if empty)")
	optVerbose = flag.Bool("v", false, "debug-level logging")
)

func main() {
	flag.Parse()
	if *optVerbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	loop := newEventLoop()
	go loop.run()

	if *optResolve != "" {
		runResolveDemo(loop, *optResolve)
	}

	fmap, err := flow.NewMap(8)
	if err != nil {
		fmt.Fprintln(os.Stderr, "flow map:", err)
		os.Exit(1)
	}

	runTCPDemo(fmap, loop)
	runUDPDemo(fmap)
}

// eventLoop is the single goroutine every Resolver worker, timer callback,
// and terminator in this demo is considered to run on.
type eventLoop struct {
	jobs chan func()
}

func newEventLoop() *eventLoop {
	return &eventLoop{jobs: make(chan func(), 64)}
}

func (l *eventLoop) RunOnLoop(fn func()) { l.jobs <- fn }

func (l *eventLoop) run() {
	for fn := range l.jobs {
		fn()
	}
}

// wallTimers schedules real callbacks via time.AfterFunc, delivered back
// onto loop so they never race with whatever else is using it.
type wallTimers struct{ loop *eventLoop }

func (w wallTimers) After(d time.Duration, fn func()) ioface.Timer {
	t := time.AfterFunc(d, func() { w.loop.RunOnLoop(fn) })
	return wallTimer{t}
}

func (w wallTimers) Every(d time.Duration, fn func()) ioface.Timer {
	var t *time.Timer
	t = time.AfterFunc(d, func() { w.loop.RunOnLoop(fn); t.Reset(d) })
	return wallTimer{t}
}

type wallTimer struct{ t *time.Timer }

func (w wallTimer) Stop() { w.t.Stop() }

// loopSink is the toy "wire": it just remembers every packet handed to it.
type loopSink struct{ sent []ippkt.Packet }

func (s *loopSink) SendPacket(chunks [][]byte) error {
	s.sent = append(s.sent, ippkt.Parse(chunks))
	return nil
}

func (s *loopSink) last() ippkt.Packet { return s.sent[len(s.sent)-1] }

// echoHandler answers every received byte stream with the same bytes,
// upper-cased, demonstrating the tcpterm.Handler contract.
type echoHandler struct{ term *tcpterm.Terminator }

func (h *echoHandler) InitializeReceiver(ippkt.Packet) bool { return true }

func (h *echoHandler) ReceiveData(data []byte) (int, error) {
	up := make([]byte, len(data))
	for i, b := range data {
		if 'a' <= b && b <= 'z' {
			b -= 'a' - 'A'
		}
		up[i] = b
	}
	fmt.Printf("tcp: received %q, echoing %q\n", data, up)
	h.term.AppendData(up)
	return len(data), nil
}

func (h *echoHandler) ReceivingCompleted() { fmt.Println("tcp: peer closed its side") }
func (h *echoHandler) SendingUnblocked()   {}

func runTCPDemo(fmap *flow.Map, loop *eventLoop) {
	client, _ := addr.Parse("10.0.0.1")
	server, _ := addr.Parse("10.0.0.2")
	const clientPort, serverPort = 40000, 80

	desc := flow.Desc{
		Type:       4,
		HEProto:    uint16(ippkt.ProtoTCP),
		ClientAddr: client,
		ServerAddr: server,
		ClientPort: clientPort,
		ServerPort: serverPort,
	}

	sink := &loopSink{}
	handler := &echoHandler{}
	onDone := func(t *tcpterm.Terminator) {
		fmap.Remove(t)
		fmt.Println("tcp:", t, "removed from flow map")
	}

	term, err := tcpterm.New(desc, sink, wallTimers{loop}, loop, handler, onDone, tcpterm.DefaultOptions)
	if err != nil {
		fmt.Fprintln(os.Stderr, "tcp terminator:", err)
		return
	}
	handler.term = term
	if !fmap.Insert(term) {
		fmt.Fprintln(os.Stderr, "tcp terminator: flow map insert conflict")
		return
	}

	// drive a toy three-way handshake, as a real client on the wire would.
	clientSeq := uint32(1000)
	syn := ippkt.NewTCP(client, clientPort, server, serverPort, ippkt.TCPFlagSyn, clientSeq, 0, 65535, nil, nil)
	must(term.PacketReceived(syn))

	synAck, _ := sink.last().GetTCPHeader()
	ack := ippkt.NewTCP(client, clientPort, server, serverPort, ippkt.TCPFlagAck, clientSeq+1, synAck.SeqNum()+1, 65535, nil, nil)
	must(term.PacketReceived(ack))
	fmt.Println("tcp:", term, "connected")

	data := ippkt.NewTCP(client, clientPort, server, serverPort, ippkt.TCPFlagAck|ippkt.TCPFlagPsh,
		clientSeq+1, synAck.SeqNum()+1, 65535, []byte("hello flowterm"), nil)
	must(term.PacketReceived(data))
}

// udpEchoHandler answers every datagram with the same bytes reversed.
type udpEchoHandler struct{ term *udpterm.Terminator }

func (h *udpEchoHandler) ReceiveData(data []byte) error {
	rev := make([]byte, len(data))
	for i, b := range data {
		rev[len(data)-1-i] = b
	}
	fmt.Printf("udp: received %q, echoing %q\n", data, rev)
	return h.term.SendData(rev)
}

func runUDPDemo(fmap *flow.Map) {
	client, _ := addr.Parse("10.0.0.1")
	server, _ := addr.Parse("10.0.0.2")
	const clientPort, serverPort = 40001, 53

	desc := flow.Desc{
		Type:       4,
		HEProto:    uint16(ippkt.ProtoUDP),
		ClientAddr: client,
		ServerAddr: server,
		ClientPort: clientPort,
		ServerPort: serverPort,
	}

	sink := &loopSink{}
	timers := wallTimers{newEventLoop()} // a standalone loop: UDP has no cross-goroutine delivery to serialize
	handler := &udpEchoHandler{}
	onDone := func(t *udpterm.Terminator) { fmap.Remove(t) }

	term, err := udpterm.New(desc, sink, timers, handler, onDone, udpterm.DefaultOptions)
	if err != nil {
		fmt.Fprintln(os.Stderr, "udp terminator:", err)
		return
	}
	handler.term = term
	fmap.Insert(term)

	pkt := ippkt.NewUDP(client, clientPort, server, serverPort, []byte("ping"))
	must(term.PacketReceived(pkt))
}

// resolveOwner prints results and signals done once every outstanding
// lookup has delivered.
type resolveOwner struct{ done chan struct{} }

func (o resolveOwner) DNSLookupComplete(r *resolve.Resolver, name string, results []addr.Address) {
	fmt.Printf("dns: %s -> %v\n", name, results)
	close(o.done)
}

func (o resolveOwner) DNSLookupCompleteSRV(r *resolve.Resolver, name string, results []resolve.SrvRecord) {
	fmt.Printf("dns: %s SRV -> %v\n", name, results)
	close(o.done)
}

func runResolveDemo(loop *eventLoop, name string) {
	owner := resolveOwner{done: make(chan struct{})}
	r, err := resolve.New(owner, loop, resolve.DefaultOptions)
	if err != nil {
		fmt.Fprintln(os.Stderr, "resolver:", err)
		return
	}
	dnsServers := []string{"1.1.1.1:53"}
	if err := r.Start(dnsServers, resolve.ReqTypeA|resolve.ReqTypeAAAA, name, 0, nil, 5*time.Second); err != nil {
		fmt.Fprintln(os.Stderr, "resolver start:", err)
		return
	}

	select {
	case <-owner.done:
	case <-time.After(6 * time.Second):
		log.Warn().Str("name", name).Msg("DNS lookup timed out")
	}
}

func must(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
}
