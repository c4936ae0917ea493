// Package tcpterm implements a half-duplex TCP terminator: it speaks the
// server side of a TCP handshake on behalf of a caller-supplied Handler,
// buffering inbound bytes for delivery and outbound bytes for packetization,
// without ever touching a real socket. It is driven entirely by
// PacketReceived and AppendData calls from a single owning goroutine.
package tcpterm

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/flowterm/flowterm/addr"
	"github.com/flowterm/flowterm/ferr"
	"github.com/flowterm/flowterm/flow"
	"github.com/flowterm/flowterm/ioface"
	"github.com/flowterm/flowterm/ippkt"
)

const (
	defaultMSS      uint16 = 1300
	ipv4MTUOverhead uint16 = 40
	ipv6MTUOverhead uint16 = 60
	minMSS          uint16 = 536
)

// Handler supplies the policy a Terminator has no opinion about: what to do
// with received bytes, and how to react to flow-control edges.
type Handler interface {
	// InitializeReceiver is called once, when the client's SYN has been
	// accepted, before any SYN-ACK is sent. Returning false rejects the
	// connection (no SYN-ACK follows, and the SYN is left unacknowledged).
	InitializeReceiver(pkt ippkt.Packet) bool

	// ReceiveData is handed the next contiguous slice of received payload,
	// in order. It returns how many leading bytes it consumed; anything
	// left over is retried on the next drain pass once more data or a FIN
	// arrives. A non-nil error closes the connection.
	ReceiveData(data []byte) (consumed int, err error)

	// ReceivingCompleted is called once, the moment the peer's FIN has been
	// fully drained through ReceiveData.
	ReceivingCompleted()

	// SendingUnblocked is called when AppendData had previously been
	// throttled by a full send buffer and room has since opened up.
	SendingUnblocked()
}

// Terminator is one TCP connection's server-side endpoint. It embeds
// flow.Base so it can be inserted directly into a flow.Map.
type Terminator struct {
	flow.Base

	ClientAddr addr.Address
	ServerAddr addr.Address
	ClientPort uint16
	ServerPort uint16

	opts Options
	log  zerolog.Logger

	sink    ioface.PacketSink
	timers  ioface.TimerManager
	loop    ioface.EventLoop
	handler Handler

	// onDone is invoked instead of the original's delete-this: once a
	// Broken or Closed terminator's linger timer fires, the owner is told
	// to remove it from whatever flow.Map holds it.
	onDone func(*Terminator)

	state State

	sentBuffer   byteQueue
	unsentBuffer byteQueue
	rcvBuffer    byteQueue

	maxSendBufSize uint32
	nextRcvSeq     uint32
	sendDataSeq    uint32

	mss          uint16
	clientWScale uint8
	flags        uint8

	timer ioface.Timer
}

// New builds a Terminator for desc, which must describe a TCP flow. onDone
// may be nil if the caller removes broken/closed terminators some other way.
func New(desc flow.Desc, sink ioface.PacketSink, timers ioface.TimerManager, loop ioface.EventLoop, handler Handler, onDone func(*Terminator), opts Options) (*Terminator, error) {
	if !desc.Valid() || handler == nil || sink == nil || timers == nil || loop == nil {
		return nil, ferr.ErrInvalidParameter
	}
	if desc.HEProto&^flow.FragmentBit != uint16(ippkt.ProtoTCP) {
		return nil, ferr.ErrInvalidParameter
	}
	t := &Terminator{
		Base:        flow.NewBase(desc),
		ClientAddr:  desc.ClientAddr,
		ServerAddr:  desc.ServerAddr,
		ClientPort:  desc.ClientPort,
		ServerPort:  desc.ServerPort,
		opts:        opts,
		log:         opts.logger(),
		sink:        sink,
		timers:      timers,
		loop:        loop,
		handler:     handler,
		onDone:      onDone,
		state:       Init,
		sendDataSeq: rand.Uint32(),
	}
	return t, nil
}

func compareSeq(x, y uint32) int32 { return int32(x - y) }

// State returns the terminator's current connection state.
func (t *Terminator) State() State { return t.state }

func (t *Terminator) String() string {
	return fmt.Sprintf("tcp %s:%d-%s:%d[%s]", t.ClientAddr, t.ClientPort, t.ServerAddr, t.ServerPort, t.state)
}

// FlowRemoved shadows flow.Base's no-op default: it stops any pending timer
// so a removed terminator never fires after leaving the map.
func (t *Terminator) FlowRemoved() {
	t.stopTimer()
	t.log.Debug().Stringer("terminator", t).Msg("tcp terminator removed from flow map")
}

func (t *Terminator) startTimer(d time.Duration) {
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = t.timers.After(d, t.onTimerExpired)
}

func (t *Terminator) stopTimer() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *Terminator) onTimerExpired() {
	switch t.state {
	case Broken, Closed:
		if t.onDone != nil {
			t.onDone(t)
		}
	case Connected:
		if !t.sentBuffer.isEmpty() {
			t.resendFirst()
		} else if t.shouldSendFin() {
			t.sendAck()
		}
	}
}

func (t *Terminator) shouldSendFin() bool {
	return t.flags&(flagSentFin|flagRcvdFinAck) == flagSentFin
}

func (t *Terminator) ackToSend() uint32 {
	if t.flags&flagRcvdFin != 0 {
		return t.nextRcvSeq + 1
	}
	return t.nextRcvSeq
}

func (t *Terminator) sendBufSize() uint32 {
	return uint32(t.sentBuffer.size + t.unsentBuffer.size)
}

func (t *Terminator) adjustedMaxSendBufSize(window uint32) uint32 {
	limit := uint32(t.mss) * 2
	if window > limit {
		return limit
	}
	return window
}

func (t *Terminator) winSizeToAdvertise() uint16 {
	doubleMss := uint32(t.mss) * 2
	var w uint32
	if uint32(t.rcvBuffer.size) < doubleMss {
		w = doubleMss - uint32(t.rcvBuffer.size)
	}
	if w > 0xFFFF {
		w = 0xFFFF
	}
	return uint16(w)
}

func flattenChunks(chunks [][]byte) []byte {
	if len(chunks) == 1 {
		return chunks[0]
	}
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	out := make([]byte, 0, total)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

// PacketReceived feeds one inbound TCP segment for this flow through the
// state machine. It is the Go counterpart of packetReceived/handleSynPacket/
// handleDataPacket/handleAckPacket rolled into a single entry point, exactly
// mirroring their call order.
func (t *Terminator) PacketReceived(pkt ippkt.Packet) error {
	tcp, ok := pkt.GetTCPHeader()
	if !ok {
		return ferr.ErrInvalidParameter
	}

	if t.state == Broken {
		t.sendResetResponse(pkt)
		return nil
	}

	if tcp.IsRST() {
		t.setBroken()
		return nil
	}

	if tcp.IsSYN() {
		return t.handleSynPacket(pkt, tcp)
	}

	if !tcp.IsACK() {
		t.log.Debug().Msg("dropping non-SYN packet without ACK")
		return nil
	}

	if t.state == Init {
		if tcp.AckNum() == t.sendDataSeq {
			t.state = Connected
			t.log.Debug().Stringer("terminator", t).Msg("connection established")
		} else {
			t.log.Debug().Msg("dropping ACK that doesn't complete the handshake")
		}
		return nil
	}

	if !t.handleDataPacket(pkt, tcp) {
		return nil
	}

	if err := t.consumeReceivedData(); err != nil {
		return err
	}

	if t.flags&flagRcvdFin != 0 && t.flags&flagSentFin == 0 && t.rcvBuffer.isEmpty() {
		t.flags |= flagSentFin | flagNeedsAck
		t.handler.ReceivingCompleted()
	}

	t.handleAckPacket(pkt, tcp)

	if t.flags&flagSendBlocked != 0 && t.sendBufSize() < t.maxSendBufSize {
		t.flags &^= flagSendBlocked
		t.handler.SendingUnblocked()
	}

	if t.flags&flagNeedsAck != 0 {
		t.sendAck()
	}
	return nil
}

func (t *Terminator) handleSynPacket(pkt ippkt.Packet, tcp ippkt.TCPHeader) error {
	if t.state == Connected {
		t.log.Debug().Msg("ignoring reordered SYN on an established connection")
		return nil
	}
	if t.state != Init {
		t.log.Warn().Stringer("state", t.state).Msg("SYN received outside Init/Connected")
		t.setBroken()
		return ferr.ErrWrongState
	}
	if t.flags&flagSentSynAck != 0 {
		t.sendSynAck()
		return nil
	}
	if t.flags&flagSynAccepted != 0 {
		return nil
	}

	clientMss, hasMss := tcp.GetOptMss()
	if !hasMss || clientMss < 1 {
		t.log.Warn().Msg("SYN carried no usable MSS option, using default")
		clientMss = defaultMSS
	} else if clientMss < minMSS {
		t.log.Warn().Uint16("mss", clientMss).Msg("SYN MSS below minimum, clamping up")
		clientMss = minMSS
	}
	if wscale, ok := tcp.GetOptWindowScale(); ok {
		t.clientWScale = wscale
	}

	overhead := ipv4MTUOverhead
	if t.ClientAddr.Family() == addr.V6 {
		overhead = ipv6MTUOverhead
	}
	if t.opts.MTU > 0 && clientMss+overhead > t.opts.MTU {
		if t.opts.MTU <= overhead {
			t.log.Error().Msg("configured MTU is not large enough for the protocol overhead")
		} else {
			clientMss = t.opts.MTU - overhead
			t.log.Warn().Uint16("mss", clientMss).Msg("clamped MSS to configured MTU")
		}
	}

	if t.mss < 1 {
		t.mss = t.opts.adjustMss(clientMss)
	}

	t.nextRcvSeq = tcp.SeqNum() + 1
	t.maxSendBufSize = t.adjustedMaxSendBufSize(uint32(tcp.Window()) << t.clientWScale)

	if t.handler.InitializeReceiver(pkt) {
		t.flags |= flagSynAccepted
		t.sendSynAck()
	}
	return nil
}

func (t *Terminator) sendSynAck() {
	if t.state != Init {
		t.log.Warn().Msg("sendSynAck called outside Init")
		return
	}
	mssData := []byte{byte(t.mss >> 8), byte(t.mss)}
	opts := []ippkt.Option{{Type: ippkt.OptMss, Data: mssData, DataLength: 2}}
	if t.clientWScale > 0 {
		opts = append(opts, ippkt.Option{Type: ippkt.OptWScale, Data: []byte{0}, DataLength: 1})
	}
	pkt := ippkt.NewTCP(t.ServerAddr, t.ServerPort, t.ClientAddr, t.ClientPort,
		ippkt.TCPFlagSyn|ippkt.TCPFlagAck, t.sendDataSeq-1, t.nextRcvSeq, t.winSizeToAdvertise(), nil, opts)
	if !pkt.Valid() {
		t.log.Error().Msg("failed to construct SYN-ACK")
		return
	}
	if err := t.sink.SendPacket(pkt.Chunks()); err != nil {
		t.log.Error().Err(err).Msg("failed to send SYN-ACK")
		return
	}
	t.flags |= flagSentSynAck
}

func (t *Terminator) sendAck() {
	flags := uint8(ippkt.TCPFlagAck)
	if t.shouldSendFin() {
		flags |= ippkt.TCPFlagFin
		t.startTimer(t.opts.RetransTime)
	}

	var dataSeq uint32
	if t.flags&flagRcvdFinAck != 0 {
		dataSeq = t.sendDataSeq + 1
	} else {
		dataSeq = t.sendDataSeq + uint32(t.sentBuffer.size)
	}

	pkt := ippkt.NewTCP(t.ServerAddr, t.ServerPort, t.ClientAddr, t.ClientPort,
		flags, dataSeq, t.ackToSend(), t.winSizeToAdvertise(), nil, nil)

	// Cleared before the send attempt: a failed send must not trigger a
	// retry storm on every subsequent event.
	t.flags &^= flagNeedsAck

	if !pkt.Valid() {
		t.log.Error().Msg("failed to construct ACK")
		return
	}
	if err := t.sink.SendPacket(pkt.Chunks()); err != nil {
		t.log.Error().Err(err).Msg("failed to send ACK")
	}
}

func (t *Terminator) sendResetResponse(pkt ippkt.Packet) {
	resp, ok := ippkt.GenerateResetResponse(pkt)
	if !ok {
		t.log.Debug().Msg("not sending a reset in response to a reset")
		return
	}
	if err := t.sink.SendPacket(resp.Chunks()); err != nil {
		t.log.Error().Err(err).Msg("failed to send reset")
	}
}

func (t *Terminator) resendFirst() {
	payload := t.sentBuffer.gather(int(t.mss))
	if len(payload) > 0 {
		pkt := ippkt.NewTCP(t.ServerAddr, t.ServerPort, t.ClientAddr, t.ClientPort,
			ippkt.TCPFlagAck, t.sendDataSeq, t.ackToSend(), t.winSizeToAdvertise(), payload, nil)
		if pkt.Valid() {
			if err := t.sink.SendPacket(pkt.Chunks()); err == nil {
				t.flags &^= flagNeedsAck
			} else {
				t.log.Error().Err(err).Msg("failed to resend first segment")
			}
		}
	}
	// Always restarted, even on failure: this is the fallback retransmit
	// mechanism and must keep firing.
	t.startTimer(t.opts.RetransTime)
}

func (t *Terminator) sendUnsent() {
	var totalSent int
	for !t.unsentBuffer.isEmpty() {
		payload := t.unsentBuffer.gather(int(t.mss))
		if len(payload) == 0 {
			break
		}
		seq := t.sendDataSeq + uint32(t.sentBuffer.size)
		pkt := ippkt.NewTCP(t.ServerAddr, t.ServerPort, t.ClientAddr, t.ClientPort,
			ippkt.TCPFlagAck, seq, t.ackToSend(), t.winSizeToAdvertise(), payload, nil)
		if !pkt.Valid() {
			t.log.Error().Msg("failed to construct data segment")
			break
		}
		if err := t.sink.SendPacket(pkt.Chunks()); err != nil {
			t.log.Error().Err(err).Msg("failed to send data segment, leaving remainder unsent")
			break
		}
		t.sentBuffer.append(payload)
		t.unsentBuffer.consumeFront(len(payload))
		totalSent += len(payload)
	}
	if totalSent > 0 {
		t.flags &^= flagNeedsAck
	}
	// Always restarted: gives a fallback retransmit path even when nothing
	// was sent this pass.
	t.startTimer(t.opts.RetransTime)
}

// AppendData queues data for transmission. It returns how many leading
// bytes were accepted; a short count (or zero) means the caller should
// retry the remainder once SendingUnblocked fires.
func (t *Terminator) AppendData(data []byte) (int, error) {
	if t.state != Connected {
		t.flags |= flagSendBlocked
		return 0, ferr.ErrWrongState
	}
	if t.flags&flagSentFin != 0 {
		return 0, ferr.ErrWrongState
	}
	if len(data) == 0 {
		return 0, ferr.ErrEmptyWrite
	}

	sendBufSize := t.sendBufSize()
	if sendBufSize >= t.maxSendBufSize {
		t.flags |= flagSendBlocked
		return 0, nil
	}

	toSend := len(data)
	if room := int(t.maxSendBufSize - sendBufSize); toSend > room {
		toSend = room
	}
	chunk := make([]byte, toSend)
	copy(chunk, data[:toSend])
	t.unsentBuffer.append(chunk)

	if toSend < len(data) {
		t.flags |= flagSendBlocked
	}
	if t.flags&flagEoLSubscribed == 0 {
		t.flags |= flagEoLSubscribed
		t.loop.RunOnLoop(t.onLoopEnd)
	}
	return toSend, nil
}

func (t *Terminator) onLoopEnd() {
	t.flags &^= flagEoLSubscribed
	t.sendUnsent()
}

func (t *Terminator) consumeReceivedData() error {
	windowWasZero := t.winSizeToAdvertise() < 1

	for !t.rcvBuffer.isEmpty() {
		data := t.rcvBuffer.first()
		n, err := t.handler.ReceiveData(data)
		if err != nil {
			t.Close(err)
			return err
		}
		if n >= len(data) {
			t.rcvBuffer.size -= len(data)
			t.rcvBuffer.removeFirst()
			continue
		}
		if n > 0 {
			t.rcvBuffer.size -= n
			t.rcvBuffer.segs[0] = data[n:]
		}
		break
	}

	if windowWasZero && t.winSizeToAdvertise() > 0 && t.state == Connected {
		t.sendAck()
	}
	return nil
}

// handleDataPacket processes a data-bearing segment, buffering any new
// in-order bytes. It returns false when the segment left the connection
// Broken and the caller must stop processing it further.
func (t *Terminator) handleDataPacket(pkt ippkt.Packet, tcp ippkt.TCPHeader) bool {
	seqDiff := compareSeq(t.nextRcvSeq, tcp.SeqNum())

	if seqDiff < 0 {
		// A zero-payload FIN one byte past what we've acked is our own
		// FIN's ACK riding along; let handleAckPacket see it.
		if t.flags&flagSentFin != 0 && seqDiff == -1 && pkt.GetProtoPayloadSize(tcp.HeaderSize()) == 0 {
			return true
		}
		t.sendAck()
		return true
	}

	payload := flattenChunks(pkt.GetProtoPayload(tcp.HeaderSize()))
	diff := uint32(seqDiff)

	if diff >= uint32(len(payload)) {
		if tcp.IsFIN() {
			if diff != uint32(len(payload)) {
				t.sendResetResponse(pkt)
				t.setBroken()
				return false
			}
			t.flags |= flagRcvdFin | flagNeedsAck
			return true
		}
		if len(payload) > 0 {
			t.sendAck()
		}
		return true
	}

	if t.flags&flagRcvdFin != 0 {
		t.sendResetResponse(pkt)
		t.setBroken()
		return false
	}

	if diff > 0 {
		payload = payload[diff:]
	}

	if tcp.IsFIN() {
		t.flags |= flagRcvdFin | flagNeedsAck
	} else {
		t.flags |= flagNeedsAck
	}

	if t.state != Connected || t.flags&flagSentFin != 0 {
		if t.flags&flagSentFin != 0 && t.flags&flagRcvdFinAck == 0 {
			t.log.Debug().Msg("waiting for our FIN to be acked before accepting more data")
			return true
		}
		t.sendResetResponse(pkt)
		t.setBroken()
		return false
	}

	t.rcvBuffer.append(payload)
	t.nextRcvSeq += uint32(len(payload))
	return true
}

func (t *Terminator) handleAckPacket(pkt ippkt.Packet, tcp ippkt.TCPHeader) {
	seqDiff := compareSeq(tcp.AckNum(), t.sendDataSeq)
	if seqDiff < 0 {
		t.log.Debug().Msg("dropping stale ACK")
		return
	}

	if uint32(seqDiff) > uint32(t.sentBuffer.size) {
		if t.flags&flagSentFin == 0 || uint32(seqDiff) != uint32(t.sentBuffer.size)+1 {
			t.log.Debug().Msg("dropping ACK past the end of the send buffer")
			return
		}
		// This acknowledges our FIN's virtual sequence byte.
		if t.flags&flagRcvdFinAck == 0 {
			t.flags |= flagRcvdFinAck
			t.state = Closed
			t.startTimer(t.opts.ClosedLingerTime)
		}
		if t.flags&flagRcvdFin != 0 && !tcp.IsFIN() {
			t.flags &^= flagNeedsAck
		}
		t.sentBuffer.clear()
		return
	}

	newMax := t.adjustedMaxSendBufSize(uint32(tcp.Window()) << t.clientWScale)
	if newMax != t.maxSendBufSize {
		t.maxSendBufSize = newMax
	}

	if t.sentBuffer.isEmpty() {
		t.flags |= flagNeedsAck
		return
	}

	if seqDiff < 1 {
		if pkt.GetProtoPayloadSize(tcp.HeaderSize()) > 0 {
			return
		}
		t.resendFirst()
		return
	}

	t.sendDataSeq += uint32(seqDiff)
	t.sentBuffer.consumeFront(int(seqDiff))

	if t.state != Connected {
		return
	}
	if !t.sentBuffer.isEmpty() {
		t.startTimer(t.opts.RetransTime)
	} else if !t.unsentBuffer.isEmpty() {
		t.sendUnsent()
	} else {
		t.stopTimer()
	}
}

// Close half-closes the connection from this side. From Connected it sends
// a FIN unconditionally, even if the peer's FIN was already received; any
// other state is treated as already unusable and goes straight to Broken.
func (t *Terminator) Close(reason error) {
	t.rcvBuffer.clear()
	if t.state == Connected {
		t.flags |= flagSentFin
		t.sendAck()
		return
	}
	t.setBroken()
}

// setBroken is a no-op once already Broken, matching the original: a second
// RST or error on an already-broken connection must not restart its linger
// timer.
func (t *Terminator) setBroken() {
	if t.state == Broken {
		return
	}
	t.unsentBuffer.clear()
	t.sentBuffer.clear()
	t.rcvBuffer.clear()
	t.state = Broken
	t.startTimer(t.opts.LingerTime)
}
