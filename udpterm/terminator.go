// Package udpterm implements a stateless UDP terminator: an addressed
// endpoint that forwards inbound datagrams to a Handler and outbound ones
// to a PacketSink, self-removing after a configurable idle period.
package udpterm

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/flowterm/flowterm/addr"
	"github.com/flowterm/flowterm/ferr"
	"github.com/flowterm/flowterm/flow"
	"github.com/flowterm/flowterm/ioface"
	"github.com/flowterm/flowterm/ippkt"
)

// Handler receives datagrams forwarded by a Terminator. The terminator may
// be removed from its flow.Map before ReceiveData returns.
type Handler interface {
	ReceiveData(data []byte) error
}

// Terminator is one UDP 5-tuple's addressed endpoint. It embeds flow.Base
// so it can be inserted directly into a flow.Map.
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
	handler Handler

	// onDone is invoked in place of the original's delete-this, once the
	// idle timer fires: the owner is expected to remove this terminator
	// from whatever flow.Map holds it.
	onDone func(*Terminator)

	timer ioface.Timer
}

// New builds a Terminator for desc, which must describe a UDP flow.
func New(desc flow.Desc, sink ioface.PacketSink, timers ioface.TimerManager, handler Handler, onDone func(*Terminator), opts Options) (*Terminator, error) {
	if !desc.Valid() || handler == nil || sink == nil || timers == nil {
		return nil, ferr.ErrInvalidParameter
	}
	if desc.HEProto&^flow.FragmentBit != uint16(ippkt.ProtoUDP) {
		return nil, ferr.ErrInvalidParameter
	}
	t := &Terminator{
		Base:       flow.NewBase(desc),
		ClientAddr: desc.ClientAddr,
		ServerAddr: desc.ServerAddr,
		ClientPort: desc.ClientPort,
		ServerPort: desc.ServerPort,
		opts:       opts,
		log:        opts.logger(),
		sink:       sink,
		timers:     timers,
		handler:    handler,
		onDone:     onDone,
	}
	t.restartTimer()
	t.log.Debug().Stringer("terminator", t).Msg("new UDP terminator created")
	return t, nil
}

func (t *Terminator) String() string {
	return fmt.Sprintf("udp %s:%d-%s:%d", t.ClientAddr, t.ClientPort, t.ServerAddr, t.ServerPort)
}

func (t *Terminator) restartTimer() {
	if t.opts.IdleTimeout <= 0 {
		return
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = t.timers.After(t.opts.IdleTimeout, t.onIdleTimeout)
}

func (t *Terminator) onIdleTimeout() {
	t.log.Debug().Stringer("terminator", t).Msg("UDP terminator removed due to inactivity")
	if t.onDone != nil {
		t.onDone(t)
	}
}

// FlowRemoved shadows flow.Base's no-op default: it stops the idle timer.
// It does not call onDone.
func (t *Terminator) FlowRemoved() {
	t.log.Debug().Stringer("terminator", t).Msg("UDP terminator removed from flow map")
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// SendData sends data as this flow's UDP payload, restarting the idle
// timer first since an outbound send counts as activity too.
func (t *Terminator) SendData(data []byte) error {
	if len(data) == 0 {
		return ferr.ErrEmptyWrite
	}
	t.restartTimer()

	pkt := ippkt.NewUDP(t.ServerAddr, t.ServerPort, t.ClientAddr, t.ClientPort, data)
	if !pkt.Valid() {
		return ferr.ErrInternal
	}
	if err := t.sink.SendPacket(pkt.Chunks()); err != nil {
		t.log.Error().Err(err).Msg("error sending UDP packet")
		return err
	}
	return nil
}

// PacketReceived extracts this packet's UDP payload and forwards it to the
// handler, restarting the idle timer.
func (t *Terminator) PacketReceived(pkt ippkt.Packet) error {
	udp, ok := pkt.GetUDPHeader()
	if !ok {
		t.log.Warn().Stringer("terminator", t).Msg("could not extract UDP header; dropping")
		return ferr.ErrInvalidData
	}
	payload := pkt.GetProtoPayload(udpHeaderSize)
	t.restartTimer()
	_ = udp
	return t.handler.ReceiveData(flattenChunks(payload))
}

const udpHeaderSize = 8

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
