// Package ioface defines the narrow interfaces the packet core needs from
// its host process: a way to receive and send raw IP packets, schedule
// timers, and run callbacks on an owning event loop. This core never
// implements these itself — platform sockets, a real event loop, and any
// tunnel/TUN glue live outside this module, kept as a small dependency-free
// interface package the way a directional tag type stays free of transport
// concerns.
package ioface

import "time"

// PacketSource delivers inbound raw IP packets to a collaborator.
type PacketSource interface {
	// ReceivePacket is called once per inbound IP datagram.
	ReceivePacket(chunks [][]byte)
}

// PacketSink accepts outgoing IP packets for transmission.
type PacketSink interface {
	// SendPacket transmits a gather-list of chunks forming one IP datagram.
	// Implementations own the memory; callers must not reuse chunks after
	// the call returns unless SendPacket copies them first.
	SendPacket(chunks [][]byte) error
}

// Timer is a handle to a scheduled callback. Stop is idempotent.
type Timer interface {
	Stop()
}

// TimerManager schedules one-shot and periodic callbacks on the owning
// event loop's timeline.
type TimerManager interface {
	// After schedules fn to run once after d elapses.
	After(d time.Duration, fn func()) Timer

	// Every schedules fn to run repeatedly every d.
	Every(d time.Duration, fn func()) Timer
}

// EventLoop marshals a callback onto the single goroutine that owns a
// terminator/resolver/flow-map instance, so callers outside that goroutine
// (e.g. a resolver worker) can safely deliver results.
type EventLoop interface {
	// RunOnLoop schedules fn to run on the owning goroutine. It may run
	// synchronously if the caller is already on that goroutine.
	RunOnLoop(fn func())
}
