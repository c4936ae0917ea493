package ippkt

import (
	"encoding/binary"

	"github.com/flowterm/flowterm/addr"
	"github.com/flowterm/flowterm/xsum"
)

// NewTCP builds a new TCP segment: an IP-level constructor call, a zeroed
// TCP header with the requested fields installed, options appended and
// padded, and a freshly computed pseudo-header+payload checksum.
// optCount options beyond 40 bytes (after padding) produce an invalid
// packet, per GetOptLen.
func NewTCP(src addr.Address, srcPort uint16, dst addr.Address, dstPort uint16,
	flags uint8, seqNum, ackNum uint32, winSize uint16, payload []byte, opts []Option) Packet {

	optLen := 0
	if len(opts) > 0 {
		l := GetOptLen(opts)
		if l == 0 {
			return Packet{}
		}
		optLen = int(l)
	}

	hdrSize := tcpFixedHeaderLen + optLen
	p, hdr := NewIP(src, dst, ProtoTCP, hdrSize, payload, 0, 64)
	if !p.Valid() {
		return Packet{}
	}

	binary.BigEndian.PutUint16(hdr[0:2], srcPort)
	binary.BigEndian.PutUint16(hdr[2:4], dstPort)
	binary.BigEndian.PutUint32(hdr[4:8], seqNum)
	if flags&TCPFlagAck != 0 {
		binary.BigEndian.PutUint32(hdr[8:12], ackNum)
	}
	hdr[12] = byte((hdrSize / 4) << 4)
	hdr[13] = flags
	binary.BigEndian.PutUint16(hdr[14:16], winSize)

	writeTCPOptions(hdr[tcpFixedHeaderLen:hdrSize], opts)

	binary.BigEndian.PutUint16(hdr[16:18], 0)
	cs := p.CalcPseudoHeaderPayloadChecksum()
	binary.BigEndian.PutUint16(hdr[16:18], cs)
	return p
}

func writeTCPOptions(area []byte, opts []Option) {
	i := 0
	for _, o := range opts {
		if o.Type == OptNop {
			area[i] = OptNop
			i++
			continue
		}
		area[i] = o.Type
		area[i+1] = 2 + o.DataLength
		copy(area[i+2:], o.Data[:o.DataLength])
		i += 2 + int(o.DataLength)
	}
	for i < len(area) {
		area[i] = OptEnd
		i++
	}
}

// NewUDP builds a new UDP datagram.
func NewUDP(src addr.Address, srcPort uint16, dst addr.Address, dstPort uint16, payload []byte) Packet {
	p, hdr := NewIP(src, dst, ProtoUDP, udpHeaderLen, payload, 0, 64)
	if !p.Valid() {
		return Packet{}
	}
	binary.BigEndian.PutUint16(hdr[0:2], srcPort)
	binary.BigEndian.PutUint16(hdr[2:4], dstPort)
	binary.BigEndian.PutUint16(hdr[4:6], uint16(udpHeaderLen+len(payload)))
	binary.BigEndian.PutUint16(hdr[6:8], 0)
	cs := p.CalcPseudoHeaderPayloadChecksum()
	if cs == 0 {
		cs = 0xFFFF // per RFC 768: a computed zero is sent as all-ones
	}
	binary.BigEndian.PutUint16(hdr[6:8], cs)
	return p
}

// NewICMP builds a new ICMP/ICMPv6 message. The checksum is computed over
// header and payload, with no pseudo-header, for ICMPv4, and over the
// pseudo-header+payload for ICMPv6
// (which, unlike ICMPv4, includes a pseudo-header per RFC 2460 §8.1).
func NewICMP(src, dst addr.Address, icmpType, code uint8, restOfHeader uint32, payload []byte) Packet {
	protoNum := uint8(ProtoICMP)
	if src.Family() == addr.V6 {
		protoNum = ProtoICMPv6
	}

	p, hdr := NewIP(src, dst, protoNum, icmpHeaderLen, payload, 0, 64)
	if !p.Valid() {
		return Packet{}
	}
	hdr[0] = icmpType
	hdr[1] = code
	binary.BigEndian.PutUint16(hdr[2:4], 0)
	binary.BigEndian.PutUint32(hdr[4:8], restOfHeader)

	var cs uint16
	if protoNum == ProtoICMPv6 {
		cs = p.CalcPseudoHeaderPayloadChecksum()
	} else {
		var c xsum.Checksum
		c.AddMemory(hdr)
		c.AddMemory(flattenPayload(payload))
		cs = c.Value()
	}
	binary.BigEndian.PutUint16(hdr[2:4], cs)
	return p
}

func flattenPayload(payload []byte) []byte { return payload }
