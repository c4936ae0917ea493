// Package ippkt implements the IP packet model: a typed, mostly read-only
// view over an IPv4 or IPv6 datagram backed by a gather-list of byte
// chunks, with per-protocol header views, constructors, and incremental
// checksum mutation.
package ippkt

import (
	"encoding/binary"

	"github.com/flowterm/flowterm/addr"
	"github.com/flowterm/flowterm/flow"
	"github.com/flowterm/flowterm/xsum"
)

// Protocol numbers this package understands, per IANA.
const (
	ProtoICMP   = 1
	ProtoTCP    = 6
	ProtoUDP    = 17
	ProtoICMPv6 = 58
)

const (
	ipv4HeaderLen = 20
	ipv6HeaderLen = 40
)

// AddrSlot selects which address setAddress mutates.
type AddrSlot int

const (
	SrcAddr AddrSlot = iota
	DstAddr
)

// Direction is used by SetupFlowDesc to decide which address/port becomes
// "client" and which becomes "server" in the resulting descriptor.
type Direction int

const (
	// Outbound means src=client, dst=server (the usual case for a packet
	// this process is about to send upstream).
	Outbound Direction = iota
	// Inbound means src=server, dst=client.
	Inbound
)

// Packet is an immutable-by-default view over one IP datagram. Invalid
// packets (malformed input) silently degrade: accessors return zero/empty
// values rather than panicking.
type Packet struct {
	chunks [][]byte
	valid  bool

	version  uint8 // 4 or 6
	ipHdrLen int   // IPv4/IPv6 base header length, always within chunks[0]
	protoNum uint8
	isFrag   bool // non-initial IPv4 fragment

	src, dst addr.Address

	// Logical offset (from the start of chunk 0) where the
	// payload-protocol header begins.
	protoOffset int
}

// Valid reports whether this packet parsed successfully.
func (p Packet) Valid() bool { return p.valid }

// IPVersion returns 4 or 6, or 0 if invalid.
func (p Packet) IPVersion() uint8 {
	if !p.valid {
		return 0
	}
	return p.version
}

// ProtoNumber returns the payload-protocol number (e.g. ProtoTCP).
func (p Packet) ProtoNumber() uint8 { return p.protoNum }

// GetAddr returns the packet's source and destination addresses.
func (p Packet) GetAddr() (src, dst addr.Address) { return p.src, p.dst }

// Chunks returns the packet's backing gather-list. Callers must not
// mutate chunk lengths (only contents of chunks returned by a writable
// proto-header accessor are meant to be mutated).
func (p Packet) Chunks() [][]byte { return p.chunks }

func totalLen(chunks [][]byte) int {
	n := 0
	for _, c := range chunks {
		n += len(c)
	}
	return n
}

// trimTo shortens chunks (from the tail) so their total length equals n.
// Assumes n <= totalLen(chunks).
func trimTo(chunks [][]byte, n int) [][]byte {
	out := make([][]byte, 0, len(chunks))
	remaining := n
	for _, c := range chunks {
		if remaining <= 0 {
			break
		}
		if len(c) <= remaining {
			out = append(out, c)
			remaining -= len(c)
			continue
		}
		out = append(out, c[:remaining])
		remaining = 0
	}
	return out
}

// locate finds the chunk index and in-chunk offset for a logical offset
// counted from the start of chunk 0.
func locate(chunks [][]byte, logicalOffset int) (chunkIdx, offset int, ok bool) {
	remaining := logicalOffset
	for i, c := range chunks {
		if remaining < len(c) {
			return i, remaining, true
		}
		remaining -= len(c)
	}
	if remaining == 0 && len(chunks) > 0 {
		// Offset lands exactly at the end of the last chunk: valid as an
		// empty-payload boundary, but no header can start there.
		return len(chunks) - 1, len(chunks[len(chunks)-1]), true
	}
	return 0, 0, false
}

// contiguous returns the size bytes starting at logical offset off, only
// if they lie entirely within a single chunk (the invariant every
// payload-protocol header must satisfy).
func contiguous(chunks [][]byte, off, size int) ([]byte, bool) {
	idx, o, ok := locate(chunks, off)
	if !ok || idx >= len(chunks) {
		return nil, false
	}
	c := chunks[idx]
	if o+size > len(c) {
		return nil, false
	}
	return c[o : o+size], true
}

// Parse builds a Packet view over chunks, a gather-list of byte buffers
// making up one IP datagram. It never panics on malformed input; it
// returns an invalid Packet instead.
func Parse(chunks [][]byte) Packet {
	if len(chunks) == 0 || len(chunks[0]) < 1 {
		return Packet{}
	}
	switch chunks[0][0] >> 4 {
	case 4:
		return parseV4(chunks)
	case 6:
		return parseV6(chunks)
	default:
		return Packet{}
	}
}

func parseV4(chunks [][]byte) Packet {
	first := chunks[0]
	ihl := int(first[0] & 0x0F)
	if ihl < 5 {
		return Packet{}
	}
	hdrLen := ihl * 4
	if len(first) < hdrLen {
		return Packet{}
	}
	declared := int(binary.BigEndian.Uint16(first[2:4]))
	if declared < hdrLen {
		return Packet{}
	}
	total := totalLen(chunks)
	if declared > total {
		return Packet{}
	}
	if declared < total {
		chunks = trimTo(chunks, declared)
	}

	fragField := binary.BigEndian.Uint16(first[6:8])
	isFrag := fragField&0x1FFF != 0 // non-zero fragment offset: not the first fragment

	var srcB, dstB [4]byte
	copy(srcB[:], first[12:16])
	copy(dstB[:], first[16:20])

	return Packet{
		chunks:      chunks,
		valid:       true,
		version:     4,
		ipHdrLen:    hdrLen,
		protoNum:    first[9],
		isFrag:      isFrag,
		src:         addr.V4Bytes(srcB),
		dst:         addr.V4Bytes(dstB),
		protoOffset: hdrLen,
	}
}

func parseV6(chunks [][]byte) Packet {
	first := chunks[0]
	if len(first) < ipv6HeaderLen {
		return Packet{}
	}
	payloadLen := int(binary.BigEndian.Uint16(first[4:6]))
	if payloadLen == 0 {
		// No jumbogram support: a zero payload length (meaning "see hop-by-
		// hop options") is rejected outright.
		return Packet{}
	}
	declared := ipv6HeaderLen + payloadLen
	total := totalLen(chunks)
	if declared > total {
		return Packet{}
	}
	if declared < total {
		chunks = trimTo(chunks, declared)
	}

	var srcB, dstB [16]byte
	copy(srcB[:], first[8:24])
	copy(dstB[:], first[24:40])

	return Packet{
		chunks:      chunks,
		valid:       true,
		version:     6,
		ipHdrLen:    ipv6HeaderLen,
		protoNum:    first[6], // next header; extension-header chains unsupported
		src:         addr.V6Bytes(srcB),
		dst:         addr.V6Bytes(dstB),
		protoOffset: ipv6HeaderLen,
	}
}

// NewIP allocates a new packet of ipHdr+protoHdrSize bytes, installs an
// IPv4 or IPv6 base header (picked from the address family, which must
// match between src and dst), and returns the packet plus a writable view
// over the protocol-header region for the caller to fill in.
func NewIP(src, dst addr.Address, protoNum uint8, protoHdrSize int, payload []byte, tos, ttl uint8) (Packet, []byte) {
	if !src.Valid() || !dst.Valid() || src.Family() != dst.Family() {
		return Packet{}, nil
	}

	var hdrLen int
	switch src.Family() {
	case addr.V4:
		hdrLen = ipv4HeaderLen
	case addr.V6:
		hdrLen = ipv6HeaderLen
	default:
		return Packet{}, nil
	}

	total := hdrLen + protoHdrSize + len(payload)
	if total > 65535 || protoHdrSize < 0 {
		return Packet{}, nil
	}

	buf := make([]byte, hdrLen+protoHdrSize+len(payload))
	copy(buf[hdrLen+protoHdrSize:], payload)

	switch src.Family() {
	case addr.V4:
		buf[0] = 0x40 | 5
		buf[1] = tos
		binary.BigEndian.PutUint16(buf[2:4], uint16(total))
		buf[8] = ttl
		buf[9] = protoNum
		sb, db := src.As4(), dst.As4()
		copy(buf[12:16], sb[:])
		copy(buf[16:20], db[:])
		binary.BigEndian.PutUint16(buf[10:12], 0)
		cs := xsum.Sum(buf[:hdrLen])
		binary.BigEndian.PutUint16(buf[10:12], cs)
	case addr.V6:
		buf[0] = 0x60 | (tos >> 4)
		buf[1] = tos << 4
		binary.BigEndian.PutUint16(buf[4:6], uint16(protoHdrSize+len(payload)))
		buf[6] = protoNum
		buf[7] = ttl
		sb, db := src.As16(), dst.As16()
		copy(buf[8:24], sb[:])
		copy(buf[24:40], db[:])
	}

	p := Parse([][]byte{buf})
	return p, buf[hdrLen : hdrLen+protoHdrSize]
}

// GetProtoHeaderBytes returns the raw protocol-header bytes, only if the
// stored payload protocol matches want, the header is contiguous within a
// single chunk, and at least minSize bytes are available.
func (p Packet) GetProtoHeaderBytes(want uint8, minSize int) ([]byte, bool) {
	if !p.valid || p.protoNum != want {
		return nil, false
	}
	return contiguous(p.chunks, p.protoOffset, minSize)
}

// GetProtoPayload returns the bytes following the protocol header of size
// hdrSize.
func (p Packet) GetProtoPayload(hdrSize int) [][]byte {
	if !p.valid {
		return nil
	}
	off := p.protoOffset + hdrSize
	idx, o, ok := locate(p.chunks, off)
	if !ok {
		return nil
	}
	out := make([][]byte, 0, len(p.chunks)-idx)
	out = append(out, p.chunks[idx][o:])
	out = append(out, p.chunks[idx+1:]...)
	return out
}

// GetProtoPayloadSize returns the total size of the payload following a
// protocol header of size hdrSize.
func (p Packet) GetProtoPayloadSize(hdrSize int) int {
	if !p.valid {
		return 0
	}
	total := totalLen(p.chunks)
	size := total - p.protoOffset - hdrSize
	if size < 0 {
		return 0
	}
	return size
}

// ipHeaderBytes returns the mutable IP base header (always in chunks[0]).
func (p *Packet) ipHeaderBytes() []byte {
	return p.chunks[0][:p.ipHdrLen]
}

// SetAddress mutates the source or destination address, adjusting the
// IPv4 header checksum and (if the payload protocol is TCP/UDP/ICMP) the
// payload checksum using RFC 1624 incremental adjustment. Fails if the
// new address's family doesn't match the packet's.
func (p *Packet) SetAddress(which AddrSlot, newAddr addr.Address) bool {
	if !p.valid {
		return false
	}
	family := p.src.Family()
	if newAddr.Family() != family {
		return false
	}

	var old addr.Address
	switch which {
	case SrcAddr:
		old = p.src
		p.src = newAddr
	case DstAddr:
		old = p.dst
		p.dst = newAddr
	default:
		return false
	}

	hdr := p.ipHeaderBytes()
	switch family {
	case addr.V4:
		var off int
		if which == SrcAddr {
			off = 12
		} else {
			off = 16
		}
		oldB, newB := old.As4(), newAddr.As4()
		oldV := binary.BigEndian.Uint32(oldB[:])
		newV := binary.BigEndian.Uint32(newB[:])
		copy(hdr[off:off+4], newB[:])

		csOff := 10
		cs := binary.BigEndian.Uint16(hdr[csOff : csOff+2])
		cs = xsum.Adjust(cs, oldV, newV, xsum.Width32)
		binary.BigEndian.PutUint16(hdr[csOff:csOff+2], cs)

		p.adjustPayloadChecksum32(oldV, newV)
	case addr.V6:
		var off int
		if which == SrcAddr {
			off = 8
		} else {
			off = 24
		}
		oldB, newB := old.As16(), newAddr.As16()
		copy(hdr[off:off+16], newB[:])
		p.adjustPayloadChecksumV6(oldB, newB)
	}
	return true
}

func (p *Packet) adjustPayloadChecksum32(oldV, newV uint32) {
	csOff, ok := p.payloadChecksumOffset()
	if !ok {
		return
	}
	buf, ok := contiguous(p.chunks, p.protoOffset, csOff+2)
	if !ok {
		return
	}
	cs := binary.BigEndian.Uint16(buf[csOff : csOff+2])
	cs = xsum.Adjust(cs, oldV, newV, xsum.Width32)
	binary.BigEndian.PutUint16(buf[csOff:csOff+2], cs)
}

func (p *Packet) adjustPayloadChecksumV6(oldB, newB [16]byte) {
	csOff, ok := p.payloadChecksumOffset()
	if !ok {
		return
	}
	buf, ok := contiguous(p.chunks, p.protoOffset, csOff+2)
	if !ok {
		return
	}
	cs := binary.BigEndian.Uint16(buf[csOff : csOff+2])
	for i := 0; i < 16; i += 4 {
		oldV := binary.BigEndian.Uint32(oldB[i : i+4])
		newV := binary.BigEndian.Uint32(newB[i : i+4])
		cs = xsum.Adjust(cs, oldV, newV, xsum.Width32)
	}
	binary.BigEndian.PutUint16(buf[csOff:csOff+2], cs)
}

// payloadChecksumOffset returns the byte offset (within the protocol
// header) of the checksum field for TCP/UDP/ICMP, if this packet carries
// one.
func (p Packet) payloadChecksumOffset() (int, bool) {
	switch p.protoNum {
	case ProtoTCP:
		return 16, true
	case ProtoUDP:
		return 6, true
	case ProtoICMP, ProtoICMPv6:
		return 2, true
	default:
		return 0, false
	}
}

// CalcPseudoHeaderPayloadChecksum computes the TCP/UDP-style pseudo-header
// plus payload checksum. The protocol header's own checksum field must be
// zero during this call, as is standard when computing a fresh checksum.
func (p Packet) CalcPseudoHeaderPayloadChecksum() uint16 {
	var c xsum.Checksum

	switch p.src.Family() {
	case addr.V4:
		s, d := p.src.As4(), p.dst.As4()
		c.AddMemory(s[:])
		c.AddMemory(d[:])
		c.AddByte(0)
		c.AddByte(p.protoNum)
		var lenBuf [2]byte
		binary.BigEndian.PutUint16(lenBuf[:], uint16(totalLen(p.chunks)-p.ipHdrLen))
		c.AddMemory(lenBuf[:])
	case addr.V6:
		s, d := p.src.As16(), p.dst.As16()
		c.AddMemory(s[:])
		c.AddMemory(d[:])
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(totalLen(p.chunks)-p.ipHdrLen))
		c.AddMemory(lenBuf[:])
		c.AddByte(0)
		c.AddByte(0)
		c.AddByte(0)
		c.AddByte(p.protoNum)
	}

	for i, chunk := range p.chunks {
		if i == 0 {
			c.AddMemory(chunk[p.ipHdrLen:])
			continue
		}
		c.AddMemory(chunk)
	}
	return c.Value()
}

// SetupFlowDesc materializes a flow descriptor for this packet. direction
// picks which side is "client" and which is "server". Returns false if the
// packet is invalid.
func (p Packet) SetupFlowDesc(direction Direction) (flow.Desc, bool) {
	if !p.valid {
		return flow.Desc{}, false
	}

	var d flow.Desc
	d.Type = p.version
	d.HEProto = uint16(p.protoNum)
	if p.isFrag {
		d.HEProto |= flow.FragmentBit
	}

	var srcPort, dstPort uint16
	switch p.protoNum {
	case ProtoTCP:
		if hdr, ok := p.GetProtoHeaderBytes(ProtoTCP, 4); ok {
			srcPort = binary.BigEndian.Uint16(hdr[0:2])
			dstPort = binary.BigEndian.Uint16(hdr[2:4])
		}
	case ProtoUDP:
		if hdr, ok := p.GetProtoHeaderBytes(ProtoUDP, 4); ok {
			srcPort = binary.BigEndian.Uint16(hdr[0:2])
			dstPort = binary.BigEndian.Uint16(hdr[2:4])
		}
	}

	switch direction {
	case Outbound:
		d.ClientPort, d.ServerPort = srcPort, dstPort
		d.ClientAddr, d.ServerAddr = p.src, p.dst
	case Inbound:
		d.ClientPort, d.ServerPort = dstPort, srcPort
		d.ClientAddr, d.ServerAddr = p.dst, p.src
	}
	return d, true
}

// GetSeed returns a 16-bit value invariant under swapping (src,dst) and
// (sport,dport) and independent of byte order, for consistent-hashing-
// style load balancing.
func (p Packet) GetSeed() uint16 {
	var srcPort, dstPort uint16
	switch p.protoNum {
	case ProtoTCP, ProtoUDP:
		if hdr, ok := p.GetProtoHeaderBytes(p.protoNum, 4); ok {
			srcPort = binary.BigEndian.Uint16(hdr[0:2])
			dstPort = binary.BigEndian.Uint16(hdr[2:4])
		}
	}

	if srcPort != dstPort {
		return srcPort ^ dstPort
	}
	if srcPort != 0 {
		return srcPort
	}

	var seed uint16
	foldAddr := func(a addr.Address) {
		switch a.Family() {
		case addr.V4:
			b := a.As4()
			seed ^= binary.BigEndian.Uint16(b[0:2])
			seed ^= binary.BigEndian.Uint16(b[2:4])
		case addr.V6:
			b := a.As16()
			for i := 0; i < 16; i += 2 {
				seed ^= binary.BigEndian.Uint16(b[i : i+2])
			}
		}
	}
	foldAddr(p.src)
	foldAddr(p.dst)
	return seed
}
