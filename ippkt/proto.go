package ippkt

import "encoding/binary"

// TCP header flag bits.
const (
	TCPFlagFin = 0x01
	TCPFlagSyn = 0x02
	TCPFlagRst = 0x04
	TCPFlagPsh = 0x08
	TCPFlagAck = 0x10
	TCPFlagUrg = 0x20
	TCPFlagEce = 0x40
	TCPFlagCwr = 0x80
)

const tcpFixedHeaderLen = 20

// TCPHeader is a read view over a TCP header's fixed 20 bytes (options, if
// any, follow and are reached via GetOptData/GetOptMss/GetOptWindowScale).
type TCPHeader struct {
	b []byte
}

// GetTCPHeader returns a TCP header view, iff this packet's payload
// protocol is TCP, the header is contiguous in one chunk, and the
// self-declared header size (including options) fits that chunk.
func (p Packet) GetTCPHeader() (TCPHeader, bool) {
	hdr, ok := p.GetProtoHeaderBytes(ProtoTCP, tcpFixedHeaderLen)
	if !ok {
		return TCPHeader{}, false
	}
	size := tcpHeaderSize(hdr)
	full, ok := contiguous(p.chunks, p.protoOffset, size)
	if !ok {
		return TCPHeader{}, false
	}
	return TCPHeader{b: full}, true
}

// tcpHeaderSize implements getHeaderSize(): the declared header size,
// clamped up to the fixed 20-byte header if the data-offset field reports
// something smaller (an uninitialized or malformed header must never be
// trusted to be shorter than the fixed header).
func tcpHeaderSize(hdr []byte) int {
	size := int(hdr[12]>>2) & 0x3C
	if size < tcpFixedHeaderLen {
		return tcpFixedHeaderLen
	}
	return size
}

func (h TCPHeader) SrcPort() uint16  { return binary.BigEndian.Uint16(h.b[0:2]) }
func (h TCPHeader) DestPort() uint16 { return binary.BigEndian.Uint16(h.b[2:4]) }
func (h TCPHeader) SeqNum() uint32   { return binary.BigEndian.Uint32(h.b[4:8]) }
func (h TCPHeader) AckNum() uint32   { return binary.BigEndian.Uint32(h.b[8:12]) }
func (h TCPHeader) HeaderSize() int  { return tcpHeaderSize(h.b) }
func (h TCPHeader) Flags() uint8     { return h.b[13] }
func (h TCPHeader) Window() uint16   { return binary.BigEndian.Uint16(h.b[14:16]) }
func (h TCPHeader) Checksum() uint16 { return binary.BigEndian.Uint16(h.b[16:18]) }
func (h TCPHeader) UrgentPtr() uint16 {
	return binary.BigEndian.Uint16(h.b[18:20])
}

func (h TCPHeader) IsACK() bool { return h.Flags()&TCPFlagAck != 0 }
func (h TCPHeader) IsRST() bool { return h.Flags()&TCPFlagRst != 0 }
func (h TCPHeader) IsSYN() bool { return h.Flags()&TCPFlagSyn != 0 }
func (h TCPHeader) IsFIN() bool { return h.Flags()&TCPFlagFin != 0 }

// Options returns the raw TCP options area (everything between the fixed
// 20-byte header and HeaderSize()).
func (h TCPHeader) Options() []byte {
	size := h.HeaderSize()
	if size <= tcpFixedHeaderLen || size > len(h.b) {
		return nil
	}
	return h.b[tcpFixedHeaderLen:size]
}

const udpHeaderLen = 8

// UDPHeader is a read view over a UDP header.
type UDPHeader struct{ b []byte }

// GetUDPHeader returns a UDP header view, iff this packet's payload
// protocol is UDP and the header is contiguous in one chunk.
func (p Packet) GetUDPHeader() (UDPHeader, bool) {
	hdr, ok := p.GetProtoHeaderBytes(ProtoUDP, udpHeaderLen)
	if !ok {
		return UDPHeader{}, false
	}
	return UDPHeader{b: hdr}, true
}

func (h UDPHeader) SrcPort() uint16  { return binary.BigEndian.Uint16(h.b[0:2]) }
func (h UDPHeader) DestPort() uint16 { return binary.BigEndian.Uint16(h.b[2:4]) }
func (h UDPHeader) Length() uint16   { return binary.BigEndian.Uint16(h.b[4:6]) }
func (h UDPHeader) Checksum() uint16 { return binary.BigEndian.Uint16(h.b[6:8]) }

const icmpHeaderLen = 8

// ICMPHeader is a read view over the common 8-byte ICMP/ICMPv6 header
// (type, code, checksum, and a 4-byte rest-of-header that varies by type).
type ICMPHeader struct{ b []byte }

// GetICMPHeader returns an ICMP(v6) header view.
func (p Packet) GetICMPHeader() (ICMPHeader, bool) {
	want := uint8(ProtoICMP)
	if p.version == 6 {
		want = ProtoICMPv6
	}
	hdr, ok := p.GetProtoHeaderBytes(want, icmpHeaderLen)
	if !ok {
		return ICMPHeader{}, false
	}
	return ICMPHeader{b: hdr}, true
}

func (h ICMPHeader) Type() uint8      { return h.b[0] }
func (h ICMPHeader) Code() uint8      { return h.b[1] }
func (h ICMPHeader) Checksum() uint16 { return binary.BigEndian.Uint16(h.b[2:4]) }
func (h ICMPHeader) RestOfHeader() uint32 {
	return binary.BigEndian.Uint32(h.b[4:8])
}

const rtpFixedHeaderLen = 12

// RTPHeader is a read view over the fixed 12-byte RTP header, parsed from
// a UDP payload. This core only classifies single packets (no stream
// reassembly, jitter buffering, or payload depacketization).
type RTPHeader struct{ b []byte }

// GetRTPHeader treats this packet's UDP payload as RTP, returning a view
// iff there are at least 12 bytes of payload and the RTP version field is
// 2 (the only version in active use).
func (p Packet) GetRTPHeader() (RTPHeader, bool) {
	udp, ok := p.GetUDPHeader()
	if !ok {
		return RTPHeader{}, false
	}
	payload := p.GetProtoPayload(udpHeaderLen)
	if len(payload) == 0 || len(payload[0]) < rtpFixedHeaderLen {
		return RTPHeader{}, false
	}
	b := payload[0][:rtpFixedHeaderLen]
	if b[0]>>6 != 2 {
		return RTPHeader{}, false
	}
	_ = udp
	return RTPHeader{b: b}, true
}

func (h RTPHeader) Version() uint8       { return h.b[0] >> 6 }
func (h RTPHeader) Padding() bool        { return h.b[0]&0x20 != 0 }
func (h RTPHeader) Extension() bool      { return h.b[0]&0x10 != 0 }
func (h RTPHeader) CSRCCount() uint8     { return h.b[0] & 0x0F }
func (h RTPHeader) Marker() bool         { return h.b[1]&0x80 != 0 }
func (h RTPHeader) PayloadType() uint8   { return h.b[1] & 0x7F }
func (h RTPHeader) SequenceNumber() uint16 { return binary.BigEndian.Uint16(h.b[2:4]) }
func (h RTPHeader) Timestamp() uint32    { return binary.BigEndian.Uint32(h.b[4:8]) }
func (h RTPHeader) SSRC() uint32         { return binary.BigEndian.Uint32(h.b[8:12]) }
