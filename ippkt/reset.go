package ippkt

// GenerateResetResponse synthesizes a RST response to a TCP segment p, per
// RFC 793 §3.4. A RST is never sent in answer to a RST. If p carries ACK,
// the reset's seq becomes p's ack (no ACK flag set in the reset); otherwise
// the reset acknowledges p's sequence space (ack = p.seq + 1 for SYN,
// p.seq + payload length otherwise) and carries ACK with seq=0.
func GenerateResetResponse(p Packet) (Packet, bool) {
	in, ok := p.GetTCPHeader()
	if !ok || in.IsRST() {
		return Packet{}, false
	}

	src, dst := p.GetAddr()

	var seq, ack uint32
	var flags uint8 = TCPFlagRst
	if in.IsACK() {
		seq = in.AckNum()
	} else {
		ack = in.SeqNum()
		if in.IsSYN() {
			ack++
		} else {
			ack += uint32(p.GetProtoPayloadSize(in.HeaderSize()))
		}
		flags |= TCPFlagAck
	}

	out := NewTCP(dst, in.DestPort(), src, in.SrcPort(), flags, seq, ack, 0, nil, nil)
	return out, out.Valid()
}
