package ippkt

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowterm/flowterm/addr"
)

func TestGetICMPHeaderPicksProtoByVersion(t *testing.T) {
	src4, _ := addr.Parse("10.0.0.1")
	dst4, _ := addr.Parse("10.0.0.2")
	p4 := NewICMP(src4, dst4, 8, 0, 0, nil)
	require.True(t, p4.Valid())
	icmp4, ok := p4.GetICMPHeader()
	require.True(t, ok)
	require.Equal(t, uint8(8), icmp4.Type())

	src6, _ := addr.Parse("2001:db8::1")
	dst6, _ := addr.Parse("2001:db8::2")
	p6 := NewICMP(src6, dst6, 128, 0, 0, nil)
	require.True(t, p6.Valid())
	require.Equal(t, uint8(ProtoICMPv6), p6.ProtoNumber())
	icmp6, ok := p6.GetICMPHeader()
	require.True(t, ok)
	require.Equal(t, uint8(128), icmp6.Type())
}

func TestGetRTPHeaderRequiresVersion2(t *testing.T) {
	src, _ := addr.Parse("10.0.0.1")
	dst, _ := addr.Parse("10.0.0.2")

	rtp := make([]byte, rtpFixedHeaderLen)
	rtp[0] = 0x80 // version 2, no padding/extension/csrc
	rtp[1] = 0x00
	p := NewUDP(src, 5004, dst, 5004, rtp)
	require.True(t, p.Valid())

	hdr, ok := p.GetRTPHeader()
	require.True(t, ok)
	require.Equal(t, uint8(2), hdr.Version())

	bad := make([]byte, rtpFixedHeaderLen)
	bad[0] = 0x40 // version 1
	p2 := NewUDP(src, 5004, dst, 5004, bad)
	_, ok = p2.GetRTPHeader()
	require.False(t, ok)
}

func TestTCPHeaderSizeClampsToFixedMinimum(t *testing.T) {
	hdr := make([]byte, tcpFixedHeaderLen)
	hdr[12] = 0 // declares a zero data offset, must clamp to 20
	require.Equal(t, tcpFixedHeaderLen, tcpHeaderSize(hdr))
}
