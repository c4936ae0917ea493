package ippkt

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowterm/flowterm/addr"
)

func TestGenerateResetResponseAgainstSYN(t *testing.T) {
	client, _ := addr.Parse("10.0.0.1")
	server, _ := addr.Parse("10.0.0.2")
	syn := Parse(NewTCP(client, 4000, server, 80, TCPFlagSyn, 100, 0, 65535, nil, nil).Chunks())
	require.True(t, syn.Valid())

	rst, ok := GenerateResetResponse(syn)
	require.True(t, ok)

	hdr, ok := rst.GetTCPHeader()
	require.True(t, ok)
	require.True(t, hdr.IsRST())
	require.True(t, hdr.IsACK())
	require.Equal(t, uint32(101), hdr.AckNum()) // SYN consumes one sequence number
	require.Equal(t, uint16(80), hdr.SrcPort())
	require.Equal(t, uint16(4000), hdr.DestPort())
}

func TestGenerateResetResponseAgainstDataSegment(t *testing.T) {
	client, _ := addr.Parse("10.0.0.1")
	server, _ := addr.Parse("10.0.0.2")
	seg := Parse(NewTCP(client, 4000, server, 80, TCPFlagAck|TCPFlagPsh, 500, 1, 65535, []byte("hello"), nil).Chunks())
	require.True(t, seg.Valid())

	rst, ok := GenerateResetResponse(seg)
	require.True(t, ok)
	hdr, ok := rst.GetTCPHeader()
	require.True(t, ok)

	// seg carries ACK, so the reset borrows seg's ack as its seq and sets
	// no ACK of its own.
	require.False(t, hdr.IsACK())
	require.Equal(t, uint32(1), hdr.SeqNum())
}

func TestGenerateResetResponseRejectsRST(t *testing.T) {
	client, _ := addr.Parse("10.0.0.1")
	server, _ := addr.Parse("10.0.0.2")
	rstIn := Parse(NewTCP(client, 4000, server, 80, TCPFlagRst, 1, 0, 0, nil, nil).Chunks())
	require.True(t, rstIn.Valid())

	_, ok := GenerateResetResponse(rstIn)
	require.False(t, ok)
}
