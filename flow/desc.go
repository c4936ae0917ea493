// Package flow implements the flow descriptor and flow-hash map: a 40-byte
// tagged descriptor identifying a 5-tuple flow, hashed with CRC32C (or
// FNV-1a as a fallback on hosts without SSE 4.2), and a bucketed map
// supporting entries keyed by a primary and an optional secondary
// descriptor for dual-sided NAT flows.
package flow

import (
	"encoding/binary"
	"hash/crc32"
	"hash/fnv"

	"github.com/klauspost/cpuid/v2"

	"github.com/flowterm/flowterm/addr"
)

// FragmentBit is OR'd into HEProto for a non-initial IPv4 fragment, so
// later fragments never land in the same bucket as the first fragment's
// port-bearing descriptor.
const FragmentBit uint16 = 0x8000

// Desc is a flow descriptor: a tagged 5-tuple value. Type distinguishes v4
// from v6; HEProto holds the protocol number (plus FragmentBit). The ports
// and HEProto are plain numeric values; every field is serialized
// big-endian only when building the hash input.
type Desc struct {
	Type       uint8 // 0 (invalid), 4, or 6
	HEProto    uint16
	ClientPort uint16
	ServerPort uint16
	ClientAddr addr.Address
	ServerAddr addr.Address
}

// Valid reports whether Type is a recognized address family.
func (d Desc) Valid() bool {
	return d.Type == 4 || d.Type == 6
}

// IsUDPDNS reports whether this descriptor is a UDP flow to port 53,
// the shape the DNS resolver's outbound lookups take.
func (d Desc) IsUDPDNS() bool {
	const protoUDP = 17
	const dnsPort = 53
	return d.Valid() && d.HEProto&^FragmentBit == protoUDP && d.ServerPort == dnsPort
}

// Equal reports exact equality of every field.
func (d Desc) Equal(o Desc) bool {
	if d.Type != o.Type || d.HEProto != o.HEProto {
		return false
	}
	if d.ClientPort != o.ClientPort || d.ServerPort != o.ServerPort {
		return false
	}
	return d.ClientAddr.Equal(o.ClientAddr) && d.ServerAddr.Equal(o.ServerAddr)
}

var hasSSE42 = cpuid.CPU.Supports(cpuid.SSE42)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// Hash returns the hash of this descriptor: CRC32C (hardware-accelerated
// on hosts with SSE 4.2, via klauspost/cpuid's runtime feature detection)
// or FNV-1a otherwise.
func (d Desc) Hash() uint32 {
	buf := d.marshalForHash()
	if hasSSE42 {
		return crc32.Checksum(buf, crc32cTable)
	}
	h := fnv.New32a()
	h.Write(buf)
	return h.Sum32()
}

// marshalForHash serializes the descriptor into a fixed-layout buffer for
// hashing. Only the bytes that participate in identity are included: the
// common header plus address bytes sized to the flow's own family, so a v4
// and a v6 descriptor never collide merely because of zero-padding.
func (d Desc) marshalForHash() []byte {
	common := make([]byte, 8)
	common[0] = d.Type
	binary.BigEndian.PutUint16(common[2:4], d.HEProto)
	binary.BigEndian.PutUint16(common[4:6], d.ClientPort)
	binary.BigEndian.PutUint16(common[6:8], d.ServerPort)

	switch d.Type {
	case 4:
		out := make([]byte, 8+4+4)
		copy(out, common)
		ca, sa := d.ClientAddr.As4(), d.ServerAddr.As4()
		copy(out[8:12], ca[:])
		copy(out[12:16], sa[:])
		return out
	case 6:
		out := make([]byte, 8+16+16)
		copy(out, common)
		ca, sa := d.ClientAddr.As16(), d.ServerAddr.As16()
		copy(out[8:24], ca[:])
		copy(out[24:40], sa[:])
		return out
	default:
		return common
	}
}
