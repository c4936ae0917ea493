// Package addr provides IP address and socket address value types: tagged
// v4/v6 addresses with netmask/broadcast/prefix arithmetic, and a packed
// socket address usable by collaborators without further conversion.
package addr

import (
	"net/netip"
)

// Family identifies the address family of an Address.
type Family uint8

const (
	// Empty is the zero value: no address at all.
	Empty Family = 0
	// V4 is an IPv4 address (4 bytes).
	V4 Family = 4
	// V6 is an IPv6 address (16 bytes), including v4-mapped-v6.
	V6 Family = 6
)

// String renders the family as a short label.
func (f Family) String() string {
	switch f {
	case Empty:
		return "empty"
	case V4:
		return "v4"
	case V6:
		return "v6"
	default:
		return "?"
	}
}

// Address is a tagged IP address value: empty, IPv4 (4 bytes) or IPv6 (16
// bytes, including v4-mapped-v6 forms such as ::ffff:a.b.c.d).
type Address struct {
	family Family
	addr   netip.Addr // v4-mapped v6 forms are kept mapped; family tracks presentation
}

// Empty addresses compare equal to each other and format as "".
var NoAddress Address

// FromNetip wraps a netip.Addr as an Address, preserving its family.
func FromNetip(a netip.Addr) Address {
	if !a.IsValid() {
		return NoAddress
	}
	if a.Is4In6() {
		return Address{family: V6, addr: a}
	}
	if a.Is4() {
		return Address{family: V4, addr: a}
	}
	return Address{family: V6, addr: a}
}

// V4Bytes builds an IPv4 Address from 4 bytes.
func V4Bytes(b [4]byte) Address {
	return Address{family: V4, addr: netip.AddrFrom4(b)}
}

// V6Bytes builds an IPv6 Address from 16 bytes.
func V6Bytes(b [16]byte) Address {
	return Address{family: V6, addr: netip.AddrFrom16(b)}
}

// Parse parses a textual IPv4 or IPv6 address, including v4-mapped-v6
// (::ffff:a.b.c.d) and zero-run-compressed forms. Returns NoAddress and
// false on malformed input; never panics on hostile input.
func Parse(s string) (Address, bool) {
	a, err := netip.ParseAddr(s)
	if err != nil {
		return NoAddress, false
	}
	return FromNetip(a), true
}

// Valid reports whether the address is a v4 or v6 address (not empty).
func (a Address) Valid() bool {
	return a.family == V4 || a.family == V6
}

// Family returns the address family.
func (a Address) Family() Family {
	return a.family
}

// String formats the address textually. v4-mapped-v6 addresses round-trip
// through String/Parse preserving their v4-mapped presentation.
func (a Address) String() string {
	switch a.family {
	case V4:
		return a.addr.Unmap().String()
	case V6:
		if a.addr.Is4In6() {
			return "::ffff:" + a.addr.Unmap().String()
		}
		return a.addr.String()
	default:
		return ""
	}
}

// Equal reports whether two addresses are identical, including family.
// Empty == Empty; a v4 address never equals its v4-mapped-v6 form here
// (use SockAddr.IsEquivalent for that looser comparison).
func (a Address) Equal(b Address) bool {
	if a.family != b.family {
		return a.family == Empty && b.family == Empty
	}
	if a.family == Empty {
		return true
	}
	return a.addr == b.addr
}

// As4 returns the 4-byte representation, valid only when Family() == V4.
func (a Address) As4() [4]byte {
	return a.addr.Unmap().As4()
}

// As16 returns the 16-byte representation, valid only when Family() == V6.
func (a Address) As16() [16]byte {
	return a.addr.As16()
}

// byteLen returns the number of address bytes (4 or 16), 0 if empty.
func (a Address) byteLen() int {
	switch a.family {
	case V4:
		return 4
	case V6:
		return 16
	default:
		return 0
	}
}

func (a Address) bytes() []byte {
	switch a.family {
	case V4:
		b := a.As4()
		return b[:]
	case V6:
		b := a.As16()
		return b[:]
	default:
		return nil
	}
}

// IsLinkLocal reports whether the address falls in 169.254.0.0/16 (v4) or
// fe80::/64 (v6).
func (a Address) IsLinkLocal() bool {
	switch a.family {
	case V4:
		b := a.As4()
		return b[0] == 169 && b[1] == 254
	case V6:
		if a.addr.Is4In6() {
			return false
		}
		b := a.As16()
		return b[0] == 0xfe && b[1] == 0x80 && b[2]|b[3]|b[4]|b[5]|b[6]|b[7] == 0
	default:
		return false
	}
}

// IsMulticast reports whether the address is in 224.0.0.0/4 (v4) or
// ff00::/8 (v6). Restored from original_source (dropped from the distilled
// spec); cheap once netmask logic exists.
func (a Address) IsMulticast() bool {
	switch a.family {
	case V4:
		b := a.As4()
		return b[0]&0xf0 == 0xe0
	case V6:
		if a.addr.Is4In6() {
			return false
		}
		b := a.As16()
		return b[0] == 0xff
	default:
		return false
	}
}

// IsLoopback reports whether the address is 127.0.0.0/8 or ::1.
// Restored from original_source (dropped from the distilled spec).
func (a Address) IsLoopback() bool {
	switch a.family {
	case V4:
		return a.As4()[0] == 127
	case V6:
		return a.addr == netip.IPv6Loopback()
	default:
		return false
	}
}

// IsZero reports whether the address is the all-zeros address of its
// family (0.0.0.0, ::, or the v4-mapped ::ffff:0.0.0.0).
func (a Address) IsZero() bool {
	switch a.family {
	case V4:
		return a.As4() == [4]byte{}
	case V6:
		b := a.As16()
		if a.addr.Is4In6() {
			return a.addr.Unmap().As4() == [4]byte{}
		}
		return b == [16]byte{}
	default:
		return false
	}
}

// IncrementBy increments the address, treated as a big-endian integer, by
// val, carrying across byte boundaries. Wraps silently on overflow (mirrors
// the original's fixed-width carry propagation).
func (a *Address) IncrementBy(val uint8) {
	n := a.byteLen()
	if n == 0 {
		return
	}
	b := a.bytes()
	carry := uint16(val)
	for i := n - 1; i >= 0 && carry > 0; i-- {
		sum := uint16(b[i]) + carry
		b[i] = byte(sum)
		carry = sum >> 8
	}
	switch a.family {
	case V4:
		var out [4]byte
		copy(out[:], b)
		a.addr = netip.AddrFrom4(out)
	case V6:
		var out [16]byte
		copy(out[:], b)
		a.addr = netip.AddrFrom16(out)
	}
}

// maskByte returns the bitmask covering the high bits of the first
// not-fully-covered byte for a prefix of length maskLen.
func maskByte(maskLen int) byte {
	rem := maskLen % 8
	if rem == 0 {
		return 0
	}
	return byte(0xFF << (8 - rem))
}

// generate implements the original's generateAddr<T>: computes netmask,
// network, or broadcast addresses for an arbitrary prefix length.
type specAddrType int

const (
	addrNetmask specAddrType = iota
	addrNetwork
	addrBcast
)

func (a Address) generate(maskLen uint8, kind specAddrType) Address {
	n := a.byteLen()
	if n == 0 {
		return NoAddress
	}
	out := make([]byte, n)
	if kind == addrBcast {
		for i := range out {
			out[i] = 0xFF
		}
	}

	fullBytes := int(maskLen) / 8
	if fullBytes >= n {
		if kind == addrNetmask {
			for i := range out {
				out[i] = 0xFF
			}
			return bytesToAddress(a.family, out)
		}
		// Network and broadcast addresses of an oversized mask are the
		// original address unchanged. For broadcast this is the
		// documented "/32 broadcast == host" quirk (see SPEC_FULL.md §5).
		return a
	}

	bMask := maskByte(int(maskLen))
	orig := a.bytes()

	switch kind {
	case addrNetmask:
		for i := 0; i < fullBytes; i++ {
			out[i] = 0xFF
		}
		out[fullBytes] = bMask
	case addrNetwork:
		for i := 0; i < fullBytes; i++ {
			out[i] = orig[i]
		}
		out[fullBytes] = orig[fullBytes] & bMask
	case addrBcast:
		for i := 0; i < fullBytes; i++ {
			out[i] = orig[i]
		}
		out[fullBytes] = (orig[fullBytes] & bMask) | ^bMask
	}
	return bytesToAddress(a.family, out)
}

func bytesToAddress(f Family, b []byte) Address {
	switch f {
	case V4:
		var o [4]byte
		copy(o[:], b)
		return V4Bytes(o)
	case V6:
		var o [16]byte
		copy(o[:], b)
		return V6Bytes(o)
	default:
		return NoAddress
	}
}

// Netmask returns the netmask address for a prefix of length maskLen.
func (a Address) Netmask(maskLen uint8) Address {
	return a.generate(maskLen, addrNetmask)
}

// Network returns the network address for a prefix of length maskLen.
func (a Address) Network(maskLen uint8) Address {
	return a.generate(maskLen, addrNetwork)
}

// Broadcast returns the broadcast address for a prefix of length maskLen.
//
// When maskLen exceeds the address width, this returns the address
// unchanged rather than an all-ones address — preserved from the original
// implementation's behavior ("/32 broadcast == host"); see SPEC_FULL.md §5.
func (a Address) Broadcast(maskLen uint8) Address {
	return a.generate(maskLen, addrBcast)
}

// PrefixLen returns the prefix length represented by this address when
// treated as a netmask (e.g. 255.255.255.0 -> 24), or -1 if the address is
// not a contiguous mask.
func (a Address) PrefixLen() int {
	b := a.bytes()
	if b == nil {
		return -1
	}
	length := 0
	i := 0
	for ; i < len(b) && b[i] == 0xFF; i++ {
		length += 8
	}
	if i < len(b) {
		v := b[i]
		// v must be a run of 1s followed by 0s, e.g. 11110000.
		ones := 0
		for v&0x80 != 0 {
			ones++
			v <<= 1
		}
		if v != 0 {
			return -1
		}
		length += ones
		i++
	}
	for ; i < len(b); i++ {
		if b[i] != 0 {
			return -1
		}
	}
	return length
}

// ToV4Mapped converts a V4 address into its ::ffff:a.b.c.d V6
// representation. No-op (returns itself) if already V6 or empty.
func (a Address) ToV4Mapped() Address {
	if a.family != V4 {
		return a
	}
	return Address{family: V6, addr: netip.AddrFrom16(a.addr.As16())}
}

// ToV4 converts a v4-mapped-v6 address into a plain V4 address. Returns
// itself unchanged if it is not a v4-mapped address.
func (a Address) ToV4() Address {
	if a.family != V6 || !a.addr.Is4In6() {
		return a
	}
	return Address{family: V4, addr: a.addr.Unmap()}
}

// IsV4Mapped reports whether this is a V6 address carrying a v4-mapped
// (::ffff:a.b.c.d) payload.
func (a Address) IsV4Mapped() bool {
	return a.family == V6 && a.addr.Is4In6()
}
