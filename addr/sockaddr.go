package addr

// SockAddr pairs an IP address, a port, and a family so it can be packed
// into a sockaddr_in/sockaddr_in6-shaped tuple for collaborators that hand
// it to OS socket primitives unmodified.
type SockAddr struct {
	IP     Address
	Port   uint16
	family Family
}

// NewSockAddr builds a SockAddr from an address and port.
func NewSockAddr(ip Address, port uint16) SockAddr {
	return SockAddr{IP: ip, Port: port, family: ip.Family()}
}

// Valid reports whether the underlying address is valid.
func (s SockAddr) Valid() bool {
	return s.IP.Valid()
}

// Family returns the address family of this socket address.
func (s SockAddr) Family() Family {
	return s.family
}

// ToRaw returns the (family, address-bytes, port) tuple in the shape a
// sockaddr_in/sockaddr_in6 would carry, for collaborators that need to
// construct a raw OS socket address.
func (s SockAddr) ToRaw() (family Family, addrBytes []byte, port uint16) {
	switch s.IP.Family() {
	case V4:
		b := s.IP.As4()
		return V4, b[:], s.Port
	case V6:
		b := s.IP.As16()
		return V6, b[:], s.Port
	default:
		return Empty, nil, 0
	}
}

// String renders "ip:port", bracketing v6 addresses other than v4-mapped
// ones, which render unbracketed.
func (s SockAddr) String() string {
	if !s.Valid() {
		return ""
	}
	if s.IP.Family() == V6 && !s.IP.IsV4Mapped() {
		return "[" + s.IP.String() + "]:" + portString(s.Port)
	}
	return s.IP.String() + ":" + portString(s.Port)
}

func portString(p uint16) string {
	// avoid pulling in strconv twice across the package; small helper.
	if p == 0 {
		return "0"
	}
	var buf [5]byte
	i := len(buf)
	for p > 0 {
		i--
		buf[i] = byte('0' + p%10)
		p /= 10
	}
	return string(buf[i:])
}

// Equal reports exact equality of address, port and family.
func (s SockAddr) Equal(o SockAddr) bool {
	return s.Port == o.Port && s.IP.Equal(o.IP)
}

// IsEquivalent reports whether two socket addresses refer to the same
// endpoint, treating an IPv4 address and its v4-mapped-v6 form as equal.
func (s SockAddr) IsEquivalent(o SockAddr) bool {
	if s.Port != o.Port {
		return false
	}
	a, b := s.IP, o.IP
	if a.Family() == V4 {
		a = a.ToV4Mapped()
	}
	if b.Family() == V4 {
		b = b.ToV4Mapped()
	}
	return a.Equal(b)
}
