package lib

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net/netip"
)

// Address buffer layout: a 2 byte port followed by the address, both in
// network order.
const (
	AddrPortIx  = 0
	AddrPortLen = 2

	AddrIPv4Len = AddrPortLen + 4
	AddrIPv6Len = AddrPortLen + 16
	AddrLenMax  = AddrIPv6Len
)

// AddrLayout describes the fixed width address buffer of one family.
type AddrLayout struct {
	Family   Family
	Len      int // port and address
	PortIx   int
	PortLen  int
	AddrIx   int
	AddrLen  int
	Wildcard netip.Addr // "any" address, invalid if the family has none
}

// NewAddrLayout returns the layout of family with the given wildcard address.
func NewAddrLayout(family Family, wildcard netip.Addr) (*AddrLayout, error) {
	l := &AddrLayout{
		Family:  family,
		PortIx:  AddrPortIx,
		PortLen: AddrPortLen,
		AddrIx:  AddrPortIx + AddrPortLen,
	}

	switch family {
	case FamilyIPv4Sock:
		l.Len = AddrIPv4Len
		if wildcard.IsValid() && !wildcard.Is4() {
			return nil, fmt.Errorf("ipv4 wildcard %s: %w", wildcard, ErrInvalidAddr)
		}
	case FamilyIPv6Sock:
		l.Len = AddrIPv6Len
		if wildcard.IsValid() && (!wildcard.Is6() || wildcard.Is4In6()) {
			return nil, fmt.Errorf("ipv6 wildcard %s: %w", wildcard, ErrInvalidAddr)
		}
	default:
		return nil, fmt.Errorf("address layout for family %d: %w", family, ErrInvalidFamily)
	}
	l.AddrLen = l.Len - l.PortLen
	l.Wildcard = wildcard

	return l, nil
}

func (l *AddrLayout) port(addr []byte) []byte {
	return addr[l.PortIx : l.PortIx+l.PortLen]
}

func (l *AddrLayout) addr(addr []byte) []byte {
	return addr[l.AddrIx : l.AddrIx+l.AddrLen]
}

// wildcardOf returns local with its address replaced by the wildcard address,
// keeping the port. It returns nil when the family has no wildcard.
func (l *AddrLayout) wildcardOf(local []byte) []byte {
	if !l.Wildcard.IsValid() {
		return nil
	}
	w := make([]byte, l.Len)
	copy(w, local[:l.Len])
	copy(l.addr(w), l.Wildcard.AsSlice())

	return w
}

func (l *AddrLayout) equalPort(addr, port []byte) bool {
	return bytes.Equal(l.port(addr), port)
}

func (l *AddrLayout) equal(a, b []byte) bool {
	return bytes.Equal(a[:l.Len], b[:l.Len])
}

// EncodeAddr converts ap into the fixed width buffer of its family.
func EncodeAddr(ap netip.AddrPort) ([]byte, Family, error) {
	if !ap.IsValid() {
		return nil, FamilyNone, fmt.Errorf("encoding %s: %w", ap, ErrInvalidAddr)
	}

	a := ap.Addr()
	var buf []byte
	var family Family
	if a.Is4() {
		buf = make([]byte, AddrIPv4Len)
		family = FamilyIPv4Sock
	} else {
		buf = make([]byte, AddrIPv6Len)
		family = FamilyIPv6Sock
	}
	binary.BigEndian.PutUint16(buf[AddrPortIx:], ap.Port())
	copy(buf[AddrPortIx+AddrPortLen:], a.AsSlice())

	return buf, family, nil
}

// MustEncodeAddr is EncodeAddr for addresses known to be valid.
func MustEncodeAddr(ap netip.AddrPort) []byte {
	buf, _, err := EncodeAddr(ap)
	if err != nil {
		panic(err)
	}
	return buf
}

// DecodeAddr converts a fixed width buffer of family back into an address.
func DecodeAddr(family Family, buf []byte) (netip.AddrPort, error) {
	var a netip.Addr
	switch family {
	case FamilyIPv4Sock:
		if len(buf) != AddrIPv4Len {
			return netip.AddrPort{}, fmt.Errorf("decoding ipv4 address of %d bytes: %w", len(buf), ErrInvalidAddrLen)
		}
		a = netip.AddrFrom4([4]byte(buf[AddrPortIx+AddrPortLen:]))
	case FamilyIPv6Sock:
		if len(buf) != AddrIPv6Len {
			return netip.AddrPort{}, fmt.Errorf("decoding ipv6 address of %d bytes: %w", len(buf), ErrInvalidAddrLen)
		}
		a = netip.AddrFrom16([16]byte(buf[AddrPortIx+AddrPortLen:]))
	default:
		return netip.AddrPort{}, fmt.Errorf("decoding address: %w", ErrInvalidFamily)
	}

	return netip.AddrPortFrom(a, binary.BigEndian.Uint16(buf[AddrPortIx:])), nil
}
