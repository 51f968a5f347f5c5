package lib

// ConnID identifies a connection record by its position in the table.
type ConnID int

// OwnerID is an opaque application, clone or transport identifier.
type OwnerID int

// IfNbr is a network interface number.
type IfNbr int

const (
	ConnNone  ConnID  = -1 // no connection
	OwnerNone OwnerID = -1 // no owner
	IfNone    IfNbr   = -1 // no interface
)

// Family is the socket address family of a connection.
type Family uint8

const (
	FamilyNone Family = iota
	FamilyIPv4Sock
	FamilyIPv6Sock
	familyMax
)

func (f Family) String() string {
	switch f {
	case FamilyIPv4Sock:
		return "ipv4"
	case FamilyIPv6Sock:
		return "ipv6"
	default:
		return "none"
	}
}

// ProtocolIndex selects one connection list. Each enabled family has a datagram
// list and, when stream support is enabled, a stream list.
type ProtocolIndex uint8

const (
	ProtocolIxIPv4UDP ProtocolIndex = iota
	ProtocolIxIPv4TCP
	ProtocolIxIPv6UDP
	ProtocolIxIPv6TCP
	protocolIxMax

	ProtocolIxNone ProtocolIndex = 0xff
)

func (ix ProtocolIndex) String() string {
	switch ix {
	case ProtocolIxIPv4UDP:
		return "ipv4/udp"
	case ProtocolIxIPv4TCP:
		return "ipv4/tcp"
	case ProtocolIxIPv6UDP:
		return "ipv6/udp"
	case ProtocolIxIPv6TCP:
		return "ipv6/tcp"
	default:
		return "none"
	}
}

// Family returns the socket family served by the list.
func (ix ProtocolIndex) Family() Family {
	switch ix {
	case ProtocolIxIPv4UDP, ProtocolIxIPv4TCP:
		return FamilyIPv4Sock
	case ProtocolIxIPv6UDP, ProtocolIxIPv6TCP:
		return FamilyIPv6Sock
	default:
		return FamilyNone
	}
}

// IsTCP reports whether the list holds stream connections.
func (ix ProtocolIndex) IsTCP() bool {
	return ix == ProtocolIxIPv4TCP || ix == ProtocolIxIPv6TCP
}

// ProtocolType returns the protocol type of the connections in the list.
func (ix ProtocolIndex) ProtocolType() ProtocolType {
	switch ix {
	case ProtocolIxIPv4UDP:
		return ProtocolUDPv4
	case ProtocolIxIPv4TCP:
		return ProtocolTCPv4
	case ProtocolIxIPv6UDP:
		return ProtocolUDPv6
	case ProtocolIxIPv6TCP:
		return ProtocolTCPv6
	default:
		return ProtocolNone
	}
}

// ProtocolType names a transport protocol on a given family, as used by IsPortUsed.
type ProtocolType uint8

const (
	ProtocolNone ProtocolType = iota
	ProtocolUDPv4
	ProtocolTCPv4
	ProtocolUDPv6
	ProtocolTCPv6
)

// protocolIx maps a protocol type to the connection list that holds it.
func (p ProtocolType) protocolIx() ProtocolIndex {
	switch p {
	case ProtocolUDPv4:
		return ProtocolIxIPv4UDP
	case ProtocolTCPv4:
		return ProtocolIxIPv4TCP
	case ProtocolUDPv6:
		return ProtocolIxIPv6UDP
	case ProtocolTCPv6:
		return ProtocolIxIPv6TCP
	default:
		return ProtocolIxNone
	}
}

// Promotion threshold bounds
const (
	AccessedThresholdMin     = 10
	AccessedThresholdMax     = 65000
	AccessedThresholdDefault = 100
)

// connection record flags
const (
	flagUsed             uint8 = 1 << 0
	flagClosingApp       uint8 = 1 << 1 // app side is cascading a close to the transport
	flagClosingTransport uint8 = 1 << 2 // transport side is cascading a close to the app
)

// Transmit parameter defaults
const (
	DefaultIPv4TOS          uint8 = 0
	DefaultIPv4TTL          uint8 = 128
	DefaultIPv4TTLMulticast uint8 = 1

	DefaultIPv6TrafficClass      uint8  = 0
	DefaultIPv6FlowLabel         uint32 = 0
	DefaultIPv6HopLimit          uint8  = 128
	DefaultIPv6HopLimitMulticast uint8  = 1
)
