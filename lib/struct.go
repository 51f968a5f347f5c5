package lib

import "golang.org/x/net/ipv4"

// IPv4TxParams are the per connection IPv4 transmit overrides.
type IPv4TxParams struct {
	Flags        ipv4.HeaderFlags // only ipv4.DontFragment may be set
	TOS          uint8
	TTL          uint8
	TTLMulticast uint8
}

// IPv6TxFlags are the per connection IPv6 transmit flags.
type IPv6TxFlags uint8

// IPv6TxFlagIPv6 marks connections issued for an IPv6 list.
const IPv6TxFlagIPv6 IPv6TxFlags = 1 << 0

// IPv6TxParams are the per connection IPv6 transmit overrides.
type IPv6TxParams struct {
	TrafficClass      uint8
	FlowLabel         uint32 // 20 bits
	HopLimit          uint8
	Flags             IPv6TxFlags
	HopLimitMulticast uint8
}

func defaultIPv4TxParams() IPv4TxParams {
	return IPv4TxParams{
		TOS:          DefaultIPv4TOS,
		TTL:          DefaultIPv4TTL,
		TTLMulticast: DefaultIPv4TTLMulticast,
	}
}

func defaultIPv6TxParams() IPv6TxParams {
	return IPv6TxParams{
		TrafficClass:      DefaultIPv6TrafficClass,
		FlowLabel:         DefaultIPv6FlowLabel,
		HopLimit:          DefaultIPv6HopLimit,
		HopLimitMulticast: DefaultIPv6HopLimitMulticast,
	}
}

// conn is one connection record. Records live in the table arena and link to
// each other by id.
type conn struct {
	id    ConnID // position in the arena, never changes
	flags uint8

	appID       OwnerID
	appCloneID  OwnerID
	transportID OwnerID
	ifNbr       IfNbr

	family     Family
	protocolIx ProtocolIndex

	local       [AddrLenMax]byte // port then address, network order
	remote      [AddrLenMax]byte
	localValid  bool
	remoteValid bool

	chainAccessed uint32 // meaningful on chain heads only
	connAccessed  uint32

	txIPv4 IPv4TxParams
	txIPv6 IPv6TxParams

	prevChain ConnID // chain links, set on chain heads only
	nextChain ConnID
	prevConn  ConnID
	nextConn  ConnID
	list      ProtocolIndex // list the record is linked into, ProtocolIxNone if unlinked
}

// clear resets every field but the id.
func (c *conn) clear() {
	*c = conn{
		id:          c.id,
		appID:       OwnerNone,
		appCloneID:  OwnerNone,
		transportID: OwnerNone,
		ifNbr:       IfNone,
		family:      FamilyNone,
		protocolIx:  ProtocolIxNone,
		txIPv4:      defaultIPv4TxParams(),
		txIPv6:      defaultIPv6TxParams(),
		prevChain:   ConnNone,
		nextChain:   ConnNone,
		prevConn:    ConnNone,
		nextConn:    ConnNone,
		list:        ProtocolIxNone,
	}
}

func (c *conn) isUsed() bool {
	return c.flags&flagUsed != 0
}

func (c *conn) closing() bool {
	return c.flags&(flagClosingApp|flagClosingTransport) != 0
}
