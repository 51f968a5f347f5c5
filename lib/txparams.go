package lib

import (
	"fmt"

	"golang.org/x/net/ipv4"
)

const (
	ipv4TOSMustBeZero  uint8  = 0x01
	ipv6FlowLabelMax   uint32 = 0xfffff
	ipv4TxFlagsAllowed        = ipv4.DontFragment
)

func (t *ConnTable) IPv4TxParams(id ConnID) (IPv4TxParams, error) {
	c, err := t.used(id)
	if err != nil {
		return IPv4TxParams{}, err
	}
	return c.txIPv4, nil
}

// SetIPv4TxFlags sets the IPv4 header flags used on transmit. Only the don't
// fragment flag may be set.
func (t *ConnTable) SetIPv4TxFlags(id ConnID, flags ipv4.HeaderFlags) error {
	if flags&^ipv4TxFlagsAllowed != 0 {
		return fmt.Errorf("ipv4 tx flags %#x: %w", int(flags), ErrInvalidArg)
	}
	c, err := t.used(id)
	if err != nil {
		return err
	}
	c.txIPv4.Flags = flags
	return nil
}

// SetIPv4TxTOS sets the type of service byte. Its must-be-zero bit has to be clear.
func (t *ConnTable) SetIPv4TxTOS(id ConnID, tos uint8) error {
	if tos&ipv4TOSMustBeZero != 0 {
		return fmt.Errorf("ipv4 tos %#x: %w", tos, ErrInvalidArg)
	}
	c, err := t.used(id)
	if err != nil {
		return err
	}
	c.txIPv4.TOS = tos
	return nil
}

func (t *ConnTable) SetIPv4TxTTL(id ConnID, ttl uint8) error {
	if ttl == 0 {
		return fmt.Errorf("ipv4 ttl 0: %w", ErrInvalidArg)
	}
	c, err := t.used(id)
	if err != nil {
		return err
	}
	c.txIPv4.TTL = ttl
	return nil
}

// SetIPv4TxTTLMulticast sets the TTL of multicast datagrams. Zero keeps them
// on the local host.
func (t *ConnTable) SetIPv4TxTTLMulticast(id ConnID, ttl uint8) error {
	c, err := t.used(id)
	if err != nil {
		return err
	}
	c.txIPv4.TTLMulticast = ttl
	return nil
}

func (t *ConnTable) IPv6TxParams(id ConnID) (IPv6TxParams, error) {
	c, err := t.used(id)
	if err != nil {
		return IPv6TxParams{}, err
	}
	return c.txIPv6, nil
}

func (t *ConnTable) SetIPv6TxTrafficClass(id ConnID, tc uint8) error {
	c, err := t.used(id)
	if err != nil {
		return err
	}
	c.txIPv6.TrafficClass = tc
	return nil
}

// SetIPv6TxFlowLabel sets the 20 bit flow label.
func (t *ConnTable) SetIPv6TxFlowLabel(id ConnID, label uint32) error {
	if label > ipv6FlowLabelMax {
		return fmt.Errorf("ipv6 flow label %#x: %w", label, ErrInvalidArg)
	}
	c, err := t.used(id)
	if err != nil {
		return err
	}
	c.txIPv6.FlowLabel = label
	return nil
}

func (t *ConnTable) SetIPv6TxHopLimit(id ConnID, hops uint8) error {
	if hops == 0 {
		return fmt.Errorf("ipv6 hop limit 0: %w", ErrInvalidArg)
	}
	c, err := t.used(id)
	if err != nil {
		return err
	}
	c.txIPv6.HopLimit = hops
	return nil
}

func (t *ConnTable) SetIPv6TxHopLimitMulticast(id ConnID, hops uint8) error {
	c, err := t.used(id)
	if err != nil {
		return err
	}
	c.txIPv6.HopLimitMulticast = hops
	return nil
}

func (t *ConnTable) SetIPv6TxFlags(id ConnID, flags IPv6TxFlags) error {
	if flags&^IPv6TxFlagIPv6 != 0 {
		return fmt.Errorf("ipv6 tx flags %#x: %w", uint8(flags), ErrInvalidArg)
	}
	c, err := t.used(id)
	if err != nil {
		return err
	}
	c.txIPv6.Flags = flags
	return nil
}
