package lib

import (
	"fmt"
	"net"
	"net/netip"
)

// ifaceAddrs is the address list of one network interface.
type ifaceAddrs struct {
	index int
	flags net.Flags
	addrs []net.Addr
}

// InterfaceOf returns the number of the up interface holding addr. The
// unspecified address belongs to no interface and yields IfNone.
func InterfaceOf(addr netip.Addr) (IfNbr, error) {
	if addr.IsUnspecified() {
		return IfNone, nil
	}

	interfaces, err := net.Interfaces()
	if err != nil {
		return IfNone, fmt.Errorf("failed to get network interfaces: %w", err)
	}

	list := make([]ifaceAddrs, 0, len(interfaces))
	for _, iface := range interfaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		list = append(list, ifaceAddrs{index: iface.Index, flags: iface.Flags, addrs: addrs})
	}

	return interfaceOf(addr, list)
}

func interfaceOf(addr netip.Addr, interfaces []ifaceAddrs) (IfNbr, error) {
	addr = addr.WithZone("").Unmap()

	for _, iface := range interfaces {
		if iface.flags&net.FlagUp == 0 {
			continue // skip down interfaces
		}
		for _, a := range iface.addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip, ok := netip.AddrFromSlice(ipNet.IP)
			if ok && ip.Unmap() == addr {
				return IfNbr(iface.index), nil
			}
		}
	}

	return IfNone, fmt.Errorf("no interface holds %s: %w", addr, ErrInvalidAddr)
}
