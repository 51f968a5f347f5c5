package lib

import (
	"net"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ipNet(cidr string) *net.IPNet {
	ip, n, err := net.ParseCIDR(cidr)
	if err != nil {
		panic(err)
	}
	n.IP = ip
	return n
}

func TestInterfaceOf(t *testing.T) {
	interfaces := []ifaceAddrs{
		{index: 1, flags: net.FlagUp | net.FlagLoopback, addrs: []net.Addr{ipNet("127.0.0.1/8"), ipNet("::1/128")}},
		{index: 2, flags: net.FlagUp, addrs: []net.Addr{ipNet("10.0.0.1/24"), ipNet("2001:db8::1/64")}},
		{index: 3, flags: 0, addrs: []net.Addr{ipNet("192.168.1.1/24")}},
	}

	testCases := []struct {
		addr    string
		want    IfNbr
		wantErr bool
	}{
		{addr: "127.0.0.1", want: 1},
		{addr: "10.0.0.1", want: 2},
		{addr: "::ffff:10.0.0.1", want: 2},
		{addr: "2001:db8::1", want: 2},
		{addr: "10.0.0.2", wantErr: true},
		{addr: "192.168.1.1", wantErr: true}, // interface is down
	}

	for _, tc := range testCases {
		t.Run(tc.addr, func(t *testing.T) {
			got, err := interfaceOf(netip.MustParseAddr(tc.addr), interfaces)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInvalidAddr)
				assert.Equal(t, IfNone, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestInterfaceOfUnspecified(t *testing.T) {
	got, err := InterfaceOf(netip.IPv4Unspecified())
	require.NoError(t, err)
	assert.Equal(t, IfNone, got)
}
