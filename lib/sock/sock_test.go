package sock

import (
	"net/netip"
	"testing"

	"github.com/Clouded-Sabre/netconn/lib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLayer(t *testing.T) (*lib.Core, *Layer, *Transport) {
	t.Helper()

	cfg := lib.DefaultCoreConfig()
	cfg.ConnTableSize = 8
	cfg.EphemeralPortLower = 50000
	cfg.EphemeralPortUpper = 50003
	core, err := lib.NewCore(cfg)
	require.NoError(t, err)

	transport := NewTransport(core.Table, nil)
	layer := NewLayer(core, transport, nil)

	return core, layer, transport
}

func ap(s string) netip.AddrPort {
	return netip.MustParseAddrPort(s)
}

func srch(t *testing.T, table *lib.ConnTable, local, remote string) lib.SearchResult {
	t.Helper()

	res, err := table.Srch(lib.FamilyIPv4Sock, lib.ProtocolIxIPv4TCP,
		lib.MustEncodeAddr(ap(local)), lib.MustEncodeAddr(ap(remote)))
	require.NoError(t, err)

	return res
}

func TestListenAcceptFlow(t *testing.T) {
	core, layer, transport := newTestLayer(t)
	table := core.Table

	listener, err := layer.Listen(lib.ProtocolIxIPv4TCP, ap("0.0.0.0:7000"), 1)
	require.NoError(t, err)
	assert.True(t, listener.Listening())

	conn, err := layer.Accept(listener, ap("10.0.0.1:7000"), ap("10.0.0.9:5555"))
	require.NoError(t, err)
	assert.Equal(t, []lib.ConnID{conn}, listener.Pending())
	assert.Equal(t, 1, transport.Len())

	clone, err := table.GetAppCloneOwner(conn)
	require.NoError(t, err)
	assert.Equal(t, listener.ID, clone)

	testCases := []struct {
		name     string
		local    string
		remote   string
		wantID   lib.ConnID
		wantKind lib.MatchKind
	}{
		{name: "accepted peer", local: "10.0.0.1:7000", remote: "10.0.0.9:5555", wantID: conn, wantKind: lib.MatchFull},
		{name: "new peer", local: "10.0.0.1:7000", remote: "10.0.0.9:6666", wantID: listener.Conn, wantKind: lib.MatchHalfWildcard},
		{name: "other local address", local: "10.0.0.2:7000", remote: "10.0.0.9:5555", wantID: listener.Conn, wantKind: lib.MatchHalfWildcard},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			res := srch(t, table, tc.local, tc.remote)
			assert.Equal(t, tc.wantID, res.ID)
			assert.Equal(t, tc.wantKind, res.Kind)
		})
	}

	s, err := layer.AcceptQueued(listener)
	require.NoError(t, err)
	assert.Equal(t, conn, s.Conn)
	assert.Equal(t, listener.ID, s.Listener)
	assert.Equal(t, ap("10.0.0.1:7000"), s.Local)
	assert.Equal(t, ap("10.0.0.9:5555"), s.Remote)
	assert.Empty(t, listener.Pending())

	owner, err := table.GetAppOwner(conn)
	require.NoError(t, err)
	assert.Equal(t, s.ID, owner)
	clone, err = table.GetAppCloneOwner(conn)
	require.NoError(t, err)
	assert.Equal(t, lib.OwnerNone, clone)
	assert.Equal(t, lib.OwnerStateOpen, table.OwnerState(conn))

	res := srch(t, table, "10.0.0.1:7000", "10.0.0.9:5555")
	assert.Equal(t, s.ID, res.App)
}

func TestCloseListenerClosesQueued(t *testing.T) {
	core, layer, transport := newTestLayer(t)

	listener, err := layer.Listen(lib.ProtocolIxIPv4TCP, ap("0.0.0.0:7000"), 1)
	require.NoError(t, err)
	for _, remote := range []string{"10.0.0.9:1", "10.0.0.9:2"} {
		_, err := layer.Accept(listener, ap("10.0.0.1:7000"), ap(remote))
		require.NoError(t, err)
	}
	require.Equal(t, 3, core.Table.PoolStat().Used)

	layer.Close(listener)

	assert.Zero(t, core.Table.PoolStat().Used)
	assert.Zero(t, transport.Len())
	assert.Zero(t, layer.Len())
	assert.Empty(t, core.Table.ListOrder(lib.ProtocolIxIPv4TCP))

	_, err = layer.Accept(listener, ap("10.0.0.1:7000"), ap("10.0.0.9:3"))
	assert.ErrorIs(t, err, ErrSocketClosed)
}

func TestCloseAcceptedSocket(t *testing.T) {
	core, layer, transport := newTestLayer(t)

	listener, err := layer.Listen(lib.ProtocolIxIPv4TCP, ap("0.0.0.0:7000"), 1)
	require.NoError(t, err)
	_, err = layer.Accept(listener, ap("10.0.0.1:7000"), ap("10.0.0.9:1"))
	require.NoError(t, err)
	s, err := layer.AcceptQueued(listener)
	require.NoError(t, err)

	layer.Close(s)

	assert.False(t, core.Table.IsUsed(s.Conn))
	assert.Zero(t, transport.Len())
	_, ok := layer.Socket(s.ID)
	assert.False(t, ok)
	_, ok = layer.Socket(listener.ID)
	assert.True(t, ok)

	// closing twice is a no-op
	layer.Close(s)
	assert.Equal(t, 1, core.Table.PoolStat().Used)
}

func TestTransportAbort(t *testing.T) {
	testCases := []struct {
		name     string
		accepted bool
	}{
		{name: "accepted socket", accepted: true},
		{name: "queued connection", accepted: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			core, layer, transport := newTestLayer(t)

			listener, err := layer.Listen(lib.ProtocolIxIPv4TCP, ap("0.0.0.0:7000"), 1)
			require.NoError(t, err)
			conn, err := layer.Accept(listener, ap("10.0.0.1:7000"), ap("10.0.0.9:1"))
			require.NoError(t, err)
			if tc.accepted {
				_, err = layer.AcceptQueued(listener)
				require.NoError(t, err)
			}
			tid, err := core.Table.GetTransportOwner(conn)
			require.NoError(t, err)

			transport.Abort(tid)

			assert.False(t, core.Table.IsUsed(conn))
			assert.Equal(t, uint64(1), core.Table.PoolStat().FreedCtr)
			assert.Empty(t, listener.Pending())
			assert.Equal(t, 1, layer.Len(), "only the listener is left")
			_, ok := transport.Conn(tid)
			assert.False(t, ok)
		})
	}
}

func TestEphemeralPort(t *testing.T) {
	core, layer, _ := newTestLayer(t)

	s, err := layer.Dial(lib.ProtocolIxIPv4TCP, ap("10.0.0.1:0"), ap("10.0.0.9:80"), 1)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, s.Local.Port(), uint16(50000))
	assert.LessOrEqual(t, s.Local.Port(), uint16(50003))
	assert.Equal(t, 3, core.Ports.Available())

	used, err := core.Table.IsPortUsed(s.Local.Port(), lib.ProtocolTCPv4)
	require.NoError(t, err)
	assert.True(t, used)

	layer.Close(s)
	assert.Equal(t, 4, core.Ports.Available())
	assert.Zero(t, core.Table.PoolStat().Used)
}

func TestOpenErrors(t *testing.T) {
	_, layer, _ := newTestLayer(t)

	_, err := layer.Listen(lib.ProtocolIxIPv4UDP, ap("10.0.0.1:53"), 1)
	require.NoError(t, err)

	testCases := []struct {
		name    string
		open    func() error
		wantErr error
	}{
		{
			name: "duplicate bind",
			open: func() error {
				_, err := layer.Listen(lib.ProtocolIxIPv4UDP, ap("10.0.0.1:53"), 1)
				return err
			},
			wantErr: lib.ErrAddrInUse,
		},
		{
			name: "same port other protocol",
			open: func() error {
				_, err := layer.Listen(lib.ProtocolIxIPv4TCP, ap("10.0.0.1:53"), 1)
				return err
			},
		},
		{
			name: "family mismatch",
			open: func() error {
				_, err := layer.Dial(lib.ProtocolIxIPv4UDP, ap("10.0.0.1:1000"), ap("[2001:db8::1]:53"), 1)
				return err
			},
			wantErr: lib.ErrInvalidFamily,
		},
		{
			name: "dial without remote",
			open: func() error {
				_, err := layer.Dial(lib.ProtocolIxIPv6TCP, ap("[2001:db8::2]:1000"), netip.AddrPort{}, 1)
				return err
			},
			wantErr: lib.ErrInvalidAddr,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.open()
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestAcceptErrors(t *testing.T) {
	_, layer, _ := newTestLayer(t)

	dialed, err := layer.Dial(lib.ProtocolIxIPv4TCP, ap("10.0.0.1:1000"), ap("10.0.0.9:80"), 1)
	require.NoError(t, err)
	_, err = layer.Accept(dialed, ap("10.0.0.1:1000"), ap("10.0.0.9:81"))
	assert.ErrorIs(t, err, ErrNotListening)
	_, err = layer.AcceptQueued(dialed)
	assert.ErrorIs(t, err, ErrNotListening)

	listener, err := layer.Listen(lib.ProtocolIxIPv4TCP, ap("0.0.0.0:7000"), 1)
	require.NoError(t, err)
	_, err = layer.AcceptQueued(listener)
	assert.ErrorIs(t, err, ErrQueueEmpty)
	_, err = layer.Accept(listener, ap("[2001:db8::1]:7000"), ap("10.0.0.9:81"))
	assert.ErrorIs(t, err, lib.ErrInvalidFamily)
}
