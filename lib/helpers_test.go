package lib

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestTable(t *testing.T, size int) *ConnTable {
	t.Helper()

	cfg := DefaultCoreConfig()
	cfg.ConnTableSize = size
	cfg.AccessedThreshold = AccessedThresholdMin
	table, err := NewConnTable(cfg)
	require.NoError(t, err)

	return table
}

func enc(s string) []byte {
	return MustEncodeAddr(netip.MustParseAddrPort(s))
}

// addConn gets a record on list ix, sets its addresses and links it. An empty
// remote leaves the record half open.
func addConn(t *testing.T, table *ConnTable, ix ProtocolIndex, local, remote string) ConnID {
	t.Helper()

	id, err := table.Get(ix.Family(), ix)
	require.NoError(t, err)
	require.NoError(t, table.SetLocalAddress(id, IfNone, enc(local), false))
	if remote != "" {
		require.NoError(t, table.SetRemoteAddress(id, enc(remote), false))
	}
	require.NoError(t, table.ListAdd(id))

	return id
}

func srch4(t *testing.T, table *ConnTable, local, remote string) SearchResult {
	t.Helper()

	var r []byte
	if remote != "" {
		r = enc(remote)
	}
	res, err := table.Srch(FamilyIPv4Sock, ProtocolIxIPv4TCP, enc(local), r)
	require.NoError(t, err)

	return res
}

// fakeApp owns connections by app id. Closing an app id also closes the
// clone connections queued on it.
type fakeApp struct {
	table    *ConnTable
	conns    map[OwnerID]ConnID
	queued   map[OwnerID][]ConnID
	closed   []OwnerID
	detached []ConnID
}

func newFakeApp(table *ConnTable) *fakeApp {
	a := &fakeApp{
		table:  table,
		conns:  make(map[OwnerID]ConnID),
		queued: make(map[OwnerID][]ConnID),
	}
	table.SetAppLayer(a)
	return a
}

func (a *fakeApp) own(t *testing.T, app OwnerID, id ConnID) {
	t.Helper()
	require.NoError(t, a.table.SetAppOwner(id, app))
	a.conns[app] = id
}

func (a *fakeApp) queue(t *testing.T, listener OwnerID, id ConnID) {
	t.Helper()
	require.NoError(t, a.table.SetAppCloneOwner(id, listener))
	a.queued[listener] = append(a.queued[listener], id)
}

func (a *fakeApp) CloseAppConn(app OwnerID) {
	a.closed = append(a.closed, app)

	queued := a.queued[app]
	delete(a.queued, app)
	for _, id := range queued {
		a.table.CloseFromApp(id, true)
	}
	if id, ok := a.conns[app]; ok {
		delete(a.conns, app)
		a.table.CloseFromApp(id, false)
	}
}

func (a *fakeApp) DetachClone(clone OwnerID, id ConnID) {
	a.detached = append(a.detached, id)
	q := a.queued[clone]
	for i, c := range q {
		if c == id {
			a.queued[clone] = append(q[:i], q[i+1:]...)
			return
		}
	}
}

// fakeTransport owns connections by transport id and releases its side when
// asked to close.
type fakeTransport struct {
	table  *ConnTable
	conns  map[OwnerID]ConnID
	closed []OwnerID
}

func newFakeTransport(table *ConnTable) *fakeTransport {
	tr := &fakeTransport{
		table: table,
		conns: make(map[OwnerID]ConnID),
	}
	table.SetTransportLayer(tr)
	return tr
}

func (tr *fakeTransport) own(t *testing.T, transport OwnerID, id ConnID) {
	t.Helper()
	require.NoError(t, tr.table.SetTransportOwner(id, transport))
	tr.conns[transport] = id
}

func (tr *fakeTransport) CloseTransportConn(transport OwnerID) {
	tr.closed = append(tr.closed, transport)
	if id, ok := tr.conns[transport]; ok {
		delete(tr.conns, transport)
		tr.table.CloseFromTransport(id, false)
	}
}
