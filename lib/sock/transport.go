package sock

import (
	"fmt"

	"github.com/Clouded-Sabre/netconn/lib"
	"go.uber.org/zap"
)

// Transport is a minimal transport layer: it hands out transport ids for
// connections and releases them when the connection table asks.
type Transport struct {
	table  *lib.ConnTable
	conns  map[lib.OwnerID]lib.ConnID // transport id -> connection
	nextID lib.OwnerID
	logger *zap.Logger
}

var _ lib.TransportLayer = (*Transport)(nil)

// NewTransport creates the transport layer and registers it with table.
func NewTransport(table *lib.ConnTable, logger *zap.Logger) *Transport {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Transport{
		table:  table,
		conns:  make(map[lib.OwnerID]lib.ConnID),
		logger: logger.Named("transport"),
	}
	table.SetTransportLayer(t)

	return t
}

// Open binds a new transport id to conn.
func (t *Transport) Open(conn lib.ConnID) (lib.OwnerID, error) {
	id := t.nextID
	if err := t.table.SetTransportOwner(conn, id); err != nil {
		return lib.OwnerNone, fmt.Errorf("opening transport for connection %d: %w", conn, err)
	}
	t.nextID++
	t.conns[id] = conn

	return id, nil
}

// Conn returns the connection bound to a transport id.
func (t *Transport) Conn(id lib.OwnerID) (lib.ConnID, bool) {
	conn, ok := t.conns[id]
	return conn, ok
}

// Len returns the number of open transport ids.
func (t *Transport) Len() int {
	return len(t.conns)
}

// CloseTransportConn is called by the connection table when the app side
// closes. The transport releases its side in return.
func (t *Transport) CloseTransportConn(id lib.OwnerID) {
	conn, ok := t.conns[id]
	if !ok {
		return
	}
	delete(t.conns, id)

	t.logger.Debug("transport closed", zap.Int("transport", int(id)), zap.Int("conn", int(conn)))
	t.table.CloseFromTransport(conn, false)
}

// Abort drops a transport connection, as on a peer reset, closing the app
// side as well.
func (t *Transport) Abort(id lib.OwnerID) {
	conn, ok := t.conns[id]
	if !ok {
		return
	}
	delete(t.conns, id)

	t.logger.Debug("transport aborted", zap.Int("transport", int(id)), zap.Int("conn", int(conn)))
	t.table.CloseFromTransport(conn, true)
}
