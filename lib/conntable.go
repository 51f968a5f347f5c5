package lib

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// PoolStat is a snapshot of connection pool usage.
type PoolStat struct {
	Total        int    // records in the table
	Avail        int    // records on the free stack
	Used         int    // records handed out
	UsedMax      int    // high water mark of Used
	AllocatedCtr uint64 // successful Get calls
	FreedCtr     uint64 // records returned to the pool
	NoneAvailCtr uint64 // Get calls refused because the pool was empty
	InvalidCtr   uint64 // Get calls refused because of bad arguments
}

// ConnTable holds every connection record, the free stack and the connection
// lists. It does not lock itself: callers hold Lock for the duration of each
// call, including calls made back into the table from the app and transport
// layers.
type ConnTable struct {
	sync.Mutex

	conns     []conn
	free      []ConnID // LIFO stack of free record ids
	lists     [protocolIxMax]ConnID
	layouts   [familyMax]*AddrLayout
	enabled   [protocolIxMax]bool
	threshold atomic.Uint32
	cursors   []*walkCursor

	app       AppLayer
	transport TransportLayer

	stat   PoolStat
	logger *zap.Logger
}

// NewConnTable builds a table of cfg.ConnTableSize records, all free.
func NewConnTable(cfg *CoreConfig) (*ConnTable, error) {
	if cfg.ConnTableSize < 1 {
		return nil, fmt.Errorf("connection table size %d: %w", cfg.ConnTableSize, ErrInvalidArg)
	}
	if !cfg.IPv4Enabled && !cfg.IPv6Enabled {
		return nil, fmt.Errorf("no address family enabled: %w", ErrInvalidFamily)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	t := &ConnTable{
		conns:  make([]conn, cfg.ConnTableSize),
		free:   make([]ConnID, 0, cfg.ConnTableSize),
		logger: logger.Named("conn"),
	}
	if err := t.ConfigurePromotionThreshold(cfg.AccessedThreshold); err != nil {
		return nil, err
	}

	if cfg.IPv4Enabled {
		layout, err := NewAddrLayout(FamilyIPv4Sock, cfg.WildcardIPv4)
		if err != nil {
			return nil, err
		}
		t.layouts[FamilyIPv4Sock] = layout
		t.enabled[ProtocolIxIPv4UDP] = true
		t.enabled[ProtocolIxIPv4TCP] = cfg.TCPEnabled
	}
	if cfg.IPv6Enabled {
		layout, err := NewAddrLayout(FamilyIPv6Sock, cfg.WildcardIPv6)
		if err != nil {
			return nil, err
		}
		t.layouts[FamilyIPv6Sock] = layout
		t.enabled[ProtocolIxIPv6UDP] = true
		t.enabled[ProtocolIxIPv6TCP] = cfg.TCPEnabled
	}

	for ix := range t.lists {
		t.lists[ix] = ConnNone
	}
	// push in reverse so that the lowest id is issued first
	for i := len(t.conns) - 1; i >= 0; i-- {
		t.conns[i].id = ConnID(i)
		t.conns[i].clear()
		t.free = append(t.free, ConnID(i))
	}

	t.stat.Total = len(t.conns)
	t.stat.Avail = len(t.conns)

	return t, nil
}

// SetAppLayer installs the layer notified when a connection closes from the
// transport side or is force closed.
func (t *ConnTable) SetAppLayer(app AppLayer) {
	t.app = app
}

// SetTransportLayer installs the layer notified when a connection closes from
// the app side or is force closed.
func (t *ConnTable) SetTransportLayer(transport TransportLayer) {
	t.transport = transport
}

// ConfigurePromotionThreshold sets how many accesses a chain or connection
// needs before it moves to the front of its container.
func (t *ConnTable) ConfigurePromotionThreshold(n int) error {
	if n < AccessedThresholdMin || n > AccessedThresholdMax {
		return fmt.Errorf("threshold %d outside [%d, %d]: %w",
			n, AccessedThresholdMin, AccessedThresholdMax, ErrInvalidThreshold)
	}
	t.threshold.Store(uint32(n))

	return nil
}

// PromotionThreshold returns the current promotion threshold.
func (t *ConnTable) PromotionThreshold() int {
	return int(t.threshold.Load())
}

// Layout returns the address layout of family, or nil if it is not enabled.
func (t *ConnTable) Layout(family Family) *AddrLayout {
	if family >= familyMax {
		return nil
	}
	return t.layouts[family]
}

func (t *ConnTable) checkFamilyProtocol(family Family, ix ProtocolIndex) (*AddrLayout, error) {
	layout := t.Layout(family)
	if layout == nil {
		return nil, fmt.Errorf("family %d: %w", family, ErrInvalidFamily)
	}
	if ix >= protocolIxMax || !t.enabled[ix] || ix.Family() != family {
		return nil, fmt.Errorf("protocol index %d for %s: %w", ix, family, ErrInvalidProtocolIx)
	}

	return layout, nil
}

// Get takes a record off the free stack and initializes it for the given
// family and connection list.
func (t *ConnTable) Get(family Family, ix ProtocolIndex) (ConnID, error) {
	if _, err := t.checkFamilyProtocol(family, ix); err != nil {
		t.stat.InvalidCtr++
		return ConnNone, err
	}

	n := len(t.free)
	if n == 0 {
		t.stat.NoneAvailCtr++
		t.logger.Warn("connection pool empty", zap.Int("total", t.stat.Total))
		return ConnNone, ErrNoneAvailable
	}
	id := t.free[n-1]
	t.free = t.free[:n-1]

	c := &t.conns[id]
	c.clear()
	c.family = family
	c.protocolIx = ix
	if family == FamilyIPv6Sock {
		c.txIPv6.Flags |= IPv6TxFlagIPv6
	}
	c.flags |= flagUsed

	t.stat.AllocatedCtr++
	t.stat.Avail--
	t.stat.Used++
	if t.stat.Used > t.stat.UsedMax {
		t.stat.UsedMax = t.stat.Used
	}

	return id, nil
}

// Free returns a record to the pool. Freeing a record that is not in use does
// nothing.
func (t *ConnTable) Free(id ConnID) {
	if !t.validID(id) {
		return
	}
	c := &t.conns[id]
	if !c.isUsed() {
		return
	}
	t.freeHandler(c)
}

// freeHandler unlinks c, clears it and pushes it on the free stack. Active
// walk cursors bookmarking c move past it first.
func (t *ConnTable) freeHandler(c *conn) {
	for _, cur := range t.cursors {
		cur.skip(t, c)
	}
	t.unlink(c)

	c.clear()
	t.free = append(t.free, c.id)

	t.stat.FreedCtr++
	t.stat.Avail++
	t.stat.Used--
}

func (t *ConnTable) validID(id ConnID) bool {
	return id >= 0 && int(id) < len(t.conns)
}

// used returns the record id refers to if it is in use.
func (t *ConnTable) used(id ConnID) (*conn, error) {
	if !t.validID(id) {
		return nil, fmt.Errorf("connection %d: %w", id, ErrInvalidConn)
	}
	c := &t.conns[id]
	if !c.isUsed() {
		return nil, fmt.Errorf("connection %d: %w", id, ErrNotUsed)
	}

	return c, nil
}

// IsUsed reports whether id is a record currently handed out.
func (t *ConnTable) IsUsed(id ConnID) bool {
	_, err := t.used(id)
	return err == nil
}

// Copy copies the transmit parameters of src into dst. Addresses, owners and
// links are left alone.
func (t *ConnTable) Copy(dst, src ConnID) error {
	d, err := t.used(dst)
	if err != nil {
		return err
	}
	s, err := t.used(src)
	if err != nil {
		return err
	}

	d.txIPv4 = s.txIPv4
	d.txIPv6 = s.txIPv6

	return nil
}

func (t *ConnTable) SetAppOwner(id ConnID, app OwnerID) error {
	c, err := t.used(id)
	if err != nil {
		return err
	}
	c.appID = app
	return nil
}

func (t *ConnTable) GetAppOwner(id ConnID) (OwnerID, error) {
	c, err := t.used(id)
	if err != nil {
		return OwnerNone, err
	}
	return c.appID, nil
}

// SetAppCloneOwner records the listening owner a connection was cloned from.
func (t *ConnTable) SetAppCloneOwner(id ConnID, clone OwnerID) error {
	c, err := t.used(id)
	if err != nil {
		return err
	}
	c.appCloneID = clone
	return nil
}

func (t *ConnTable) GetAppCloneOwner(id ConnID) (OwnerID, error) {
	c, err := t.used(id)
	if err != nil {
		return OwnerNone, err
	}
	return c.appCloneID, nil
}

func (t *ConnTable) SetTransportOwner(id ConnID, transport OwnerID) error {
	c, err := t.used(id)
	if err != nil {
		return err
	}
	c.transportID = transport
	return nil
}

func (t *ConnTable) GetTransportOwner(id ConnID) (OwnerID, error) {
	c, err := t.used(id)
	if err != nil {
		return OwnerNone, err
	}
	return c.transportID, nil
}

// SetIfNbr rebinds a connection to another interface, keeping its address.
func (t *ConnTable) SetIfNbr(id ConnID, ifNbr IfNbr) error {
	c, err := t.used(id)
	if err != nil {
		return err
	}
	c.ifNbr = ifNbr
	return nil
}

func (t *ConnTable) IfNbr(id ConnID) (IfNbr, error) {
	c, err := t.used(id)
	if err != nil {
		return IfNone, err
	}
	return c.ifNbr, nil
}

// IsIPv6 reports whether the connection belongs to an IPv6 list.
func (t *ConnTable) IsIPv6(id ConnID) (bool, error) {
	c, err := t.used(id)
	if err != nil {
		return false, err
	}
	return c.family == FamilyIPv6Sock, nil
}

// SetLocalAddress binds a connection to interface ifNbr and local address
// addr. An address that is already set is only replaced when overwrite is
// true. A linked connection whose port changes moves to the chain of its new
// port.
func (t *ConnTable) SetLocalAddress(id ConnID, ifNbr IfNbr, addr []byte, overwrite bool) error {
	c, err := t.used(id)
	if err != nil {
		return err
	}
	if err := t.checkAddrLen(c, addr); err != nil {
		return err
	}
	if c.localValid && !overwrite {
		return fmt.Errorf("local address of connection %d: %w", id, ErrAddrInUse)
	}

	layout := t.layouts[c.family]
	moved := c.list != ProtocolIxNone &&
		(!c.localValid || !layout.equalPort(c.local[:], layout.port(addr)))

	copy(c.local[:], addr)
	c.localValid = true
	c.ifNbr = ifNbr

	if moved {
		t.relink(c)
	}

	return nil
}

// InvalidateLocalAddress marks the local address of a connection as unset
// without unlinking it. The next search or list add that meets the record
// closes it.
func (t *ConnTable) InvalidateLocalAddress(id ConnID) error {
	c, err := t.used(id)
	if err != nil {
		return err
	}
	c.localValid = false
	return nil
}

// GetLocalAddress returns a copy of the local address.
func (t *ConnTable) GetLocalAddress(id ConnID) ([]byte, error) {
	c, err := t.used(id)
	if err != nil {
		return nil, err
	}
	if !c.localValid {
		return nil, fmt.Errorf("local address of connection %d: %w", id, ErrAddrNotUsed)
	}

	return bytes.Clone(c.local[:t.layouts[c.family].Len]), nil
}

// SetRemoteAddress stores the remote address of a connection. An address that
// is already set is only replaced when overwrite is true.
func (t *ConnTable) SetRemoteAddress(id ConnID, addr []byte, overwrite bool) error {
	c, err := t.used(id)
	if err != nil {
		return err
	}
	if err := t.checkAddrLen(c, addr); err != nil {
		return err
	}
	if c.remoteValid && !overwrite {
		return fmt.Errorf("remote address of connection %d: %w", id, ErrAddrInUse)
	}

	copy(c.remote[:], addr)
	c.remoteValid = true

	return nil
}

// GetRemoteAddress returns a copy of the remote address.
func (t *ConnTable) GetRemoteAddress(id ConnID) ([]byte, error) {
	c, err := t.used(id)
	if err != nil {
		return nil, err
	}
	if !c.remoteValid {
		return nil, fmt.Errorf("remote address of connection %d: %w", id, ErrAddrNotUsed)
	}

	return bytes.Clone(c.remote[:t.layouts[c.family].Len]), nil
}

// CompareRemoteAddress reports whether addr equals the connection's remote
// address. A connection without a remote address matches nothing.
func (t *ConnTable) CompareRemoteAddress(id ConnID, addr []byte) (bool, error) {
	c, err := t.used(id)
	if err != nil {
		return false, err
	}
	if err := t.checkAddrLen(c, addr); err != nil {
		return false, err
	}
	if !c.remoteValid {
		return false, nil
	}

	return t.layouts[c.family].equal(c.remote[:], addr), nil
}

func (t *ConnTable) checkAddrLen(c *conn, addr []byte) error {
	if addr == nil {
		return fmt.Errorf("connection %d: %w", c.id, ErrInvalidAddr)
	}
	if want := t.layouts[c.family].Len; len(addr) != want {
		return fmt.Errorf("connection %d: %d byte %s address, want %d: %w",
			c.id, len(addr), c.family, want, ErrInvalidAddrLen)
	}

	return nil
}

// IsConnected reports whether the connection has no address, only a local
// address, or both addresses.
func (t *ConnTable) IsConnected(id ConnID) (ConnType, error) {
	c, err := t.used(id)
	if err != nil {
		return ConnTypeNone, err
	}

	switch {
	case !c.localValid:
		return ConnTypeNone, nil
	case !c.remoteValid:
		return ConnTypeHalf, nil
	default:
		return ConnTypeFull, nil
	}
}

// IsPortUsed reports whether a connection of the given protocol holds port
// as its local port.
func (t *ConnTable) IsPortUsed(port uint16, protocol ProtocolType) (bool, error) {
	ix := protocol.protocolIx()
	if ix == ProtocolIxNone {
		return false, fmt.Errorf("protocol %d: %w", protocol, ErrInvalidProtocol)
	}
	if !t.enabled[ix] {
		return false, fmt.Errorf("protocol %d not enabled: %w", protocol, ErrInvalidProtocol)
	}

	for i := range t.conns {
		c := &t.conns[i]
		if !c.isUsed() || !c.localValid || c.protocolIx != ix {
			continue
		}
		if binary.BigEndian.Uint16(c.local[AddrPortIx:]) == port {
			return true, nil
		}
	}

	return false, nil
}

// OwnerState reports where a connection is in its close sequence. Records not
// in use report OwnerStateFreed.
func (t *ConnTable) OwnerState(id ConnID) OwnerState {
	c, err := t.used(id)
	if err != nil {
		return OwnerStateFreed
	}

	app, transport := c.appID != OwnerNone, c.transportID != OwnerNone
	switch {
	case app && transport:
		return OwnerStateOpen
	case transport:
		return OwnerStateHalfClosedApp
	case app:
		return OwnerStateHalfClosedTransport
	default:
		return OwnerStateUnowned
	}
}

// PoolStat returns a snapshot of pool usage.
func (t *ConnTable) PoolStat() PoolStat {
	return t.stat
}

// ResetPoolStatMaxUsed sets the high water mark back to the current usage.
func (t *ConnTable) ResetPoolStatMaxUsed() {
	t.stat.UsedMax = t.stat.Used
}
