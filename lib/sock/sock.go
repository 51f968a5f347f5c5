// Package sock is a small socket layer on top of the connection table. It
// owns the app side of connections: bound and connected sockets, listening
// sockets with an accept queue, and accepted sockets.
//
// Every method must be called with the connection table locked.
package sock

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/Clouded-Sabre/netconn/lib"
	"go.uber.org/zap"
)

var (
	ErrSocketClosed = errors.New("socket closed")
	ErrNotListening = errors.New("socket is not listening")
	ErrQueueEmpty   = errors.New("accept queue empty")
)

// Socket is the app side owner of one connection.
type Socket struct {
	ID         lib.OwnerID
	Conn       lib.ConnID
	ProtocolIx lib.ProtocolIndex
	Local      netip.AddrPort
	Remote     netip.AddrPort // invalid until connected
	Listener   lib.OwnerID    // listening socket this one was accepted from
	IfNbr      lib.IfNbr

	listening bool
	ephemeral bool         // Local port came from the port pool
	pending   []lib.ConnID // accept queue of a listening socket
	closed    bool
}

// Listening reports whether the socket accepts connections.
func (s *Socket) Listening() bool {
	return s.listening
}

// Pending returns the connections waiting in the accept queue.
func (s *Socket) Pending() []lib.ConnID {
	return append([]lib.ConnID(nil), s.pending...)
}

// Layer keeps every open socket and implements lib.AppLayer.
type Layer struct {
	core      *lib.Core
	table     *lib.ConnTable
	transport *Transport
	sockets   map[lib.OwnerID]*Socket
	nextID    lib.OwnerID
	logger    *zap.Logger
}

var _ lib.AppLayer = (*Layer)(nil)

// NewLayer creates the socket layer and registers it with the core's table.
// transport may be nil for datagram only use.
func NewLayer(core *lib.Core, transport *Transport, logger *zap.Logger) *Layer {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Layer{
		core:      core,
		table:     core.Table,
		transport: transport,
		sockets:   make(map[lib.OwnerID]*Socket),
		logger:    logger.Named("sock"),
	}
	core.Table.SetAppLayer(l)

	return l
}

// Socket returns an open socket by id.
func (l *Layer) Socket(id lib.OwnerID) (*Socket, bool) {
	s, ok := l.sockets[id]
	return s, ok
}

// Len returns the number of open sockets.
func (l *Layer) Len() int {
	return len(l.sockets)
}

// Listen opens a socket accepting connections on local. Port 0 picks an
// ephemeral port.
func (l *Layer) Listen(ix lib.ProtocolIndex, local netip.AddrPort, ifNbr lib.IfNbr) (*Socket, error) {
	s, err := l.open(ix, local, netip.AddrPort{}, ifNbr)
	if err != nil {
		return nil, err
	}
	s.listening = true

	l.logger.Info("listening", zap.Int("sock", int(s.ID)), zap.Stringer("local", s.Local), zap.Stringer("list", ix))

	return s, nil
}

// Dial opens a socket connected from local to remote. Stream sockets also get
// a transport owner.
func (l *Layer) Dial(ix lib.ProtocolIndex, local, remote netip.AddrPort, ifNbr lib.IfNbr) (*Socket, error) {
	if !remote.IsValid() {
		return nil, fmt.Errorf("dialing %s: %w", remote, lib.ErrInvalidAddr)
	}
	s, err := l.open(ix, local, remote, ifNbr)
	if err != nil {
		return nil, err
	}
	if ix.IsTCP() && l.transport != nil {
		if _, err := l.transport.Open(s.Conn); err != nil {
			l.Close(s)
			return nil, err
		}
	}

	return s, nil
}

func (l *Layer) open(ix lib.ProtocolIndex, local, remote netip.AddrPort, ifNbr lib.IfNbr) (*Socket, error) {
	family := ix.Family()
	if err := checkFamily(family, local); err != nil {
		return nil, err
	}
	if remote.IsValid() {
		if err := checkFamily(family, remote); err != nil {
			return nil, err
		}
	}

	ephemeral := false
	if local.Port() == 0 {
		port, err := l.core.AllocatePort(ix.ProtocolType())
		if err != nil {
			return nil, err
		}
		local = netip.AddrPortFrom(local.Addr(), port)
		ephemeral = true
	} else if l.bound(ix, local, remote) {
		return nil, fmt.Errorf("binding %s: %w", local, lib.ErrAddrInUse)
	}

	conn, err := l.table.Get(family, ix)
	if err != nil {
		if ephemeral {
			_ = l.core.Ports.ReturnPort(local.Port())
		}
		return nil, err
	}

	s := &Socket{
		ID:         l.nextID,
		Conn:       conn,
		ProtocolIx: ix,
		Local:      local,
		Remote:     remote,
		Listener:   lib.OwnerNone,
		IfNbr:      ifNbr,
		ephemeral:  ephemeral,
	}
	if err := l.bind(s); err != nil {
		l.table.Free(conn)
		if ephemeral {
			_ = l.core.Ports.ReturnPort(local.Port())
		}
		return nil, err
	}
	l.nextID++
	l.sockets[s.ID] = s

	return s, nil
}

// bind writes the socket addressing into its connection and links it.
func (l *Layer) bind(s *Socket) error {
	if err := l.table.SetLocalAddress(s.Conn, s.IfNbr, lib.MustEncodeAddr(s.Local), false); err != nil {
		return err
	}
	if s.Remote.IsValid() {
		if err := l.table.SetRemoteAddress(s.Conn, lib.MustEncodeAddr(s.Remote), false); err != nil {
			return err
		}
	}
	if err := l.table.SetAppOwner(s.Conn, s.ID); err != nil {
		return err
	}

	return l.table.ListAdd(s.Conn)
}

// bound reports whether an open socket already holds exactly this addressing.
func (l *Layer) bound(ix lib.ProtocolIndex, local, remote netip.AddrPort) bool {
	for _, s := range l.sockets {
		if s.ProtocolIx == ix && s.Local == local && s.Remote == remote {
			return true
		}
	}
	return false
}

// Accept queues an incoming connection from remote to local on a listening
// socket. The connection is cloned from the listener's and carries the
// listener as its clone owner until AcceptQueued hands it to a socket.
func (l *Layer) Accept(listener *Socket, local, remote netip.AddrPort) (lib.ConnID, error) {
	if listener.closed {
		return lib.ConnNone, ErrSocketClosed
	}
	if !listener.listening {
		return lib.ConnNone, ErrNotListening
	}
	family := listener.ProtocolIx.Family()
	if err := checkFamily(family, local); err != nil {
		return lib.ConnNone, err
	}
	if err := checkFamily(family, remote); err != nil {
		return lib.ConnNone, err
	}

	conn, err := l.table.Get(family, listener.ProtocolIx)
	if err != nil {
		return lib.ConnNone, err
	}
	fail := func(err error) (lib.ConnID, error) {
		l.table.CloseFromApp(conn, true)
		return lib.ConnNone, err
	}

	if err := l.table.Copy(conn, listener.Conn); err != nil {
		return fail(err)
	}
	if err := l.table.SetLocalAddress(conn, listener.IfNbr, lib.MustEncodeAddr(local), false); err != nil {
		return fail(err)
	}
	if err := l.table.SetRemoteAddress(conn, lib.MustEncodeAddr(remote), false); err != nil {
		return fail(err)
	}
	if err := l.table.SetAppCloneOwner(conn, listener.ID); err != nil {
		return fail(err)
	}
	if listener.ProtocolIx.IsTCP() && l.transport != nil {
		if _, err := l.transport.Open(conn); err != nil {
			return fail(err)
		}
	}
	if err := l.table.ListAdd(conn); err != nil {
		return fail(err)
	}
	listener.pending = append(listener.pending, conn)

	l.logger.Debug("connection queued", zap.Int("listener", int(listener.ID)),
		zap.Int("conn", int(conn)), zap.Stringer("remote", remote))

	return conn, nil
}

// AcceptQueued takes the oldest queued connection of a listening socket and
// gives it its own socket.
func (l *Layer) AcceptQueued(listener *Socket) (*Socket, error) {
	if listener.closed {
		return nil, ErrSocketClosed
	}
	if !listener.listening {
		return nil, ErrNotListening
	}
	if len(listener.pending) == 0 {
		return nil, ErrQueueEmpty
	}
	conn := listener.pending[0]
	listener.pending = listener.pending[1:]

	local, err := l.decode(conn, l.table.GetLocalAddress)
	if err != nil {
		return nil, err
	}
	remote, err := l.decode(conn, l.table.GetRemoteAddress)
	if err != nil {
		return nil, err
	}

	s := &Socket{
		ID:         l.nextID,
		Conn:       conn,
		ProtocolIx: listener.ProtocolIx,
		Local:      local,
		Remote:     remote,
		Listener:   listener.ID,
		IfNbr:      listener.IfNbr,
	}
	if err := l.table.SetAppOwner(conn, s.ID); err != nil {
		return nil, err
	}
	if err := l.table.SetAppCloneOwner(conn, lib.OwnerNone); err != nil {
		return nil, err
	}
	l.nextID++
	l.sockets[s.ID] = s

	return s, nil
}

func (l *Layer) decode(conn lib.ConnID, get func(lib.ConnID) ([]byte, error)) (netip.AddrPort, error) {
	buf, err := get(conn)
	if err != nil {
		return netip.AddrPort{}, err
	}
	var family lib.Family
	switch len(buf) {
	case lib.AddrIPv4Len:
		family = lib.FamilyIPv4Sock
	default:
		family = lib.FamilyIPv6Sock
	}

	return lib.DecodeAddr(family, buf)
}

// Close closes a socket from the application, closing the transport side of
// its connection as well.
func (l *Layer) Close(s *Socket) {
	if s.closed {
		return
	}
	l.release(s)
	l.table.CloseFromApp(s.Conn, true)
}

// CloseAppConn is called by the connection table when the connection of a
// socket goes away.
func (l *Layer) CloseAppConn(app lib.OwnerID) {
	s, ok := l.sockets[app]
	if !ok {
		return
	}
	l.release(s)
	l.table.CloseFromApp(s.Conn, false)
}

// DetachClone drops conn from the accept queue of a listening socket.
func (l *Layer) DetachClone(clone lib.OwnerID, conn lib.ConnID) {
	s, ok := l.sockets[clone]
	if !ok {
		return
	}
	for i, id := range s.pending {
		if id == conn {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}

// release forgets a socket. The queued connections of a listening socket are
// closed with it.
func (l *Layer) release(s *Socket) {
	s.closed = true
	delete(l.sockets, s.ID)
	if s.ephemeral {
		if err := l.core.Ports.ReturnPort(s.Local.Port()); err != nil {
			l.logger.Warn("returning ephemeral port", zap.Error(err))
		}
	}

	pending := s.pending
	s.pending = nil
	for _, conn := range pending {
		l.table.CloseFromApp(conn, true)
	}

	l.logger.Debug("socket closed", zap.Int("sock", int(s.ID)), zap.Int("conn", int(s.Conn)),
		zap.Int("queued", len(pending)))
}

func checkFamily(family lib.Family, ap netip.AddrPort) error {
	if !ap.IsValid() {
		return fmt.Errorf("address %s: %w", ap, lib.ErrInvalidAddr)
	}
	if ap.Addr().Is4() != (family == lib.FamilyIPv4Sock) {
		return fmt.Errorf("address %s for %s: %w", ap, family, lib.ErrInvalidFamily)
	}
	return nil
}
