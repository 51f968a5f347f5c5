package lib

import (
	"bytes"
	"fmt"

	"go.uber.org/zap"
)

// AppLayer is the socket side owner of connections. The table calls it with
// its lock held; implementations may call back into the table.
type AppLayer interface {
	// CloseAppConn closes the application object app because its connection
	// is going away.
	CloseAppConn(app OwnerID)
	// DetachClone removes connection id from the accept queue of the
	// listening object clone.
	DetachClone(clone OwnerID, id ConnID)
}

// TransportLayer is the transport side owner of connections. The table calls
// it with its lock held; implementations may call back into the table.
type TransportLayer interface {
	CloseTransportConn(transport OwnerID)
}

// CloseFromApp releases the app side of a connection. With closeTransport set
// the transport owner is closed first. The record returns to the pool once
// neither side owns it. Connections not in use are ignored.
func (t *ConnTable) CloseFromApp(id ConnID, closeTransport bool) {
	c, err := t.used(id)
	if err != nil {
		return
	}

	var free bool
	if closeTransport && !c.closing() {
		c.flags |= flagClosingApp
		t.closeTransport(c)
		if !c.isUsed() {
			return
		}
		c.flags &^= flagClosingApp
		c.transportID = OwnerNone
		free = true
	} else {
		free = c.transportID == OwnerNone
	}

	c.appID = OwnerNone
	if free && !c.closing() {
		t.freeHandler(c)
	}
}

// CloseFromTransport releases the transport side of a connection. With
// closeApp set the app owner is closed first. The record returns to the pool
// once neither side owns it. Connections not in use are ignored.
func (t *ConnTable) CloseFromTransport(id ConnID, closeApp bool) {
	c, err := t.used(id)
	if err != nil {
		return
	}

	var free bool
	if closeApp && !c.closing() {
		c.flags |= flagClosingTransport
		t.closeApp(c)
		if !c.isUsed() {
			return
		}
		c.flags &^= flagClosingTransport
		c.appID = OwnerNone
		free = true
	} else {
		free = c.appID == OwnerNone
	}

	c.transportID = OwnerNone
	if free && !c.closing() {
		t.freeHandler(c)
	}
}

func (t *ConnTable) closeApp(c *conn) {
	if t.app == nil {
		return
	}
	id := c.id
	if c.appCloneID != OwnerNone {
		t.app.DetachClone(c.appCloneID, id)
	}
	if c.isUsed() && c.appID != OwnerNone {
		t.app.CloseAppConn(c.appID)
	}
}

func (t *ConnTable) closeTransport(c *conn) {
	if t.transport == nil || c.transportID == OwnerNone {
		return
	}
	t.transport.CloseTransportConn(c.transportID)
}

// closeConn force closes a connection: both owners are told and the record is
// freed whatever they do.
func (t *ConnTable) closeConn(c *conn) {
	if !c.isUsed() {
		return
	}

	c.flags |= flagClosingApp | flagClosingTransport
	t.closeApp(c)
	if c.isUsed() {
		t.closeTransport(c)
	}
	if c.isUsed() {
		t.freeHandler(c)
	}
}

// walkCursor bookmarks the next chain and next record of a traversal that may
// free records as it goes. The free path moves bookmarks off freed records.
type walkCursor struct {
	nextChain ConnID
	nextConn  ConnID
}

func (t *ConnTable) beginWalk() *walkCursor {
	cur := &walkCursor{nextChain: ConnNone, nextConn: ConnNone}
	t.cursors = append(t.cursors, cur)
	return cur
}

func (t *ConnTable) endWalk(cur *walkCursor) {
	for i := len(t.cursors) - 1; i >= 0; i-- {
		if t.cursors[i] == cur {
			t.cursors = append(t.cursors[:i], t.cursors[i+1:]...)
			return
		}
	}
}

// skip moves the bookmarks past freed, which is still linked.
func (cur *walkCursor) skip(t *ConnTable, freed *conn) {
	if cur.nextConn == freed.id {
		cur.nextConn = freed.nextConn
	}
	if cur.nextChain == freed.id {
		if freed.prevConn == ConnNone && freed.nextConn != ConnNone {
			// the successor takes over the chain
			cur.nextChain = freed.nextConn
		} else {
			cur.nextChain = freed.nextChain
		}
	}
}

// closeAllConnsHandler closes every linked connection match accepts and
// returns how many it closed. Connections freed by close cascades are skipped.
func (t *ConnTable) closeAllConnsHandler(match func(c *conn) bool) int {
	cur := t.beginWalk()
	defer t.endWalk(cur)

	closed := 0
	for list := range t.lists {
		for chain := t.lists[list]; chain != ConnNone; chain = cur.nextChain {
			cur.nextChain = t.at(chain).nextChain
			for id := chain; id != ConnNone; id = cur.nextConn {
				c := t.at(id)
				cur.nextConn = c.nextConn
				if match(c) {
					t.closeConn(c)
					closed++
				}
			}
		}
	}

	return closed
}

// CloseAllConns closes every connection in every list.
func (t *ConnTable) CloseAllConns() int {
	n := t.closeAllConnsHandler(func(*conn) bool { return true })
	t.logger.Info("closed all connections", zap.Int("closed", n))

	return n
}

// CloseAllConnsByInterface closes every connection bound to ifNbr.
func (t *ConnTable) CloseAllConnsByInterface(ifNbr IfNbr) int {
	n := t.closeAllConnsHandler(func(c *conn) bool { return c.ifNbr == ifNbr })
	t.logger.Info("closed connections on interface", zap.Int("if", int(ifNbr)), zap.Int("closed", n))

	return n
}

// CloseAllConnsByAddress closes every connection whose local address, port
// aside, is addr. addr holds the address bytes only.
func (t *ConnTable) CloseAllConnsByAddress(family Family, addr []byte) (int, error) {
	layout := t.Layout(family)
	if layout == nil {
		return 0, fmt.Errorf("family %d: %w", family, ErrInvalidFamily)
	}
	if len(addr) != layout.AddrLen {
		return 0, fmt.Errorf("%d byte %s address: %w", len(addr), family, ErrInvalidAddrLen)
	}

	n := t.closeAllConnsHandler(func(c *conn) bool {
		return c.family == family && c.localValid && bytes.Equal(layout.addr(c.local[:]), addr)
	})
	t.logger.Info("closed connections on address", zap.Stringer("family", family), zap.Int("closed", n))

	return n, nil
}
