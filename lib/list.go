package lib

import "fmt"

// A connection list holds chains of records. Chain heads are linked through
// prevChain/nextChain, the records of one chain through prevConn/nextConn.
// Every record of a chain shares the local port; only the head carries the
// chain links and the chain access counter.

func (t *ConnTable) at(id ConnID) *conn {
	return &t.conns[id]
}

// ListAdd links a connection into the list of its protocol, as the head of
// the chain for its local port. The local address must be set.
func (t *ConnTable) ListAdd(id ConnID) error {
	c, err := t.used(id)
	if err != nil {
		return err
	}
	if !c.localValid {
		return fmt.Errorf("adding connection %d: %w", id, ErrAddrNotUsed)
	}
	t.relink(c)

	return nil
}

// relink moves c to the head of the chain for its current local port.
func (t *ConnTable) relink(c *conn) {
	if c.list != ProtocolIxNone {
		t.unlink(c)
	}

	chain := t.listSrch(c.protocolIx, t.layouts[c.family], c.local[:], false)
	t.add(c.protocolIx, chain, c.id)
}

// ListUnlink removes a connection from its list. The record stays in use.
func (t *ConnTable) ListUnlink(id ConnID) error {
	c, err := t.used(id)
	if err != nil {
		return err
	}
	t.unlink(c)

	return nil
}

// add links id into list. With no chain it starts a new chain at the front of
// the list; otherwise it becomes the head of chain, taking over the chain
// links and access counter.
func (t *ConnTable) add(list ProtocolIndex, chain ConnID, id ConnID) {
	c := t.at(id)

	if chain == ConnNone {
		head := t.lists[list]
		c.prevChain = ConnNone
		c.nextChain = head
		c.prevConn = ConnNone
		c.nextConn = ConnNone
		if head != ConnNone {
			t.at(head).prevChain = id
		}
		t.lists[list] = id
	} else {
		ch := t.at(chain)
		prevChain, nextChain := ch.prevChain, ch.nextChain

		c.prevChain = prevChain
		c.nextChain = nextChain
		if prevChain != ConnNone {
			t.at(prevChain).nextChain = id
		} else {
			t.lists[list] = id
		}
		if nextChain != ConnNone {
			t.at(nextChain).prevChain = id
		}

		c.prevConn = ConnNone
		c.nextConn = chain
		ch.prevConn = id
		ch.prevChain = ConnNone
		ch.nextChain = ConnNone

		c.chainAccessed = ch.chainAccessed
		ch.chainAccessed = 0
	}

	c.list = list
}

// unlink removes c from its list. A removed chain head hands the chain links
// and access counter to its successor; a chain left empty leaves the list.
func (t *ConnTable) unlink(c *conn) {
	list := c.list
	if list == ProtocolIxNone {
		return
	}

	prevConn, nextConn := c.prevConn, c.nextConn
	if prevConn != ConnNone {
		// not a chain head
		t.at(prevConn).nextConn = nextConn
		if nextConn != ConnNone {
			t.at(nextConn).prevConn = prevConn
		}
	} else if nextConn != ConnNone {
		// head with a successor: the successor heads the chain
		next := t.at(nextConn)
		next.prevConn = ConnNone
		next.prevChain = c.prevChain
		next.nextChain = c.nextChain
		if c.prevChain != ConnNone {
			t.at(c.prevChain).nextChain = nextConn
		} else {
			t.lists[list] = nextConn
		}
		if c.nextChain != ConnNone {
			t.at(c.nextChain).prevChain = nextConn
		}
		next.chainAccessed = c.chainAccessed
	} else {
		t.chainUnlink(list, c.id)
	}

	c.prevChain = ConnNone
	c.nextChain = ConnNone
	c.prevConn = ConnNone
	c.nextConn = ConnNone
	c.chainAccessed = 0
	c.list = ProtocolIxNone
}

// chainUnlink removes the chain headed by chain from list, leaving its records
// linked to each other.
func (t *ConnTable) chainUnlink(list ProtocolIndex, chain ConnID) {
	ch := t.at(chain)
	prev, next := ch.prevChain, ch.nextChain

	if prev != ConnNone {
		t.at(prev).nextChain = next
	} else {
		t.lists[list] = next
	}
	if next != ConnNone {
		t.at(next).prevChain = prev
	}

	ch.prevChain = ConnNone
	ch.nextChain = ConnNone
}

// chainInsert puts the chain headed by chain at the front of list.
func (t *ConnTable) chainInsert(list ProtocolIndex, chain ConnID) {
	ch := t.at(chain)
	head := t.lists[list]

	ch.prevChain = ConnNone
	ch.nextChain = head
	if head != ConnNone {
		t.at(head).prevChain = chain
	}
	t.lists[list] = chain
}

// chainHead walks back from id to the head of its chain.
func (t *ConnTable) chainHead(id ConnID) ConnID {
	for {
		prev := t.at(id).prevConn
		if prev == ConnNone {
			return id
		}
		id = prev
	}
}

// ListOrder returns, for one list, the record ids of each chain in scan order.
// It is meant for diagnostics and tests.
func (t *ConnTable) ListOrder(list ProtocolIndex) [][]ConnID {
	if list >= protocolIxMax {
		return nil
	}

	var order [][]ConnID
	for chain := t.lists[list]; chain != ConnNone; chain = t.at(chain).nextChain {
		var ids []ConnID
		for id := chain; id != ConnNone; id = t.at(id).nextConn {
			ids = append(ids, id)
		}
		order = append(order, ids)
	}

	return order
}
