package lib

import (
	"fmt"

	"go.uber.org/zap"
)

// SearchResult is the outcome of Srch. On a miss ID is ConnNone, both owners
// are OwnerNone and Miss tells why.
type SearchResult struct {
	ID        ConnID
	Transport OwnerID
	App       OwnerID
	Kind      MatchKind
	Miss      MissReason
}

// Srch finds the connection that should receive traffic addressed to local
// from remote. remote may be nil. Matches are ranked full, full wildcard,
// half, half wildcard; an exact full match ends the scan. The matched chain
// and connection are counted toward promotion.
//
// Records found with no local address while scanning are closed.
func (t *ConnTable) Srch(family Family, ix ProtocolIndex, local, remote []byte) (SearchResult, error) {
	res := SearchResult{ID: ConnNone, Transport: OwnerNone, App: OwnerNone}

	layout, err := t.checkFamilyProtocol(family, ix)
	if err != nil {
		return res, err
	}
	if len(local) != layout.Len {
		return res, fmt.Errorf("local %s address of %d bytes: %w", family, len(local), ErrInvalidAddrLen)
	}
	if remote != nil && len(remote) != layout.Len {
		return res, fmt.Errorf("remote %s address of %d bytes: %w", family, len(remote), ErrInvalidAddrLen)
	}

	chain := t.listSrch(ix, layout, local, true)
	if chain == ConnNone {
		res.Miss = MissNoChain
		return res, nil
	}

	id, kind := t.chainSrch(ix, layout, chain, local, remote)
	if id == ConnNone {
		res.Miss = MissNoAddr
		return res, nil
	}

	c := t.at(id)
	res.ID = id
	res.Kind = kind
	res.Transport = c.transportID
	res.App = c.appID

	return res, nil
}

// listSrch returns the head of the chain for the port of local, or ConnNone.
// Chain heads with no local address are closed on the way. With account set
// the found chain is counted and moved to the front of the list once its
// counter passes the threshold.
func (t *ConnTable) listSrch(list ProtocolIndex, layout *AddrLayout, local []byte, account bool) ConnID {
	port := layout.port(local)

	cur := t.beginWalk()
	defer t.endWalk(cur)

	chain := t.lists[list]
	for chain != ConnNone {
		ch := t.at(chain)
		if !ch.localValid {
			cur.nextChain = ch.nextChain
			cur.nextConn = ch.nextConn
			t.logger.Debug("closing chain head without local address",
				zap.Int("conn", int(chain)), zap.Stringer("list", list))
			t.closeConn(ch)
			// the successor, if any, now heads the chain
			if cur.nextConn != ConnNone {
				chain = cur.nextConn
			} else {
				chain = cur.nextChain
			}
			continue
		}
		if layout.equalPort(ch.local[:], port) {
			break
		}
		chain = ch.nextChain
	}

	if chain == ConnNone || !account {
		return chain
	}

	ch := t.at(chain)
	ch.chainAccessed++
	if ch.chainAccessed > t.threshold.Load() {
		ch.chainAccessed = 0
		if t.lists[list] != chain {
			t.chainUnlink(list, chain)
			t.chainInsert(list, chain)
		}
	}

	return chain
}

// chainSrch looks through chain for the best match of local and remote.
func (t *ConnTable) chainSrch(list ProtocolIndex, layout *AddrLayout, chain ConnID, local, remote []byte) (ConnID, MatchKind) {
	wildcard := layout.wildcardOf(local)
	// a query for the wildcard address itself has no wildcard fallback
	if wildcard != nil && layout.equal(wildcard, local) {
		wildcard = nil
	}

	found := ConnNone
	fullWildcard, half, halfWildcard := ConnNone, ConnNone, ConnNone

	cur := t.beginWalk()
	defer t.endWalk(cur)

	for id := chain; id != ConnNone; id = cur.nextConn {
		c := t.at(id)
		cur.nextConn = c.nextConn

		if !c.localValid {
			t.logger.Debug("closing connection without local address",
				zap.Int("conn", int(id)), zap.Stringer("list", list))
			t.closeConn(c)
			continue
		}

		remoteMatch := remote != nil && c.remoteValid && layout.equal(c.remote[:], remote)
		switch {
		case layout.equal(c.local[:], local):
			if remote != nil && c.remoteValid {
				if remoteMatch {
					found = id
				}
			} else if !c.remoteValid {
				half = id
			}
		case wildcard != nil && layout.equal(c.local[:], wildcard):
			if remote != nil && c.remoteValid {
				if remoteMatch {
					fullWildcard = id
				}
			} else if !c.remoteValid {
				halfWildcard = id
			}
		}
		if found != ConnNone {
			break
		}
	}

	kind := MatchFull
	if found == ConnNone {
		// candidates may have been freed by a close cascade later in the scan
		switch {
		case t.stillUsed(fullWildcard):
			found, kind = fullWildcard, MatchFullWildcard
		case t.stillUsed(half):
			found, kind = half, MatchHalf
		case t.stillUsed(halfWildcard):
			found, kind = halfWildcard, MatchHalfWildcard
		default:
			return ConnNone, MatchNone
		}
	}

	c := t.at(found)
	c.connAccessed++
	if c.connAccessed > t.threshold.Load() {
		c.connAccessed = 0
		if head := t.chainHead(found); head != found {
			t.unlink(c)
			t.add(list, head, found)
		}
	}

	return found, kind
}

func (t *ConnTable) stillUsed(id ConnID) bool {
	return id != ConnNone && t.at(id).isUsed()
}
