package lib

import "errors"

var (
	ErrNoneAvailable     = errors.New("no connection available")
	ErrInvalidConn       = errors.New("invalid connection id")
	ErrNotUsed           = errors.New("connection not in use")
	ErrInvalidFamily     = errors.New("invalid address family")
	ErrInvalidProtocolIx = errors.New("invalid protocol index")
	ErrInvalidAddrLen    = errors.New("invalid address length")
	ErrInvalidAddr       = errors.New("invalid address")
	ErrAddrNotUsed       = errors.New("address not set")
	ErrAddrInUse         = errors.New("address already set")
	ErrInvalidArg        = errors.New("invalid argument")
	ErrInvalidProtocol   = errors.New("invalid protocol")
	ErrInvalidThreshold  = errors.New("invalid promotion threshold")
)

// MatchKind classifies how a search result matched the queried addresses.
type MatchKind uint8

const (
	MatchNone         MatchKind = iota
	MatchFull                   // local and remote match exactly
	MatchFullWildcard           // wildcard local, remote matches exactly
	MatchHalf                   // local matches exactly, record has no remote
	MatchHalfWildcard           // wildcard local, record has no remote
)

func (k MatchKind) String() string {
	switch k {
	case MatchFull:
		return "full"
	case MatchFullWildcard:
		return "full-wildcard"
	case MatchHalf:
		return "half"
	case MatchHalfWildcard:
		return "half-wildcard"
	default:
		return "none"
	}
}

// MissReason tells why a search found nothing.
type MissReason uint8

const (
	MissNone    MissReason = iota
	MissNoChain            // no chain for the local port
	MissNoAddr             // a chain exists but no record accepts the addresses
)

func (r MissReason) String() string {
	switch r {
	case MissNoChain:
		return "no-chain"
	case MissNoAddr:
		return "no-addr"
	default:
		return "none"
	}
}

// ConnType reports how much of a connection's addressing is set.
type ConnType uint8

const (
	ConnTypeNone ConnType = iota // local address not set
	ConnTypeHalf                 // local address only
	ConnTypeFull                 // local and remote addresses
)

// OwnerState describes where a connection is in its close sequence.
type OwnerState uint8

const (
	OwnerStateFreed               OwnerState = iota // back in the pool
	OwnerStateUnowned                               // in use, no owner bound yet
	OwnerStateOpen                                  // both owners bound
	OwnerStateHalfClosedApp                         // app side gone, transport still bound
	OwnerStateHalfClosedTransport                   // transport side gone, app still bound
)

func (s OwnerState) String() string {
	switch s {
	case OwnerStateUnowned:
		return "unowned"
	case OwnerStateOpen:
		return "open"
	case OwnerStateHalfClosedApp:
		return "half-closed-app"
	case OwnerStateHalfClosedTransport:
		return "half-closed-transport"
	default:
		return "freed"
	}
}
