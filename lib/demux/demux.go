// Package demux decodes inbound frames and looks up the connection that
// owns them in the connection table.
package demux

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/Clouded-Sabre/netconn/lib"
	rp "github.com/Clouded-Sabre/ringpool/lib"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"go.uber.org/zap"
)

var (
	ErrPoolEmpty     = errors.New("frame pool empty")
	ErrNoTransport   = errors.New("frame carries no udp or tcp segment")
	ErrDecode        = errors.New("frame decode failed")
	ErrUnknownFirst  = errors.New("unsupported first layer")
	ErrInvalidConfig = errors.New("invalid demux config")
)

type Config struct {
	PoolSize             int  // number of pooled frame buffers
	BufferLength         int  // size of each frame buffer
	PoolDebug            bool // footprint tracking on pooled frames
	ProcessTimeThreshold int  // frame processing time threshold in milliseconds
}

func DefaultConfig() *Config {
	return &Config{
		PoolSize:             256,
		BufferLength:         2048,
		PoolDebug:            false,
		ProcessTimeThreshold: 10,
	}
}

// Result is the decoded addressing of a frame and the connection it belongs to.
type Result struct {
	Family     lib.Family
	ProtocolIx lib.ProtocolIndex
	Local      netip.AddrPort // destination of the frame
	Remote     netip.AddrPort // source of the frame
	lib.SearchResult
}

// Demuxer decodes frames with a reusable gopacket parser. Frames are copied
// into pooled buffers first so callers may reuse theirs immediately.
type Demuxer struct {
	table  *lib.ConnTable
	pool   *rp.RingPool
	logger *zap.Logger

	mu      sync.Mutex
	parsers map[gopacket.LayerType]*gopacket.DecodingLayerParser
	eth     layers.Ethernet
	ip4     layers.IPv4
	ip6     layers.IPv6
	tcp     layers.TCP
	udp     layers.UDP
	payload gopacket.Payload
	decoded []gopacket.LayerType
}

// Validate checks that the pool can hand out usable frame buffers.
func (c *Config) Validate() error {
	if c.PoolSize < 1 {
		return fmt.Errorf("%w: pool size %d must be at least 1", ErrInvalidConfig, c.PoolSize)
	}
	if c.BufferLength <= 0 {
		return fmt.Errorf("%w: buffer length %d must be positive", ErrInvalidConfig, c.BufferLength)
	}
	if c.ProcessTimeThreshold < 0 {
		return fmt.Errorf("%w: process time threshold %d is negative", ErrInvalidConfig, c.ProcessTimeThreshold)
	}
	return nil
}

// New creates a Demuxer over table. A nil cfg selects DefaultConfig. The
// ring pool timeout checker follows the process wide rp.Debug switch, which
// New leaves alone.
func New(table *lib.ConnTable, cfg *Config, logger *zap.Logger) (*Demuxer, error) {
	if table == nil {
		return nil, fmt.Errorf("%w: nil connection table", ErrInvalidConfig)
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("demux")

	pool := rp.NewRingPool("demux: ", cfg.PoolSize, newFrameFunc(logger), cfg.BufferLength)
	pool.Debug = cfg.PoolDebug
	pool.ProcessTimeThreshold = time.Duration(cfg.ProcessTimeThreshold) * time.Millisecond

	d := &Demuxer{
		table:   table,
		pool:    pool,
		logger:  logger,
		parsers: make(map[gopacket.LayerType]*gopacket.DecodingLayerParser),
		decoded: make([]gopacket.LayerType, 0, 4),
	}
	for _, first := range []gopacket.LayerType{layers.LayerTypeEthernet, layers.LayerTypeIPv4, layers.LayerTypeIPv6} {
		p := gopacket.NewDecodingLayerParser(first, &d.eth, &d.ip4, &d.ip6, &d.tcp, &d.udp, &d.payload)
		p.IgnoreUnsupported = true
		d.parsers[first] = p
	}

	return d, nil
}

// Demux decodes a frame starting at layer first and searches the connection
// table for its owner. It takes the table lock.
func (d *Demuxer) Demux(data []byte, first gopacket.LayerType) (Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	res := Result{SearchResult: lib.SearchResult{ID: lib.ConnNone, Transport: lib.OwnerNone, App: lib.OwnerNone}}

	parser, ok := d.parsers[first]
	if !ok {
		return res, fmt.Errorf("%s: %w", first, ErrUnknownFirst)
	}

	element := d.pool.GetElement()
	if element == nil {
		return res, ErrPoolEmpty
	}
	defer d.pool.ReturnElement(element)
	if d.pool.Debug {
		fp := element.AddFootPrint("demux.Demux")
		defer element.TickFootPrint(fp)
	}

	frame, ok := element.Data.(*Frame)
	if !ok || frame == nil {
		return res, ErrPoolEmpty
	}
	if err := frame.Copy(data); err != nil {
		return res, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	if err := parser.DecodeLayers(frame.GetSlice(), &d.decoded); err != nil {
		return res, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	var (
		src, dst         net.IP
		srcPort, dstPort uint16
		haveNet, isTCP   bool
		haveTransport    bool
	)
	for _, typ := range d.decoded {
		switch typ {
		case layers.LayerTypeIPv4:
			src, dst, haveNet = d.ip4.SrcIP, d.ip4.DstIP, true
			res.Family = lib.FamilyIPv4Sock
		case layers.LayerTypeIPv6:
			src, dst, haveNet = d.ip6.SrcIP, d.ip6.DstIP, true
			res.Family = lib.FamilyIPv6Sock
		case layers.LayerTypeTCP:
			srcPort, dstPort = uint16(d.tcp.SrcPort), uint16(d.tcp.DstPort)
			isTCP, haveTransport = true, true
		case layers.LayerTypeUDP:
			srcPort, dstPort = uint16(d.udp.SrcPort), uint16(d.udp.DstPort)
			haveTransport = true
		}
	}
	if !haveNet || !haveTransport {
		return res, ErrNoTransport
	}

	res.ProtocolIx = protocolIx(res.Family, isTCP)
	srcAddr, ok1 := netip.AddrFromSlice(src)
	dstAddr, ok2 := netip.AddrFromSlice(dst)
	if !ok1 || !ok2 {
		return res, fmt.Errorf("%w: bad ip address", ErrDecode)
	}
	if res.Family == lib.FamilyIPv4Sock {
		srcAddr, dstAddr = srcAddr.Unmap(), dstAddr.Unmap()
	}
	res.Local = netip.AddrPortFrom(dstAddr, dstPort)
	res.Remote = netip.AddrPortFrom(srcAddr, srcPort)

	local, _, err := lib.EncodeAddr(res.Local)
	if err != nil {
		return res, err
	}
	remote, _, err := lib.EncodeAddr(res.Remote)
	if err != nil {
		return res, err
	}

	d.table.Lock()
	sr, err := d.table.Srch(res.Family, res.ProtocolIx, local, remote)
	d.table.Unlock()
	if err != nil {
		return res, err
	}
	res.SearchResult = sr

	d.logger.Debug("frame demultiplexed",
		zap.Stringer("list", res.ProtocolIx),
		zap.Stringer("local", res.Local),
		zap.Stringer("remote", res.Remote),
		zap.Stringer("match", sr.Kind),
		zap.Int("conn", int(sr.ID)))

	return res, nil
}

func protocolIx(family lib.Family, isTCP bool) lib.ProtocolIndex {
	switch {
	case family == lib.FamilyIPv4Sock && isTCP:
		return lib.ProtocolIxIPv4TCP
	case family == lib.FamilyIPv4Sock:
		return lib.ProtocolIxIPv4UDP
	case isTCP:
		return lib.ProtocolIxIPv6TCP
	default:
		return lib.ProtocolIxIPv6UDP
	}
}
