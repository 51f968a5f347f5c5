package lib

import (
	"fmt"
	"net/netip"

	"github.com/Clouded-Sabre/netconn/config"
	"go.uber.org/zap"
)

type CoreConfig struct {
	ConnTableSize      int         // number of connection records
	AccessedThreshold  int         // accesses before a chain or connection is promoted
	IPv4Enabled        bool        // IPv4 connection lists
	IPv6Enabled        bool        // IPv6 connection lists
	TCPEnabled         bool        // stream connection lists
	WildcardIPv4       netip.Addr  // IPv4 wildcard address, invalid disables wildcard matching
	WildcardIPv6       netip.Addr  // IPv6 wildcard address, invalid disables wildcard matching
	EphemeralPortLower int         // lowest ephemeral port
	EphemeralPortUpper int         // highest ephemeral port
	Logger             *zap.Logger // nil means no logging
}

func DefaultCoreConfig() *CoreConfig {
	return &CoreConfig{
		ConnTableSize:      config.DefaultConnTableSize,
		AccessedThreshold:  AccessedThresholdDefault,
		IPv4Enabled:        true,
		IPv6Enabled:        true,
		TCPEnabled:         true,
		WildcardIPv4:       netip.IPv4Unspecified(),
		WildcardIPv6:       netip.IPv6Unspecified(),
		EphemeralPortLower: config.DefaultEphemeralPortLower,
		EphemeralPortUpper: config.DefaultEphemeralPortUpper,
	}
}

// NewCoreConfig builds the core configuration from the application config.
func NewCoreConfig(cfg *config.Config, logger *zap.Logger) (*CoreConfig, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &CoreConfig{
		ConnTableSize:      cfg.ConnTableSize,
		AccessedThreshold:  cfg.AccessedThreshold,
		IPv4Enabled:        cfg.IPv4Enabled,
		IPv6Enabled:        cfg.IPv6Enabled,
		TCPEnabled:         cfg.TCPEnabled,
		EphemeralPortLower: cfg.EphemeralPortLower,
		EphemeralPortUpper: cfg.EphemeralPortUpper,
		Logger:             logger,
	}
	// Validate already checked both wildcards parse
	if cfg.IPv4Enabled {
		c.WildcardIPv4 = netip.MustParseAddr(cfg.WildcardIPv4)
	}
	if cfg.IPv6Enabled {
		c.WildcardIPv6 = netip.MustParseAddr(cfg.WildcardIPv6)
	}

	return c, nil
}

// Core bundles the connection table with the ephemeral port pool.
type Core struct {
	config *CoreConfig
	Table  *ConnTable
	Ports  *PortPool
	logger *zap.Logger
}

func NewCore(cfg *CoreConfig) (*Core, error) {
	table, err := NewConnTable(cfg)
	if err != nil {
		return nil, err
	}

	ports, err := NewPortPool(cfg.EphemeralPortLower, cfg.EphemeralPortUpper)
	if err != nil {
		return nil, fmt.Errorf("creating port pool: %w", err)
	}

	c := &Core{
		config: cfg,
		Table:  table,
		Ports:  ports,
		logger: table.logger,
	}
	c.logger.Info("connection core started",
		zap.Int("conn_table_size", cfg.ConnTableSize),
		zap.Int("accessed_threshold", cfg.AccessedThreshold),
		zap.Bool("ipv4", cfg.IPv4Enabled),
		zap.Bool("ipv6", cfg.IPv6Enabled),
		zap.Bool("tcp", cfg.TCPEnabled))

	return c, nil
}

// AllocatePort takes an ephemeral port that no connection of protocol holds.
// The caller must hold the table lock.
func (c *Core) AllocatePort(protocol ProtocolType) (uint16, error) {
	return c.Ports.AllocatePort(func(port uint16) bool {
		used, err := c.Table.IsPortUsed(port, protocol)
		return err != nil || used
	})
}

// Close closes every connection still in the table.
func (c *Core) Close() error {
	c.Table.Lock()
	n := c.Table.CloseAllConns()
	c.Table.Unlock()

	c.logger.Info("connection core closed", zap.Int("closed", n))

	return nil
}
