package config

import (
	"fmt"
	"net/netip"
	"os"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConnTableSize      = 64
	DefaultAccessedThreshold  = 100
	DefaultEphemeralPortLower = 49152
	DefaultEphemeralPortUpper = 65535
	DefaultFramePoolSize      = 256
	DefaultFrameBufferLength  = 2048

	// same bounds the connection table enforces on its promotion threshold
	AccessedThresholdMin = 10
	AccessedThresholdMax = 65000
)

// Config holds the connection manager settings read from config.yaml.
type Config struct {
	ConnTableSize      int    `yaml:"conn_table_size"`      // number of connection records in the table
	AccessedThreshold  int    `yaml:"accessed_threshold"`   // accesses before a chain or connection is promoted
	IPv4Enabled        bool   `yaml:"ipv4_enabled"`         // IPv4 socket family support
	IPv6Enabled        bool   `yaml:"ipv6_enabled"`         // IPv6 socket family support
	TCPEnabled         bool   `yaml:"tcp_enabled"`          // stream connection lists (UDP lists are always present)
	WildcardIPv4       string `yaml:"wildcard_ipv4"`        // IPv4 "any" address used for wildcard matching
	WildcardIPv6       string `yaml:"wildcard_ipv6"`        // IPv6 "any" address used for wildcard matching
	EphemeralPortLower int    `yaml:"ephemeral_port_lower"` // lower bound of the ephemeral port range
	EphemeralPortUpper int    `yaml:"ephemeral_port_upper"` // upper bound of the ephemeral port range
	LogLevel           string `yaml:"log_level"`            // debug, info, warn, error
	LogFormat          string `yaml:"log_format"`           // console or json
	MetricsAddr        string `yaml:"metrics_addr"`         // listen address for /metrics, empty disables it
	FramePoolSize      int    `yaml:"frame_pool_size"`      // number of pooled frame buffers used by the demultiplexer
	FrameBufferLength  int    `yaml:"frame_buffer_length"`  // size of each pooled frame buffer
}

// DefaultConfig returns the configuration used when no config file is given.
func DefaultConfig() *Config {
	return &Config{
		ConnTableSize:      DefaultConnTableSize,
		AccessedThreshold:  DefaultAccessedThreshold,
		IPv4Enabled:        true,
		IPv6Enabled:        true,
		TCPEnabled:         true,
		WildcardIPv4:       "0.0.0.0",
		WildcardIPv6:       "::",
		EphemeralPortLower: DefaultEphemeralPortLower,
		EphemeralPortUpper: DefaultEphemeralPortUpper,
		LogLevel:           "info",
		LogFormat:          "console",
		FramePoolSize:      DefaultFramePoolSize,
		FrameBufferLength:  DefaultFrameBufferLength,
	}
}

// ReadConfig reads a yaml config file. Keys missing from the file keep their default values.
func ReadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", filename, err)
	}

	return ParseConfig(data)
}

// ParseConfig decodes yaml bytes on top of DefaultConfig and validates the result.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var err error

	if c.ConnTableSize < 1 {
		err = multierr.Append(err, fmt.Errorf("conn_table_size must be at least 1, got %d", c.ConnTableSize))
	}
	if c.AccessedThreshold < AccessedThresholdMin || c.AccessedThreshold > AccessedThresholdMax {
		err = multierr.Append(err, fmt.Errorf("accessed_threshold must be within [%d, %d], got %d",
			AccessedThresholdMin, AccessedThresholdMax, c.AccessedThreshold))
	}
	if !c.IPv4Enabled && !c.IPv6Enabled {
		err = multierr.Append(err, fmt.Errorf("at least one of ipv4_enabled and ipv6_enabled must be set"))
	}
	if c.IPv4Enabled {
		if a, perr := netip.ParseAddr(c.WildcardIPv4); perr != nil || !a.Is4() {
			err = multierr.Append(err, fmt.Errorf("wildcard_ipv4 %q is not an IPv4 address", c.WildcardIPv4))
		}
	}
	if c.IPv6Enabled {
		if a, perr := netip.ParseAddr(c.WildcardIPv6); perr != nil || !a.Is6() || a.Is4In6() {
			err = multierr.Append(err, fmt.Errorf("wildcard_ipv6 %q is not an IPv6 address", c.WildcardIPv6))
		}
	}
	if c.EphemeralPortLower < 1 || c.EphemeralPortUpper > 65535 || c.EphemeralPortLower > c.EphemeralPortUpper {
		err = multierr.Append(err, fmt.Errorf("ephemeral port range [%d, %d] is invalid",
			c.EphemeralPortLower, c.EphemeralPortUpper))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		err = multierr.Append(err, fmt.Errorf("log_level %q is not one of debug, info, warn, error", c.LogLevel))
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		err = multierr.Append(err, fmt.Errorf("log_format %q is not one of console, json", c.LogFormat))
	}
	if c.FramePoolSize < 1 {
		err = multierr.Append(err, fmt.Errorf("frame_pool_size must be at least 1, got %d", c.FramePoolSize))
	}
	if c.FrameBufferLength < 64 {
		err = multierr.Append(err, fmt.Errorf("frame_buffer_length must be at least 64, got %d", c.FrameBufferLength))
	}

	return err
}
