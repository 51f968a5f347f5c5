package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestParseConfigKeepsDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte("conn_table_size: 8\nlog_level: debug\n"))
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.ConnTableSize)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, DefaultAccessedThreshold, cfg.AccessedThreshold)
	assert.Equal(t, "0.0.0.0", cfg.WildcardIPv4)
	assert.True(t, cfg.IPv6Enabled)
}

func TestReadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("accessed_threshold: 20\nipv6_enabled: false\n"), 0o600))

	cfg, err := ReadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.AccessedThreshold)
	assert.False(t, cfg.IPv6Enabled)

	_, err = ReadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(c *Config)
		nErrors int
	}{
		{name: "zero table", mutate: func(c *Config) { c.ConnTableSize = 0 }, nErrors: 1},
		{name: "threshold below min", mutate: func(c *Config) { c.AccessedThreshold = 9 }, nErrors: 1},
		{name: "threshold above max", mutate: func(c *Config) { c.AccessedThreshold = 65001 }, nErrors: 1},
		{name: "no family", mutate: func(c *Config) { c.IPv4Enabled, c.IPv6Enabled = false, false }, nErrors: 1},
		{name: "v6 wildcard for v4", mutate: func(c *Config) { c.WildcardIPv4 = "::" }, nErrors: 1},
		{name: "bad port range", mutate: func(c *Config) { c.EphemeralPortLower = 60000; c.EphemeralPortUpper = 50000 }, nErrors: 1},
		{name: "several", mutate: func(c *Config) { c.LogLevel = "trace"; c.LogFormat = "xml"; c.FramePoolSize = 0 }, nErrors: 3},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Len(t, multierr.Errors(err), tc.nErrors)
		})
	}
}
