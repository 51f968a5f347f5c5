package lib

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPortPool(t *testing.T) {
	testCases := []struct {
		name     string
		min, max int
		wantErr  bool
	}{
		{name: "single port", min: 50000, max: 50000},
		{name: "full range", min: 1, max: 65535},
		{name: "inverted", min: 50001, max: 50000, wantErr: true},
		{name: "port zero", min: 0, max: 10, wantErr: true},
		{name: "too high", min: 60000, max: 65536, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := NewPortPool(tc.min, tc.max)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInvalidArg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.max-tc.min+1, p.Available())
		})
	}
}

func TestPortPoolAllocate(t *testing.T) {
	p, err := NewPortPool(50000, 50009)
	require.NoError(t, err)

	seen := make(map[uint16]bool)
	for i := 0; i < 10; i++ {
		port, err := p.AllocatePort(nil)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, port, uint16(50000))
		assert.LessOrEqual(t, port, uint16(50009))
		assert.False(t, seen[port], "port %d handed out twice", port)
		seen[port] = true
	}
	assert.Zero(t, p.Available())

	_, err = p.AllocatePort(nil)
	assert.ErrorIs(t, err, ErrNoneAvailable)

	require.NoError(t, p.ReturnPort(50004))
	assert.Equal(t, 1, p.Available())
	port, err := p.AllocatePort(nil)
	require.NoError(t, err)
	assert.Equal(t, uint16(50004), port)
}

func TestPortPoolSkipsPortsInUse(t *testing.T) {
	p, err := NewPortPool(50000, 50003)
	require.NoError(t, err)

	inUse := func(port uint16) bool { return port != 50002 }
	port, err := p.AllocatePort(inUse)
	require.NoError(t, err)
	assert.Equal(t, uint16(50002), port)
	assert.Equal(t, 3, p.Available(), "ports in use stay pooled")

	_, err = p.AllocatePort(inUse)
	assert.ErrorIs(t, err, ErrNoneAvailable)
	assert.Equal(t, 3, p.Available())
}

func TestPortPoolReturnPort(t *testing.T) {
	p, err := NewPortPool(50000, 50001)
	require.NoError(t, err)

	assert.ErrorIs(t, p.ReturnPort(40000), ErrInvalidArg)
	assert.ErrorIs(t, p.ReturnPort(50000), ErrInvalidArg, "not allocated")

	port, err := p.AllocatePort(nil)
	require.NoError(t, err)
	require.NoError(t, p.ReturnPort(port))
	assert.ErrorIs(t, p.ReturnPort(port), ErrInvalidArg, "returned twice")
	assert.Equal(t, 2, p.Available())
}
