package demux

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestFrame(t *testing.T) {
	require.Nil(t, NewFrame())
	require.Nil(t, NewFrame("2048"))

	f, ok := NewFrame(8).(*Frame)
	require.True(t, ok)

	testCases := []struct {
		name    string
		src     []byte
		wantErr bool
	}{
		{name: "fits", src: []byte{1, 2, 3}},
		{name: "exact", src: []byte{1, 2, 3, 4, 5, 6, 7, 8}},
		{name: "too long", src: make([]byte, 9), wantErr: true},
		{name: "empty", src: nil, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f.Reset()
			err := f.Copy(tc.src)
			if tc.wantErr {
				assert.Error(t, err)
				assert.Empty(t, f.GetSlice())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.src, f.GetSlice())
		})
	}
}

func TestNewFrameFuncLogs(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	newData := newFrameFunc(zap.New(core))

	assert.Nil(t, newData(0))
	assert.Nil(t, newData())
	require.Equal(t, 2, logs.Len())
	assert.Contains(t, logs.All()[0].Message, "buffer length")

	assert.NotNil(t, newData(16))
	assert.Equal(t, 2, logs.Len())
}
