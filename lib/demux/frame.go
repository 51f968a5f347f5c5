package demux

import (
	"fmt"

	rp "github.com/Clouded-Sabre/ringpool/lib"
	"go.uber.org/zap"
)

// Frame is a pooled buffer an inbound frame is copied into while it is decoded.
type Frame struct {
	frameBytes []byte
	length     int
}

// NewFrame creates a frame buffer. It takes one parameter, the buffer length.
// Bad parameters are reported through the global zap logger.
func NewFrame(params ...interface{}) rp.DataInterface {
	return newFrame(zap.L(), params...)
}

// newFrameFunc returns a ring pool constructor that reports to logger.
func newFrameFunc(logger *zap.Logger) rp.NewData {
	return func(params ...interface{}) rp.DataInterface {
		return newFrame(logger, params...)
	}
}

func newFrame(logger *zap.Logger, params ...interface{}) rp.DataInterface {
	if len(params) != 1 {
		logger.Error("NewFrame: expected one parameter, the buffer length", zap.Int("got", len(params)))
		return nil
	}
	bufferLength, ok := params[0].(int)
	if !ok || bufferLength <= 0 {
		logger.Error("NewFrame: buffer length must be a positive int", zap.Any("got", params[0]))
		return nil
	}

	return &Frame{
		frameBytes: make([]byte, bufferLength),
	}
}

// SetContent sets the content of the frame.
func (f *Frame) SetContent(s string) {
	f.length = copy(f.frameBytes, s)
}

// Reset empties the frame.
func (f *Frame) Reset() {
	clear(f.frameBytes[:f.length])
	f.length = 0
}

// PrintContent prints the content of the frame.
func (f *Frame) PrintContent() {
	fmt.Printf("Frame: % x\n", f.frameBytes[:f.length])
}

// Copy copies src into the frame.
func (f *Frame) Copy(src []byte) error {
	if len(src) > len(f.frameBytes) {
		return fmt.Errorf("frame copy: source of %d bytes is longer than buffer length %d", len(src), len(f.frameBytes))
	}
	if len(src) == 0 {
		return fmt.Errorf("frame copy: source is empty")
	}
	f.length = copy(f.frameBytes, src)
	return nil
}

// GetSlice returns the frame content.
func (f *Frame) GetSlice() []byte {
	return f.frameBytes[:f.length]
}
