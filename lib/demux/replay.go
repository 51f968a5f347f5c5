package demux

import (
	"errors"
	"fmt"
	"io"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// FirstLayer maps a capture link type to the layer its frames start with.
func FirstLayer(link layers.LinkType) (gopacket.LayerType, error) {
	switch link {
	case layers.LinkTypeEthernet:
		return layers.LayerTypeEthernet, nil
	case layers.LinkTypeIPv4:
		return layers.LayerTypeIPv4, nil
	case layers.LinkTypeIPv6:
		return layers.LayerTypeIPv6, nil
	case layers.LinkTypeRaw:
		// raw captures carry either version; Replay picks per frame
		return gopacket.LayerTypeZero, nil
	default:
		return gopacket.LayerTypeZero, fmt.Errorf("link type %s: %w", link, ErrUnknownFirst)
	}
}

// Replay reads a pcap stream and demultiplexes every frame in it, calling fn
// with the frame number, its capture info and the outcome. It stops at the
// end of the stream or at the first read error.
func (d *Demuxer) Replay(r io.Reader, fn func(n int, ci gopacket.CaptureInfo, res Result, err error)) (int, error) {
	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return 0, fmt.Errorf("opening capture: %w", err)
	}
	first, err := FirstLayer(reader.LinkType())
	if err != nil {
		return 0, err
	}

	n := 0
	for {
		data, ci, err := reader.ReadPacketData()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("reading frame %d: %w", n+1, err)
		}
		n++

		layer := first
		if layer == gopacket.LayerTypeZero {
			layer = rawFirstLayer(data)
		}
		res, err := d.Demux(data, layer)
		fn(n, ci, res, err)
	}
}

func rawFirstLayer(data []byte) gopacket.LayerType {
	if len(data) > 0 && data[0]>>4 == 6 {
		return layers.LayerTypeIPv6
	}
	return layers.LayerTypeIPv4
}
