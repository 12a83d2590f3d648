// Package replay feeds a capture file through the pipeline as a single
// channel.
package replay

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/netbeep/internal/capture"
	"firestige.xyz/netbeep/internal/collector"
	"firestige.xyz/netbeep/internal/core"
)

// pcapngMagic is the block type of a pcapng section header.
const pcapngMagic = 0x0a0d0d0a

type packetSource interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// Channel replays the IPv4 frames of a pcap or pcapng file.
type Channel struct {
	path      string
	file      *os.File
	src       packetSource
	extractor *capture.Extractor

	mu     sync.Mutex
	eof    bool
	closed bool
	frames uint64
}

// Open opens path and checks that its link type can be replayed.
func Open(path string) (*Channel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open capture file: %w", core.ErrAttachment, err)
	}

	src, err := newSource(bufio.NewReader(f))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: read %s: %w", core.ErrAttachment, path, err)
	}

	var first gopacket.LayerType
	switch lt := src.LinkType(); lt {
	case layers.LinkTypeEthernet:
		first = layers.LayerTypeEthernet
	case layers.LinkTypeRaw, layers.LinkTypeIPv4:
		first = layers.LayerTypeIPv4
	default:
		f.Close()
		return nil, fmt.Errorf("%w: %s: unsupported link type %s", core.ErrAttachment, path, lt)
	}

	slog.Info("replaying capture file", "path", path, "link_type", src.LinkType().String())
	return &Channel{
		path:      path,
		file:      f,
		src:       src,
		extractor: capture.NewExtractor(first),
	}, nil
}

func newSource(r *bufio.Reader) (packetSource, error) {
	magic, err := r.Peek(4)
	if err != nil {
		return nil, err
	}
	// The section header block type reads the same in either byte order.
	if binary.LittleEndian.Uint32(magic) == pcapngMagic {
		return pcapgo.NewNgReader(r, pcapgo.DefaultNgReaderOptions)
	}
	return pcapgo.NewReader(r)
}

// ID implements collector.Channel.
func (c *Channel) ID() int { return 0 }

// ReadEvents implements collector.Channel. Frames without an IPv4 packet
// are skipped. Once the file is exhausted it returns io.EOF.
func (c *Channel) ReadEvents(ctx context.Context, bufs [][]byte) (collector.Events, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var ev collector.Events
	if c.closed || c.eof {
		return ev, io.EOF
	}
	for ev.Read < len(bufs) {
		if err := ctx.Err(); err != nil {
			return ev, err
		}
		data, _, err := c.src.ReadPacketData()
		if errors.Is(err, io.EOF) {
			c.eof = true
			slog.Info("capture file exhausted", "path", c.path, "frames", c.frames)
			if ev.Read > 0 {
				return ev, nil
			}
			return ev, io.EOF
		}
		if err != nil {
			return ev, fmt.Errorf("read %s: %w", c.path, err)
		}
		c.frames++
		if c.extractor.Extract(data, bufs[ev.Read]) {
			ev.Read++
		}
	}
	return ev, nil
}

// Close implements collector.Channel.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.file.Close()
}
