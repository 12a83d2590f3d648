//go:build linux

package afpacket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/google/gopacket/afpacket"
	"github.com/google/gopacket/layers"
	"github.com/tklauser/numcpus"

	"firestige.xyz/netbeep/internal/capture"
	"firestige.xyz/netbeep/internal/collector"
	"firestige.xyz/netbeep/internal/config"
	"firestige.xyz/netbeep/internal/core"
)

// Channel is one fan-out member socket.
type Channel struct {
	id        int
	handle    *afpacket.TPacket
	extractor *capture.Extractor

	mu     sync.Mutex // serialises reads with Close
	drops  uint
	closed atomic.Bool
}

// Open attaches cfg.Channels sockets, or one per online CPU when zero, to
// cfg.Interface and joins them into one fan-out group.
func Open(cfg config.CaptureConfig) ([]collector.Channel, error) {
	count := cfg.Channels
	if count <= 0 {
		n, err := numcpus.GetOnline()
		if err != nil {
			return nil, fmt.Errorf("%w: count online cpus: %w", core.ErrAttachment, err)
		}
		count = n
	}

	frameSize, blockSize, numBlocks, err := ringGeometry(
		cfg.AFPacket.FrameSize, cfg.AFPacket.BlockSizeKB*1024, cfg.AFPacket.NumBlocks, os.Getpagesize())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrAttachment, err)
	}
	filter, err := Filter()
	if err != nil {
		return nil, fmt.Errorf("%w: assemble filter: %w", core.ErrAttachment, err)
	}

	channels := make([]collector.Channel, 0, count)
	closeAll := func() {
		for _, ch := range channels {
			ch.Close()
		}
	}
	for id := range count {
		tp, err := afpacket.NewTPacket(
			afpacket.OptInterface(cfg.Interface),
			afpacket.OptFrameSize(frameSize),
			afpacket.OptBlockSize(blockSize),
			afpacket.OptNumBlocks(numBlocks),
			afpacket.OptPollTimeout(cfg.AFPacket.PollTimeoutDuration()),
			afpacket.SocketRaw,
			afpacket.TPacketVersion3,
		)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("%w: open %s channel %d: %w", core.ErrAttachment, cfg.Interface, id, err)
		}
		if err := tp.SetBPF(filter); err != nil {
			tp.Close()
			closeAll()
			return nil, fmt.Errorf("%w: set filter on channel %d: %w", core.ErrAttachment, id, err)
		}
		if err := tp.SetFanout(afpacket.FanoutHashWithDefrag, cfg.AFPacket.FanoutID); err != nil {
			tp.Close()
			closeAll()
			return nil, fmt.Errorf("%w: join fanout group %#x on channel %d: %w", core.ErrAttachment, cfg.AFPacket.FanoutID, id, err)
		}
		channels = append(channels, &Channel{
			id:        id,
			handle:    tp,
			extractor: capture.NewExtractor(layers.LayerTypeEthernet),
		})
	}

	slog.Info("capture attached",
		"interface", cfg.Interface,
		"channels", count,
		"frame_size", frameSize,
		"block_size", blockSize,
		"num_blocks", numBlocks,
		"fanout_id", cfg.AFPacket.FanoutID)
	return channels, nil
}

// ID implements collector.Channel.
func (c *Channel) ID() int { return c.id }

// ReadEvents implements collector.Channel. It returns once bufs is full, or
// at the first poll timeout after something was read or dropped.
func (c *Channel) ReadEvents(ctx context.Context, bufs [][]byte) (collector.Events, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var ev collector.Events
	for ev.Read < len(bufs) {
		if c.closed.Load() {
			return ev, io.EOF
		}
		if err := ctx.Err(); err != nil {
			return ev, err
		}

		data, _, err := c.handle.ZeroCopyReadPacketData()
		if errors.Is(err, afpacket.ErrTimeout) {
			ev.Lost += c.lost()
			if ev.Read > 0 || ev.Lost > 0 {
				return ev, nil
			}
			continue
		}
		if err != nil {
			return ev, err
		}
		if c.extractor.Extract(data, bufs[ev.Read]) {
			ev.Read++
		}
	}
	ev.Lost += c.lost()
	return ev, nil
}

// lost returns the kernel drops since the previous call.
func (c *Channel) lost() int {
	_, v3, err := c.handle.SocketStats()
	if err != nil {
		return 0
	}
	drops := v3.Drops()
	n := int(drops - c.drops)
	c.drops = drops
	return n
}

// Close implements collector.Channel. It waits for an in-flight read to
// reach its poll timeout.
func (c *Channel) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handle.Close()
	return nil
}
