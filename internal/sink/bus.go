package sink

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/go-audio/audio"

	"firestige.xyz/netbeep/internal/core"
	"firestige.xyz/netbeep/internal/metrics"
)

// Bus is a ring-buffer mixing accumulator shared by all workers.
//
// Positions are absolute sample indexes. Each lane keeps a write cursor, so
// one lane's segments play back to back while segments of different lanes
// overlap in time and are summed. The reader drains the ring in real time.
type Bus struct {
	mu      sync.Mutex
	format  audio.Format
	ring    []float32
	readPos int64
	lanes   map[int]int64
	room    chan struct{} // closed when the reader frees space
	closed  bool
}

// NewBus creates a bus holding up to capacity of audio.
func NewBus(format audio.Format, capacity time.Duration) *Bus {
	n := int(int64(format.SampleRate) * int64(format.NumChannels) * int64(capacity) / int64(time.Second))
	if n < 1 {
		n = 1
	}
	return &Bus{
		format: format,
		ring:   make([]float32, n),
		lanes:  make(map[int]int64),
		room:   make(chan struct{}),
	}
}

// Format returns the PCM format the bus accepts.
func (b *Bus) Format() audio.Format { return b.format }

// Capacity returns the ring size in samples.
func (b *Bus) Capacity() int { return len(b.ring) }

// Submit mixes seg into the ring after the previous segment of lane. It
// waits while the ring has no room for it.
func (b *Bus) Submit(ctx context.Context, lane int, seg *audio.Float32Buffer) error {
	if err := b.check(seg); err != nil {
		return err
	}
	n := int64(len(seg.Data))

	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return fmt.Errorf("%w: bus closed", core.ErrSinkFailure)
		}
		start := max(b.lanes[lane], b.readPos)
		if start+n-b.readPos <= int64(len(b.ring)) {
			size := int64(len(b.ring))
			for i, s := range seg.Data {
				b.ring[(start+int64(i))%size] += s
			}
			b.lanes[lane] = start + n
			b.publishQueued()
			b.mu.Unlock()
			return nil
		}
		room := b.room
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-room:
		}
	}
}

func (b *Bus) check(seg *audio.Float32Buffer) error {
	if seg == nil || seg.Format == nil {
		return fmt.Errorf("%w: segment without format", core.ErrSinkFailure)
	}
	if seg.Format.SampleRate != b.format.SampleRate || seg.Format.NumChannels != b.format.NumChannels {
		return fmt.Errorf("%w: segment format %dHz/%dch, bus expects %dHz/%dch", core.ErrSinkFailure,
			seg.Format.SampleRate, seg.Format.NumChannels, b.format.SampleRate, b.format.NumChannels)
	}
	if len(seg.Data) > len(b.ring) {
		return fmt.Errorf("%w: segment of %d samples exceeds bus capacity %d", core.ErrSinkFailure,
			len(seg.Data), len(b.ring))
	}
	return nil
}

// ReadSamples drains len(dst) samples, clamped to [-1, 1]. Positions nothing
// was mixed into read as silence. It never blocks.
func (b *Bus) ReadSamples(dst []float32) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.drain(len(dst), func(i int, s float32) { dst[i] = s })
	return len(dst)
}

// Read implements io.Reader with float32 little-endian samples. Once the bus
// is closed and drained it returns io.EOF.
func (b *Bus) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed && b.queued() == 0 {
		return 0, io.EOF
	}
	n := len(p) / 4
	b.drain(n, func(i int, s float32) {
		binary.LittleEndian.PutUint32(p[i*4:], math.Float32bits(s))
	})
	return n * 4, nil
}

// drain must be called with mu held.
func (b *Bus) drain(n int, emit func(i int, s float32)) {
	if n == 0 {
		return
	}
	size := int64(len(b.ring))
	for i := 0; i < n; i++ {
		idx := b.readPos % size
		s := b.ring[idx]
		b.ring[idx] = 0
		b.readPos++
		emit(i, min(1, max(-1, s)))
	}
	close(b.room)
	b.room = make(chan struct{})
	b.publishQueued()
}

// Queued returns the number of samples mixed in but not yet read.
func (b *Bus) Queued() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queued()
}

func (b *Bus) queued() int {
	var end int64
	for _, cursor := range b.lanes {
		end = max(end, cursor)
	}
	return int(max(0, end-b.readPos))
}

func (b *Bus) publishQueued() {
	perSecond := float64(b.format.SampleRate * b.format.NumChannels)
	metrics.SinkQueuedSeconds.Set(float64(b.queued()) / perSecond)
}

// Close rejects further submissions and wakes blocked submitters. Queued
// audio stays readable.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.room)
	b.room = make(chan struct{})
}
