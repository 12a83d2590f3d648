// Package sink implements the shared audio output every worker submits to.
package sink

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/go-audio/audio"

	"firestige.xyz/netbeep/internal/config"
	"firestige.xyz/netbeep/internal/core"
)

// Sink accepts mixed segments from concurrent workers. Lane identifies the
// submitting worker.
type Sink interface {
	Play(ctx context.Context, lane int, seg *audio.Float32Buffer) error
	Close() error
}

// Drainer is implemented by sinks that play queued audio in real time and
// can be waited on before Close.
type Drainer interface {
	Drain(ctx context.Context) error
}

// New builds the sink selected by cfg for segments of the given format.
func New(cfg config.SinkConfig, format audio.Format) (Sink, error) {
	switch cfg.Type {
	case "oto":
		return NewOtoSink(format, cfg.BufferDuration(), cfg.Oto.DeviceBufferDuration())
	case "wav":
		return NewWAVSink(cfg.WAV.Path, format, cfg.BufferDuration(), cfg.WAV.RenderIntervalDuration())
	case "discard":
		return &Discard{}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported sink type %q", core.ErrConfigInvalid, cfg.Type)
	}
}

// Discard accepts and counts segments.
type Discard struct {
	segments atomic.Uint64
	samples  atomic.Uint64
}

// Play implements Sink.
func (d *Discard) Play(ctx context.Context, lane int, seg *audio.Float32Buffer) error {
	if seg == nil {
		return fmt.Errorf("%w: nil segment", core.ErrSinkFailure)
	}
	d.segments.Add(1)
	d.samples.Add(uint64(len(seg.Data)))
	return nil
}

// Close implements Sink.
func (d *Discard) Close() error { return nil }

// Segments returns the number of accepted segments.
func (d *Discard) Segments() uint64 { return d.segments.Load() }

// Samples returns the number of accepted samples.
func (d *Discard) Samples() uint64 { return d.samples.Load() }
