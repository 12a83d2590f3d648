package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/go-audio/audio"

	"firestige.xyz/netbeep/internal/core"
)

// OtoSink plays the mixing bus on the default audio device.
type OtoSink struct {
	bus    *Bus
	ctx    *oto.Context
	player *oto.Player
}

// NewOtoSink opens the audio device. Only one oto context may exist per
// process.
func NewOtoSink(format audio.Format, capacity, deviceBuffer time.Duration) (*OtoSink, error) {
	op := &oto.NewContextOptions{
		SampleRate:   format.SampleRate,
		ChannelCount: format.NumChannels,
		Format:       oto.FormatFloat32LE,
		BufferSize:   deviceBuffer,
	}

	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("%w: open audio device: %w", core.ErrSinkFailure, err)
	}
	<-ready

	bus := NewBus(format, capacity)
	player := ctx.NewPlayer(bus)
	player.Play()

	return &OtoSink{
		bus:    bus,
		ctx:    ctx,
		player: player,
	}, nil
}

// Play implements Sink.
func (s *OtoSink) Play(ctx context.Context, lane int, seg *audio.Float32Buffer) error {
	return s.bus.Submit(ctx, lane, seg)
}

// Drain waits until everything submitted so far has been handed to the
// device, or ctx is done.
func (s *OtoSink) Drain(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for s.bus.Queued() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Close stops playback. Audio still queued is discarded.
func (s *OtoSink) Close() error {
	s.bus.Close()
	if err := s.player.Close(); err != nil {
		return fmt.Errorf("close player: %w", err)
	}
	return nil
}
