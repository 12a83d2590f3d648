package sink

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"firestige.xyz/netbeep/internal/core"
)

const wavBitDepth = 16

// WAVSink records the mixing bus to a 16-bit PCM WAV file, draining it at
// real-time pace as a playback device would.
type WAVSink struct {
	bus      *Bus
	file     *os.File
	enc      *wav.Encoder
	interval time.Duration

	chunk []float32
	ints  *audio.IntBuffer

	stop chan struct{}
	done chan struct{}
	once sync.Once

	mu      sync.Mutex
	err     error
	written int64
}

// NewWAVSink creates path and starts the render loop.
func NewWAVSink(path string, format audio.Format, capacity, interval time.Duration) (*WAVSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("%w: create wav file: %w", core.ErrSinkFailure, err)
	}
	if interval <= 0 {
		interval = 20 * time.Millisecond
	}

	s := &WAVSink{
		bus:      NewBus(format, capacity),
		file:     f,
		enc:      wav.NewEncoder(f, format.SampleRate, wavBitDepth, format.NumChannels, 1),
		interval: interval,
		ints:     &audio.IntBuffer{Format: &audio.Format{NumChannels: format.NumChannels, SampleRate: format.SampleRate}, SourceBitDepth: wavBitDepth},
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.render()
	return s, nil
}

// Play implements Sink.
func (s *WAVSink) Play(ctx context.Context, lane int, seg *audio.Float32Buffer) error {
	if err := s.failure(); err != nil {
		return err
	}
	return s.bus.Submit(ctx, lane, seg)
}

// render drains as many samples as wall-clock time has elapsed.
func (s *WAVSink) render() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	format := s.bus.Format()
	perSecond := int64(format.SampleRate * format.NumChannels)
	start := time.Now()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			owed := int64(time.Since(start)) * perSecond / int64(time.Second)
			if err := s.write(int(owed - s.written)); err != nil {
				s.fail(err)
				return
			}
		}
	}
}

// write drains n samples from the bus into the encoder.
func (s *WAVSink) write(n int) error {
	for n > 0 {
		step := min(n, s.bus.Capacity())
		if cap(s.chunk) < step {
			s.chunk = make([]float32, step)
			s.ints.Data = make([]int, step)
		}
		chunk := s.chunk[:step]
		s.bus.ReadSamples(chunk)

		data := s.ints.Data[:step]
		for i, v := range chunk {
			data[i] = int(math.Round(float64(v) * math.MaxInt16))
		}
		s.ints.Data = data
		if err := s.enc.Write(s.ints); err != nil {
			return fmt.Errorf("%w: write wav: %w", core.ErrSinkFailure, err)
		}
		s.written += int64(step)
		n -= step
	}
	return nil
}

func (s *WAVSink) fail(err error) {
	slog.Error("wav sink failed", "error", err)
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.bus.Close()
}

func (s *WAVSink) failure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops rendering, writes out queued audio and finalizes the header.
func (s *WAVSink) Close() error {
	var err error
	s.once.Do(func() {
		s.bus.Close()
		close(s.stop)
		<-s.done

		if s.failure() == nil {
			err = s.write(s.bus.Queued())
		}
		if err == nil && s.written == 0 {
			// The encoder emits the RIFF header on first write.
			err = s.enc.Write(&audio.IntBuffer{Format: s.ints.Format, SourceBitDepth: wavBitDepth})
		}
		if encErr := s.enc.Close(); encErr != nil && err == nil {
			err = fmt.Errorf("finalize wav: %w", encErr)
		}
		if closeErr := s.file.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	})
	return err
}
