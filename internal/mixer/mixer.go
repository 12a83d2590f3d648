// Package mixer turns one batch of packet records into a bounded audio segment.
package mixer

import (
	"math"
	"slices"
	"time"

	"github.com/go-audio/audio"

	"firestige.xyz/netbeep/internal/core"
	"firestige.xyz/netbeep/internal/tone"
)

const (
	DefaultSampleRate = 48000
	DefaultDuration   = 100 * time.Millisecond
)

// Options configures a Mixer.
type Options struct {
	SampleRate int
	Duration   time.Duration
	// Workers is the number of collectors feeding the shared sink concurrently.
	Workers int
	Mapper  tone.Mapper
}

// Mixer synthesizes segments. It holds no per-call state and may be shared
// by all workers.
type Mixer struct {
	sampleRate int
	samples    int
	workers    int
	mapper     tone.Mapper
	format     *audio.Format
}

// New creates a mixer, filling zero options with defaults.
func New(opts Options) *Mixer {
	if opts.SampleRate <= 0 {
		opts.SampleRate = DefaultSampleRate
	}
	if opts.Duration <= 0 {
		opts.Duration = DefaultDuration
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Mapper == nil {
		opts.Mapper = tone.Multi{Range: tone.DefaultRange(), Gain: tone.DefaultVoiceGain}
	}
	samples := int(int64(opts.SampleRate) * int64(opts.Duration) / int64(time.Second))
	if samples < 1 {
		samples = 1
	}
	return &Mixer{
		sampleRate: opts.SampleRate,
		samples:    samples,
		workers:    opts.Workers,
		mapper:     opts.Mapper,
		format:     &audio.Format{NumChannels: 1, SampleRate: opts.SampleRate},
	}
}

// Format returns the PCM format of every segment.
func (m *Mixer) Format() audio.Format { return *m.format }

// SegmentSamples returns the fixed number of samples per segment.
func (m *Mixer) SegmentSamples() int { return m.samples }

// PeakBound is the largest absolute sample value Mix can produce.
func (m *Mixer) PeakBound() float64 {
	return m.mapper.PeakGain() / float64(m.workers)
}

// Gain returns the normalization applied to every voice of a batch of n packets.
func (m *Mixer) Gain(n int) float64 {
	return 1 / (float64(m.workers) * float64(max(1, n)))
}

// Mix sums the voices of every source address in batch into a fresh segment.
// Voices that cannot be rendered are left out. An empty batch yields silence.
func (m *Mixer) Mix(batch []core.PacketRecord) *audio.Float32Buffer {
	norm := m.Gain(len(batch))
	nyquist := float64(m.sampleRate) / 2

	// Frequencies derive from address bytes, so a batch holds at most a few
	// hundred distinct ones however large it is.
	gains := make(map[float64]float64)
	for _, rec := range batch {
		for _, v := range m.mapper.Voices(rec.Src.Addr) {
			if !renderable(v, nyquist) {
				continue
			}
			gains[v.Freq] += v.Gain * norm
		}
	}

	seg := &audio.Float32Buffer{
		Format:         m.format,
		Data:           make([]float32, m.samples),
		SourceBitDepth: 32,
	}

	freqs := make([]float64, 0, len(gains))
	for f := range gains {
		freqs = append(freqs, f)
	}
	slices.Sort(freqs)
	for _, f := range freqs {
		m.addSine(seg.Data, f, gains[f])
	}
	return seg
}

// addSine accumulates gain*sin(2πf·n/sr) into data by rotating a phasor.
func (m *Mixer) addSine(data []float32, freq, gain float64) {
	step := 2 * math.Pi * freq / float64(m.sampleRate)
	rotSin, rotCos := math.Sincos(step)
	s, c := 0.0, 1.0
	for n := range data {
		data[n] += float32(gain * s)
		s, c = s*rotCos+c*rotSin, c*rotCos-s*rotSin
		// Renormalize periodically to keep the phasor on the unit circle.
		if n&1023 == 1023 {
			k := 1 / math.Hypot(s, c)
			s, c = s*k, c*k
		}
	}
}

func renderable(v core.Voice, nyquist float64) bool {
	if math.IsNaN(v.Freq) || math.IsInf(v.Freq, 0) || v.Freq <= 0 || v.Freq >= nyquist {
		return false
	}
	return !math.IsNaN(v.Gain) && !math.IsInf(v.Gain, 0) && v.Gain > 0
}
