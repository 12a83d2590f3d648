// Package tone maps observed addresses to synthesized voices.
package tone

import (
	"fmt"

	"firestige.xyz/netbeep/internal/core"
)

// Default audible band, the nominal edges of human hearing.
const (
	DefaultFreqMin = 31.0
	DefaultFreqMax = 19000.0

	// DefaultVoiceGain attenuates each of the four Multi voices so their sum
	// stays below unity.
	DefaultVoiceGain = 0.2
)

// Strategy names accepted by New.
const (
	StrategyMulti  = "multi"
	StrategySingle = "single"
)

// Range is a frequency band in Hz.
type Range struct {
	Min float64
	Max float64
}

// DefaultRange returns the 31 Hz to 19 kHz band.
func DefaultRange() Range {
	return Range{Min: DefaultFreqMin, Max: DefaultFreqMax}
}

// Freq scales b linearly into the band: 0 maps to Min, 255 to Max.
func (r Range) Freq(b byte) float64 {
	return float64(b)*(r.Max-r.Min)/255 + r.Min
}

// Mapper derives the voices of one address. Implementations must be pure.
type Mapper interface {
	Voices(addr [4]byte) []core.Voice
	// PeakGain is the largest possible sum of voice gains for one address.
	PeakGain() float64
}

// Single produces one voice from the last address byte.
type Single struct {
	Range Range
	Gain  float64
}

// Voices implements Mapper.
func (s Single) Voices(addr [4]byte) []core.Voice {
	return []core.Voice{{Freq: s.Range.Freq(addr[3]), Gain: s.Gain}}
}

// PeakGain implements Mapper.
func (s Single) PeakGain() float64 { return s.Gain }

// Multi produces one voice per address byte, each attenuated by Gain.
type Multi struct {
	Range Range
	Gain  float64
}

// Voices implements Mapper.
func (m Multi) Voices(addr [4]byte) []core.Voice {
	voices := make([]core.Voice, len(addr))
	for i, b := range addr {
		voices[i] = core.Voice{Freq: m.Range.Freq(b), Gain: m.Gain}
	}
	return voices
}

// PeakGain implements Mapper.
func (m Multi) PeakGain() float64 { return 4 * m.Gain }

// New builds the mapper for a strategy. Single ignores gain and plays at
// unity since it has only one voice per address.
func New(strategy string, r Range, gain float64) (Mapper, error) {
	if r.Min <= 0 || r.Max <= r.Min {
		return nil, fmt.Errorf("%w: frequency range %g..%g", core.ErrConfigInvalid, r.Min, r.Max)
	}
	switch strategy {
	case StrategyMulti, "":
		if gain <= 0 || gain*4 > 1 {
			return nil, fmt.Errorf("%w: multi voice gain %g would clip", core.ErrConfigInvalid, gain)
		}
		return Multi{Range: r, Gain: gain}, nil
	case StrategySingle:
		return Single{Range: r, Gain: 1}, nil
	default:
		return nil, fmt.Errorf("%w: unknown tone strategy %q", core.ErrConfigInvalid, strategy)
	}
}
