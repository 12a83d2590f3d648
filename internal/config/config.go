// Package config handles configuration loading using viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"firestige.xyz/netbeep/internal/core"
)

// Config represents the top-level configuration.
// Maps to the `netbeep:` root key in YAML.
type Config struct {
	Capture CaptureConfig `mapstructure:"capture" yaml:"capture"`
	Tone    ToneConfig    `mapstructure:"tone" yaml:"tone"`
	Mixer   MixerConfig   `mapstructure:"mixer" yaml:"mixer"`
	Sink    SinkConfig    `mapstructure:"sink" yaml:"sink"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
}

// ─── Capture ───

// CaptureConfig selects the record producer and the collector batch shape.
type CaptureConfig struct {
	Source    string         `mapstructure:"source" yaml:"source"`       // afpacket | pcap
	Interface string         `mapstructure:"interface" yaml:"interface"` // afpacket only
	Channels  int            `mapstructure:"channels" yaml:"channels"`   // 0 = one per online CPU
	BatchSize int            `mapstructure:"batch_size" yaml:"batch_size"`
	PcapFile  string         `mapstructure:"pcap_file" yaml:"pcap_file"` // pcap only
	AFPacket  AFPacketConfig `mapstructure:"afpacket" yaml:"afpacket"`
}

// AFPacketConfig configures the TPACKET_V3 ring of each capture channel.
type AFPacketConfig struct {
	FrameSize   int    `mapstructure:"frame_size" yaml:"frame_size"`
	BlockSizeKB int    `mapstructure:"block_size_kb" yaml:"block_size_kb"`
	NumBlocks   int    `mapstructure:"num_blocks" yaml:"num_blocks"`
	PollTimeout string `mapstructure:"poll_timeout" yaml:"poll_timeout"`
	FanoutID    uint16 `mapstructure:"fanout_id" yaml:"fanout_id"`
}

// ─── Tone ───

// ToneConfig configures address → voice mapping.
type ToneConfig struct {
	Strategy  string  `mapstructure:"strategy" yaml:"strategy"` // multi | single
	FreqMin   float64 `mapstructure:"freq_min" yaml:"freq_min"`
	FreqMax   float64 `mapstructure:"freq_max" yaml:"freq_max"`
	VoiceGain float64 `mapstructure:"voice_gain" yaml:"voice_gain"`
}

// ─── Mixer ───

// MixerConfig configures segment synthesis.
type MixerConfig struct {
	SampleRate      int    `mapstructure:"sample_rate" yaml:"sample_rate"`
	SegmentDuration string `mapstructure:"segment_duration" yaml:"segment_duration"`
}

// ─── Sink ───

// SinkConfig selects and configures the shared audio sink.
type SinkConfig struct {
	Type   string        `mapstructure:"type" yaml:"type"`     // oto | wav | discard
	Buffer string        `mapstructure:"buffer" yaml:"buffer"` // mixing bus capacity
	Oto    OtoSinkConfig `mapstructure:"oto" yaml:"oto"`
	WAV    WAVSinkConfig `mapstructure:"wav" yaml:"wav"`
}

// OtoSinkConfig configures the playback device buffer.
type OtoSinkConfig struct {
	DeviceBuffer string `mapstructure:"device_buffer" yaml:"device_buffer"`
}

// WAVSinkConfig configures the WAV recorder.
type WAVSinkConfig struct {
	Path           string `mapstructure:"path" yaml:"path"`
	RenderInterval string `mapstructure:"render_interval" yaml:"render_interval"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level" yaml:"level"`   // debug / info / warn / error
	Format  string           `mapstructure:"format" yaml:"format"` // json / text
	Outputs LogOutputsConfig `mapstructure:"outputs" yaml:"outputs"`
}

// LogOutputsConfig contains structured log output destinations.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file" yaml:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled" yaml:"enabled"`
	Path     string         `mapstructure:"path" yaml:"path"`
	Rotation RotationConfig `mapstructure:"rotation" yaml:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days" yaml:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups"`
	Compress   bool `mapstructure:"compress" yaml:"compress"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `netbeep: ...`.
type configRoot struct {
	Netbeep Config `mapstructure:"netbeep"`
}

// Load loads and validates configuration from file. An empty path yields
// defaults plus environment overrides (e.g. NETBEEP_CAPTURE_INTERFACE).
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Read is Load without validation, for callers that apply further
// overrides before calling ValidateAndApplyDefaults.
func Read(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Key "netbeep.capture.interface" maps to env "NETBEEP_CAPTURE_INTERFACE".
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Netbeep
	return &cfg, nil
}

// setDefaults sets default values for configuration.
// All keys use "netbeep." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Capture defaults
	v.SetDefault("netbeep.capture.source", "afpacket")
	v.SetDefault("netbeep.capture.interface", "eth0")
	v.SetDefault("netbeep.capture.channels", 0)
	v.SetDefault("netbeep.capture.batch_size", 10)
	v.SetDefault("netbeep.capture.afpacket.frame_size", 2048)
	v.SetDefault("netbeep.capture.afpacket.block_size_kb", 1024)
	v.SetDefault("netbeep.capture.afpacket.num_blocks", 4)
	v.SetDefault("netbeep.capture.afpacket.poll_timeout", "100ms")
	v.SetDefault("netbeep.capture.afpacket.fanout_id", 0x6265)

	// Tone defaults
	v.SetDefault("netbeep.tone.strategy", "multi")
	v.SetDefault("netbeep.tone.freq_min", 31.0)
	v.SetDefault("netbeep.tone.freq_max", 19000.0)
	v.SetDefault("netbeep.tone.voice_gain", 0.2)

	// Mixer defaults
	v.SetDefault("netbeep.mixer.sample_rate", 48000)
	v.SetDefault("netbeep.mixer.segment_duration", "100ms")

	// Sink defaults
	v.SetDefault("netbeep.sink.type", "oto")
	v.SetDefault("netbeep.sink.buffer", "2s")
	v.SetDefault("netbeep.sink.oto.device_buffer", "50ms")
	v.SetDefault("netbeep.sink.wav.path", "netbeep.wav")
	v.SetDefault("netbeep.sink.wav.render_interval", "20ms")

	// Metrics defaults
	v.SetDefault("netbeep.metrics.enabled", false)
	v.SetDefault("netbeep.metrics.listen", ":9091")
	v.SetDefault("netbeep.metrics.path", "/metrics")

	// Log defaults
	v.SetDefault("netbeep.log.level", "info")
	v.SetDefault("netbeep.log.format", "text")
	v.SetDefault("netbeep.log.outputs.file.enabled", false)
	v.SetDefault("netbeep.log.outputs.file.path", "/var/log/netbeep/netbeep.log")
	v.SetDefault("netbeep.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("netbeep.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("netbeep.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("netbeep.log.outputs.file.rotation.compress", true)
}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
func (cfg *Config) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return invalid("invalid log level: %s (must be debug/info/warn/error)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return invalid("invalid log format: %s (must be json/text)", cfg.Log.Format)
	}

	// ── Capture validation ──
	switch cfg.Capture.Source {
	case "afpacket":
		if cfg.Capture.Interface == "" {
			return invalid("capture.interface is required for afpacket source")
		}
		if err := cfg.Capture.AFPacket.validate(); err != nil {
			return err
		}
	case "pcap":
		if cfg.Capture.PcapFile == "" {
			return invalid("capture.pcap_file is required for pcap source")
		}
	default:
		return invalid("unsupported capture.source: %s (must be afpacket/pcap)", cfg.Capture.Source)
	}
	if cfg.Capture.Channels < 0 {
		return invalid("capture.channels must be >= 0, got %d", cfg.Capture.Channels)
	}
	if cfg.Capture.BatchSize <= 0 {
		return invalid("capture.batch_size must be > 0, got %d", cfg.Capture.BatchSize)
	}

	// ── Tone validation ──
	if cfg.Tone.Strategy != "multi" && cfg.Tone.Strategy != "single" {
		return invalid("invalid tone.strategy: %s (must be multi/single)", cfg.Tone.Strategy)
	}
	if cfg.Tone.FreqMin <= 0 || cfg.Tone.FreqMax <= cfg.Tone.FreqMin {
		return invalid("tone frequency range must satisfy 0 < freq_min < freq_max, got %g..%g",
			cfg.Tone.FreqMin, cfg.Tone.FreqMax)
	}
	if cfg.Tone.VoiceGain <= 0 || cfg.Tone.VoiceGain > 1 {
		return invalid("tone.voice_gain must be in (0, 1], got %g", cfg.Tone.VoiceGain)
	}
	if cfg.Tone.Strategy == "multi" && cfg.Tone.VoiceGain*4 > 1 {
		return invalid("tone.voice_gain %g clips when four voices are summed (max 0.25)", cfg.Tone.VoiceGain)
	}

	// ── Mixer validation ──
	if cfg.Mixer.SampleRate <= 0 {
		return invalid("mixer.sample_rate must be > 0, got %d", cfg.Mixer.SampleRate)
	}
	if cfg.Tone.FreqMax >= float64(cfg.Mixer.SampleRate)/2 {
		return invalid("tone.freq_max %g must be below the Nyquist frequency of mixer.sample_rate %d",
			cfg.Tone.FreqMax, cfg.Mixer.SampleRate)
	}
	segment, err := positiveDuration("mixer.segment_duration", cfg.Mixer.SegmentDuration)
	if err != nil {
		return err
	}

	// ── Sink validation ──
	switch cfg.Sink.Type {
	case "oto":
		if _, err := positiveDuration("sink.oto.device_buffer", cfg.Sink.Oto.DeviceBuffer); err != nil {
			return err
		}
	case "wav":
		if cfg.Sink.WAV.Path == "" {
			return invalid("sink.wav.path is required for wav sink")
		}
		if _, err := positiveDuration("sink.wav.render_interval", cfg.Sink.WAV.RenderInterval); err != nil {
			return err
		}
	case "discard":
	default:
		return invalid("unsupported sink.type: %s (must be oto/wav/discard)", cfg.Sink.Type)
	}
	buffer, err := positiveDuration("sink.buffer", cfg.Sink.Buffer)
	if err != nil {
		return err
	}
	if buffer < segment {
		return invalid("sink.buffer %s must hold at least one segment of %s", buffer, segment)
	}

	// ── Metrics ──
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return invalid("metrics.listen is required when metrics.enabled=true")
	}

	return nil
}

func (c *AFPacketConfig) validate() error {
	if c.FrameSize <= 0 || c.FrameSize%16 != 0 {
		return invalid("capture.afpacket.frame_size must be a positive multiple of 16, got %d", c.FrameSize)
	}
	if c.BlockSizeKB <= 0 || (c.BlockSizeKB*1024)%c.FrameSize != 0 {
		return invalid("capture.afpacket.block_size_kb must be a positive multiple of frame_size, got %dKB", c.BlockSizeKB)
	}
	if c.NumBlocks <= 0 {
		return invalid("capture.afpacket.num_blocks must be > 0, got %d", c.NumBlocks)
	}
	if _, err := positiveDuration("capture.afpacket.poll_timeout", c.PollTimeout); err != nil {
		return err
	}
	return nil
}

// Duration returns the parsed mixer segment duration.
func (c MixerConfig) Duration() time.Duration {
	return parseDuration(c.SegmentDuration)
}

// BufferDuration returns the parsed mixing bus capacity.
func (c SinkConfig) BufferDuration() time.Duration {
	return parseDuration(c.Buffer)
}

// DeviceBufferDuration returns the parsed playback device buffer.
func (c OtoSinkConfig) DeviceBufferDuration() time.Duration {
	return parseDuration(c.DeviceBuffer)
}

// RenderIntervalDuration returns the parsed WAV render interval.
func (c WAVSinkConfig) RenderIntervalDuration() time.Duration {
	return parseDuration(c.RenderInterval)
}

// PollTimeoutDuration returns the parsed AF_PACKET poll timeout.
func (c AFPacketConfig) PollTimeoutDuration() time.Duration {
	return parseDuration(c.PollTimeout)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", core.ErrConfigInvalid, fmt.Sprintf(format, args...))
}

func positiveDuration(key, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, invalid("%s: %v", key, err)
	}
	if d <= 0 {
		return 0, invalid("%s must be > 0, got %s", key, value)
	}
	return d, nil
}

// parseDuration parses a duration already accepted by ValidateAndApplyDefaults.
func parseDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}
