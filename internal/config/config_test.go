package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/netbeep/internal/core"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "afpacket", cfg.Capture.Source)
	assert.Equal(t, "eth0", cfg.Capture.Interface)
	assert.Equal(t, 0, cfg.Capture.Channels)
	assert.Equal(t, 10, cfg.Capture.BatchSize)
	assert.Equal(t, 100*time.Millisecond, cfg.Capture.AFPacket.PollTimeoutDuration())

	assert.Equal(t, "multi", cfg.Tone.Strategy)
	assert.Equal(t, 31.0, cfg.Tone.FreqMin)
	assert.Equal(t, 19000.0, cfg.Tone.FreqMax)
	assert.Equal(t, 0.2, cfg.Tone.VoiceGain)

	assert.Equal(t, 48000, cfg.Mixer.SampleRate)
	assert.Equal(t, 100*time.Millisecond, cfg.Mixer.Duration())

	assert.Equal(t, "oto", cfg.Sink.Type)
	assert.Equal(t, 2*time.Second, cfg.Sink.BufferDuration())
	assert.Equal(t, 50*time.Millisecond, cfg.Sink.Oto.DeviceBufferDuration())
	assert.Equal(t, 20*time.Millisecond, cfg.Sink.WAV.RenderIntervalDuration())

	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
netbeep:
  capture:
    source: pcap
    pcap_file: /tmp/trace.pcap
    batch_size: 32
  tone:
    strategy: single
    freq_min: 31
    freq_max: 10000
  mixer:
    sample_rate: 44100
    segment_duration: 50ms
  sink:
    type: wav
    wav:
      path: /tmp/out.wav
  metrics:
    enabled: true
    listen: 127.0.0.1:9999
  log:
    level: debug
    format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "pcap", cfg.Capture.Source)
	assert.Equal(t, "/tmp/trace.pcap", cfg.Capture.PcapFile)
	assert.Equal(t, 32, cfg.Capture.BatchSize)
	assert.Equal(t, "single", cfg.Tone.Strategy)
	assert.Equal(t, 10000.0, cfg.Tone.FreqMax)
	assert.Equal(t, 44100, cfg.Mixer.SampleRate)
	assert.Equal(t, 50*time.Millisecond, cfg.Mixer.Duration())
	assert.Equal(t, "wav", cfg.Sink.Type)
	assert.Equal(t, "/tmp/out.wav", cfg.Sink.WAV.Path)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "127.0.0.1:9999", cfg.Metrics.Listen)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("NETBEEP_CAPTURE_INTERFACE", "wlan0")
	t.Setenv("NETBEEP_TONE_STRATEGY", "single")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "wlan0", cfg.Capture.Interface)
	assert.Equal(t, "single", cfg.Tone.Strategy)
}

func TestReadSkipsValidation(t *testing.T) {
	path := writeConfig(t, "netbeep:\n  capture:\n    source: pcap\n")

	_, err := Load(path)
	require.ErrorIs(t, err, core.ErrConfigInvalid)

	cfg, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, "pcap", cfg.Capture.Source)
	assert.Empty(t, cfg.Capture.PcapFile)

	cfg.Capture.PcapFile = "trace.pcap"
	assert.NoError(t, cfg.ValidateAndApplyDefaults())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}

func TestLoadInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"log level", "netbeep:\n  log:\n    level: loud\n"},
		{"log format", "netbeep:\n  log:\n    format: xml\n"},
		{"capture source", "netbeep:\n  capture:\n    source: xdp\n"},
		{"pcap without file", "netbeep:\n  capture:\n    source: pcap\n"},
		{"batch size", "netbeep:\n  capture:\n    batch_size: 0\n"},
		{"negative channels", "netbeep:\n  capture:\n    channels: -1\n"},
		{"frame size", "netbeep:\n  capture:\n    afpacket:\n      frame_size: 1000\n"},
		{"block size", "netbeep:\n  capture:\n    afpacket:\n      frame_size: 4096\n      block_size_kb: 6\n"},
		{"tone strategy", "netbeep:\n  tone:\n    strategy: chord\n"},
		{"tone range", "netbeep:\n  tone:\n    freq_min: 500\n    freq_max: 100\n"},
		{"voice gain", "netbeep:\n  tone:\n    voice_gain: 2\n"},
		{"multi voice gain", "netbeep:\n  tone:\n    voice_gain: 0.5\n"},
		{"nyquist", "netbeep:\n  mixer:\n    sample_rate: 8000\n"},
		{"segment duration", "netbeep:\n  mixer:\n    segment_duration: soon\n"},
		{"sink type", "netbeep:\n  sink:\n    type: speaker\n"},
		{"sink buffer", "netbeep:\n  sink:\n    buffer: 10ms\n"},
		{"metrics listen", "netbeep:\n  metrics:\n    enabled: true\n    listen: \"\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.ErrorIs(t, err, core.ErrConfigInvalid)
		})
	}
}
