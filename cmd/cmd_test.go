package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"firestige.xyz/netbeep/internal/config"
	"firestige.xyz/netbeep/internal/core"
)

func TestPrintConfig_RoundTrips(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, printConfig(&buf, cfg))
	assert.Contains(t, buf.String(), "netbeep:")
	assert.Contains(t, buf.String(), "sample_rate: 48000")

	path := filepath.Join(t.TempDir(), "netbeep.yml")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
	reloaded, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, reloaded)
}

func TestPrintConfig_IsYAML(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, printConfig(&buf, cfg))
	var out map[string]map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &out))
	assert.Contains(t, out["netbeep"], "tone")
}

func TestRunValidate(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yml")
	require.NoError(t, os.WriteFile(good, []byte("netbeep:\n  tone:\n    strategy: single\n"), 0644))

	var buf bytes.Buffer
	require.NoError(t, runValidate(&buf, good))
	assert.Contains(t, buf.String(), "VALID: source afpacket, tone single")

	bad := filepath.Join(dir, "bad.yml")
	require.NoError(t, os.WriteFile(bad, []byte("netbeep:\n  sink:\n    type: speaker\n"), 0644))
	buf.Reset()
	err := runValidate(&buf, bad)
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
	assert.Contains(t, buf.String(), "INVALID")
}

func TestApplyFlags(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	require.NoError(t, rootCmd.ParseFlags([]string{"--pcap", "trace.pcap", "--wav-out", "trace.wav"}))
	applyFlags(rootCmd, cfg)

	assert.Equal(t, "pcap", cfg.Capture.Source)
	assert.Equal(t, "trace.pcap", cfg.Capture.PcapFile)
	assert.Equal(t, "wav", cfg.Sink.Type)
	assert.Equal(t, "trace.wav", cfg.Sink.WAV.Path)
	assert.Equal(t, "eth0", cfg.Capture.Interface, "unset flags keep the config value")
	assert.NoError(t, cfg.ValidateAndApplyDefaults())
}

func TestLoadConfig_FlagsCompleteEnvironment(t *testing.T) {
	t.Setenv("NETBEEP_CAPTURE_SOURCE", "pcap")

	require.NoError(t, rootCmd.ParseFlags([]string{"--pcap", "replay.pcap"}))
	cfg, err := loadConfig(rootCmd)
	require.NoError(t, err)
	assert.Equal(t, "pcap", cfg.Capture.Source)
	assert.Equal(t, "replay.pcap", cfg.Capture.PcapFile)
}
