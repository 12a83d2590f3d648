package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/netbeep/internal/config"
)

func TestParseLevelValid(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			level, err := parseLevel(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, level)
		})
	}
}

func TestParseLevelInvalid(t *testing.T) {
	for _, input := range []string{"invalid", "trace", ""} {
		_, err := parseLevel(input)
		assert.Error(t, err, input)
	}
}

func TestNewHandlerJSON(t *testing.T) {
	var buf bytes.Buffer
	h, err := newHandler(&buf, config.LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)

	logger := slog.New(h)
	logger.Debug("hidden")
	logger.Info("worker started", "channel", 3)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "worker started", entry["msg"])
	assert.Equal(t, float64(3), entry["channel"])
}

func TestNewHandlerText(t *testing.T) {
	var buf bytes.Buffer
	h, err := newHandler(&buf, config.LogConfig{Level: "debug", Format: "text"})
	require.NoError(t, err)

	slog.New(h).Debug("records lost", "lost", 5)
	assert.Contains(t, buf.String(), "records lost")
	assert.Contains(t, buf.String(), "lost=5")
}

func TestNewHandlerUnsupportedFormat(t *testing.T) {
	_, err := newHandler(&bytes.Buffer{}, config.LogConfig{Level: "info", Format: "xml"})
	assert.Error(t, err)
}

func TestInitWithFileOutput(t *testing.T) {
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })

	logPath := filepath.Join(t.TempDir(), "netbeep.log")
	cfg := config.LogConfig{
		Level:  "info",
		Format: "text",
		Outputs: config.LogOutputsConfig{
			File: config.FileOutputConfig{
				Enabled: true,
				Path:    logPath,
				Rotation: config.RotationConfig{
					MaxSizeMB:  1,
					MaxBackups: 1,
				},
			},
		},
	}
	require.NoError(t, Init(cfg))

	slog.Info("file output check")

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "file output check")
}

func TestInitFileOutputRequiresPath(t *testing.T) {
	cfg := config.LogConfig{
		Level:  "info",
		Format: "text",
		Outputs: config.LogOutputsConfig{
			File: config.FileOutputConfig{Enabled: true},
		},
	}
	assert.Error(t, Init(cfg))
}

func TestCloseReleasesFileOutput(t *testing.T) {
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })

	logPath := filepath.Join(t.TempDir(), "netbeep.log")
	cfg := config.LogConfig{
		Level:  "info",
		Format: "json",
		Outputs: config.LogOutputsConfig{
			File: config.FileOutputConfig{Enabled: true, Path: logPath},
		},
	}
	require.NoError(t, Init(cfg))
	slog.Info("before close")
	require.NoError(t, Close())
	assert.Nil(t, fileOutput)
	assert.NoError(t, Close())

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &entry))
	assert.Equal(t, "before close", entry["msg"])
	assert.Equal(t, float64(os.Getpid()), entry["pid"])
}
