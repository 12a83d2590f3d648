// Package log initialises structured logging using slog.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"firestige.xyz/netbeep/internal/config"
)

// fileOutput is the rotating log file opened by Init, if any.
var fileOutput *lumberjack.Logger

// Init initializes the global logger based on configuration. Every record
// carries the pid so interleaved files from restarts stay separable.
func Init(cfg config.LogConfig) error {
	// Collect all output writers; stdout is always included.
	writers := []io.Writer{os.Stdout}

	var file *lumberjack.Logger
	if cfg.Outputs.File.Enabled {
		w, err := createFileWriter(cfg.Outputs.File)
		if err != nil {
			return fmt.Errorf("failed to create file output: %w", err)
		}
		file = w
		writers = append(writers, w)
	}

	handler, err := newHandler(io.MultiWriter(writers...), cfg)
	if err != nil {
		return err
	}

	_ = Close()
	fileOutput = file
	slog.SetDefault(slog.New(handler).With("pid", os.Getpid()))
	return nil
}

// Close releases the log file opened by Init. Logging to stdout continues.
func Close() error {
	if fileOutput == nil {
		return nil
	}
	err := fileOutput.Close()
	fileOutput = nil
	return err
}

// newHandler builds the slog handler writing to w.
func newHandler(w io.Writer, cfg config.LogConfig) (slog.Handler, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	switch strings.ToLower(cfg.Format) {
	case "json":
		return slog.NewJSONHandler(w, opts), nil
	case "text":
		return slog.NewTextHandler(w, opts), nil
	default:
		return nil, fmt.Errorf("unsupported log format: %s (must be json or text)", cfg.Format)
	}
}

// parseLevel converts string level to slog.Level.
func parseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown level: %s", levelStr)
	}
}

// createFileWriter creates a lumberjack file writer for log rotation.
func createFileWriter(fc config.FileOutputConfig) (*lumberjack.Logger, error) {
	if fc.Path == "" {
		return nil, fmt.Errorf("file output requires 'path' field")
	}
	return &lumberjack.Logger{
		Filename:   fc.Path,
		MaxSize:    fc.Rotation.MaxSizeMB,
		MaxBackups: fc.Rotation.MaxBackups,
		MaxAge:     fc.Rotation.MaxAgeDays,
		Compress:   fc.Rotation.Compress,
	}, nil
}
