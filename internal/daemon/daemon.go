// Package daemon wires capture, mixing and playback into one process
// lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"firestige.xyz/netbeep/internal/capture/afpacket"
	"firestige.xyz/netbeep/internal/capture/replay"
	"firestige.xyz/netbeep/internal/collector"
	"firestige.xyz/netbeep/internal/config"
	"firestige.xyz/netbeep/internal/core"
	"firestige.xyz/netbeep/internal/dispatch"
	logpkg "firestige.xyz/netbeep/internal/log"
	"firestige.xyz/netbeep/internal/metrics"
	"firestige.xyz/netbeep/internal/mixer"
	"firestige.xyz/netbeep/internal/sink"
	"firestige.xyz/netbeep/internal/tone"
)

const statsInterval = 30 * time.Second

// Daemon manages the netbeep process lifecycle.
type Daemon struct {
	config  *config.Config
	pidFile string

	collectors    []*collector.Collector
	sink          sink.Sink
	mixer         *mixer.Mixer
	dispatcher    *dispatch.Dispatcher
	metricsServer *metrics.Server // nil if metrics disabled
}

// New creates a Daemon for a validated configuration. An empty pidFile
// disables the PID file.
func New(cfg *config.Config, pidFile string) *Daemon {
	return &Daemon{config: cfg, pidFile: pidFile}
}

// Start initializes every component. On error the components already
// started are stopped again and the error names the failing step.
func (d *Daemon) Start(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			d.Stop()
		}
	}()

	// 1. Initialize logging system
	if err := logpkg.Init(d.config.Log); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	slog.Info("starting netbeep",
		"source", d.config.Capture.Source,
		"sink", d.config.Sink.Type,
		"tone", d.config.Tone.Strategy)

	// 2. Write PID file
	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	// 3. Start metrics server
	if err := d.startMetrics(ctx); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// 4. Attach capture channels
	channels, err := d.attach()
	if err != nil {
		return fmt.Errorf("failed to attach capture: %w", err)
	}
	for _, ch := range channels {
		d.collectors = append(d.collectors, collector.New(ch, collector.Options{
			BatchSize: d.config.Capture.BatchSize,
			SlotSize:  core.SlotSize,
		}))
	}

	// 5. Build the mixer, one gain share per channel
	mapper, err := tone.New(d.config.Tone.Strategy,
		tone.Range{Min: d.config.Tone.FreqMin, Max: d.config.Tone.FreqMax}, d.config.Tone.VoiceGain)
	if err != nil {
		return fmt.Errorf("failed to build tone mapper: %w", err)
	}
	d.mixer = mixer.New(mixer.Options{
		SampleRate: d.config.Mixer.SampleRate,
		Duration:   d.config.Mixer.Duration(),
		Workers:    len(d.collectors),
		Mapper:     mapper,
	})

	// 6. Open the audio sink
	d.sink, err = sink.New(d.config.Sink, d.mixer.Format())
	if err != nil {
		return fmt.Errorf("failed to open %s sink: %w", d.config.Sink.Type, err)
	}

	// 7. Create dispatcher
	sources := make([]dispatch.Source, len(d.collectors))
	for i, c := range d.collectors {
		sources[i] = c
	}
	d.dispatcher, err = dispatch.New(dispatch.Config{
		Collectors: sources,
		Mixer:      d.mixer,
		Sink:       d.sink,
	})
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}

	slog.Info("netbeep started",
		"workers", len(d.collectors),
		"sample_rate", d.mixer.Format().SampleRate,
		"segment_samples", d.mixer.SegmentSamples(),
		"peak_bound", d.mixer.PeakBound())
	return nil
}

func (d *Daemon) attach() ([]collector.Channel, error) {
	switch d.config.Capture.Source {
	case "pcap":
		ch, err := replay.Open(d.config.Capture.PcapFile)
		if err != nil {
			return nil, err
		}
		return []collector.Channel{ch}, nil
	case "afpacket":
		return afpacket.Open(d.config.Capture)
	default:
		return nil, fmt.Errorf("%w: unsupported capture source %q", core.ErrAttachment, d.config.Capture.Source)
	}
}

// Run blocks until ctx is done or every capture channel has ended, then
// stops the daemon. When the channels ended on their own, audio already
// queued is played out first.
func (d *Daemon) Run(ctx context.Context) error {
	defer d.Stop()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer cancel()
		return d.dispatcher.Run(gctx)
	})
	g.Go(func() error {
		d.reportStats(gctx)
		return nil
	})
	err := g.Wait()

	if ctx.Err() != nil {
		slog.Info("received shutdown signal")
		return nil
	}
	d.drain(ctx)
	return err
}

func (d *Daemon) drain(ctx context.Context) {
	dr, ok := d.sink.(sink.Drainer)
	if !ok {
		return
	}
	timeout := d.config.Sink.BufferDuration() + time.Second
	drainCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	slog.Info("capture finished, playing out queued audio")
	if err := dr.Drain(drainCtx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("queued audio not fully played", "error", err)
	}
}

func (d *Daemon) reportStats(ctx context.Context) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, st := range d.dispatcher.Stats() {
				slog.Info("worker stats",
					"channel", st.Channel,
					"running", st.Running,
					"batches", st.Batches,
					"records", st.Records,
					"segments", st.Segments,
					"sink_errors", st.SinkErrors)
			}
		}
	}
}

// healthy reports an error unless at least one worker is running.
func (d *Daemon) healthy() error {
	for _, st := range d.Stats() {
		if st.Running {
			return nil
		}
	}
	return errors.New("no capture worker running")
}

// Stats returns per-worker statistics, or nil before Start.
func (d *Daemon) Stats() []dispatch.WorkerStats {
	if d.dispatcher == nil {
		return nil
	}
	return d.dispatcher.Stats()
}

// Stop releases every component. It is safe to call more than once.
func (d *Daemon) Stop() {
	slog.Info("initiating graceful shutdown")

	// 1. Detach capture (no new records)
	for _, c := range d.collectors {
		if err := c.Close(); err != nil {
			slog.Error("error closing capture channel", "channel", c.ID(), "error", err)
		}
	}
	d.collectors = nil

	// 2. Close the sink, flushing recorded audio
	if d.sink != nil {
		if err := d.sink.Close(); err != nil {
			slog.Error("error closing audio sink", "error", err)
		}
		d.sink = nil
	}

	// 3. Stop metrics server
	if d.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.metricsServer.Stop(shutdownCtx); err != nil {
			slog.Error("error stopping metrics server", "error", err)
		}
		d.metricsServer = nil
	}

	// 4. Remove PID file
	if err := d.removePIDFile(); err != nil {
		slog.Error("error removing PID file", "error", err)
	}

	slog.Info("netbeep stopped")
	if err := logpkg.Close(); err != nil {
		slog.Error("error closing log file", "error", err)
	}
}

// startMetrics starts the metrics HTTP server if enabled.
func (d *Daemon) startMetrics(ctx context.Context) error {
	if !d.config.Metrics.Enabled {
		slog.Debug("metrics server disabled")
		return nil
	}

	srv := metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path)
	srv.SetHealthCheck(d.healthy)
	if err := srv.Start(ctx); err != nil {
		return err
	}
	d.metricsServer = srv
	return nil
}

// writePIDFile writes the current process ID to the PID file.
func (d *Daemon) writePIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	pid := os.Getpid()
	data := []byte(strconv.Itoa(pid) + "\n")

	if err := os.WriteFile(d.pidFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", d.pidFile, err)
	}

	slog.Debug("PID file written", "path", d.pidFile, "pid", pid)
	return nil
}

// removePIDFile removes the PID file.
func (d *Daemon) removePIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file %s: %w", d.pidFile, err)
	}
	return nil
}
