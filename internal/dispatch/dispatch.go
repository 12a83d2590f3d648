// Package dispatch runs one mixing worker per capture channel.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"firestige.xyz/netbeep/internal/collector"
	"firestige.xyz/netbeep/internal/core"
	"firestige.xyz/netbeep/internal/metrics"
	"firestige.xyz/netbeep/internal/mixer"
	"firestige.xyz/netbeep/internal/sink"
)

// Source yields batches of decoded records. *collector.Collector satisfies it.
type Source interface {
	ID() int
	NextBatch(ctx context.Context) ([]core.PacketRecord, error)
}

// Config wires a Dispatcher.
type Config struct {
	Collectors []Source
	Mixer      *mixer.Mixer
	Sink       sink.Sink
}

// WorkerStats is a snapshot of one worker.
type WorkerStats struct {
	Lane       int
	Channel    int
	Running    bool
	Batches    uint64
	Records    uint64
	Segments   uint64
	SinkErrors uint64
	Err        error // set when the channel failed
}

// Dispatcher owns the workers. Run may be called once.
type Dispatcher struct {
	mixer   *mixer.Mixer
	sink    sink.Sink
	workers []*worker
}

type worker struct {
	lane  int
	src   Source
	label string

	running    atomic.Bool
	batches    atomic.Uint64
	records    atomic.Uint64
	segments   atomic.Uint64
	sinkErrors atomic.Uint64

	mu  sync.Mutex
	err error
}

// New validates cfg. Each collector gets its own sink lane.
func New(cfg Config) (*Dispatcher, error) {
	if len(cfg.Collectors) == 0 {
		return nil, fmt.Errorf("%w: no capture channels", core.ErrConfigInvalid)
	}
	if cfg.Mixer == nil {
		return nil, fmt.Errorf("%w: mixer is required", core.ErrConfigInvalid)
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("%w: sink is required", core.ErrConfigInvalid)
	}

	d := &Dispatcher{mixer: cfg.Mixer, sink: cfg.Sink}
	for lane, src := range cfg.Collectors {
		d.workers = append(d.workers, &worker{
			lane:  lane,
			src:   src,
			label: strconv.Itoa(src.ID()),
		})
	}
	return d, nil
}

// Run starts the workers and blocks until ctx is done or every worker has
// ended. All workers have exited when it returns.
//
// A cancelled ctx or exhausted channels yield nil; otherwise the channel
// failures are returned joined.
func (d *Dispatcher) Run(ctx context.Context) error {
	slog.Info("dispatcher starting", "workers", len(d.workers))

	var wg sync.WaitGroup
	errs := make([]error, len(d.workers))
	for i, w := range d.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = d.work(ctx, w)
		}()
	}
	wg.Wait()

	slog.Info("dispatcher stopped")
	if ctx.Err() != nil {
		return nil
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) work(ctx context.Context, w *worker) error {
	w.running.Store(true)
	metrics.WorkersActive.Inc()
	defer func() {
		w.running.Store(false)
		metrics.WorkersActive.Dec()
	}()

	slog.Debug("worker started", "lane", w.lane, "channel", w.label)
	failing := false
	for {
		batch, err := w.src.NextBatch(ctx)
		switch {
		case ctx.Err() != nil:
			slog.Debug("worker stopped", "lane", w.lane, "channel", w.label)
			return nil
		case errors.Is(err, collector.ErrClosed):
			slog.Info("capture channel closed", "channel", w.label)
			return nil
		case err != nil:
			w.fail(err)
			metrics.ChannelFailuresTotal.WithLabelValues(w.label).Inc()
			slog.Error("capture channel failed", "channel", w.label, "error", err)
			return err
		}
		w.batches.Add(1)
		w.records.Add(uint64(len(batch)))

		start := time.Now()
		seg := d.mixer.Mix(batch)
		metrics.MixLatencySeconds.Observe(time.Since(start).Seconds())
		metrics.BatchSize.Observe(float64(len(batch)))

		if err := d.sink.Play(ctx, w.lane, seg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.sinkErrors.Add(1)
			metrics.SinkErrorsTotal.WithLabelValues(w.label).Inc()
			// Only the first of a run of failures is worth an error line.
			if !failing {
				slog.Error("audio sink rejected segment", "channel", w.label, "error", err)
			} else {
				slog.Debug("audio sink rejected segment", "channel", w.label, "error", err)
			}
			failing = true
			continue
		}
		if failing {
			slog.Info("audio sink recovered", "channel", w.label)
			failing = false
		}
		w.segments.Add(1)
		metrics.SegmentsTotal.WithLabelValues(w.label).Inc()
	}
}

func (w *worker) fail(err error) {
	w.mu.Lock()
	w.err = err
	w.mu.Unlock()
}

// Stats returns one snapshot per worker, in lane order.
func (d *Dispatcher) Stats() []WorkerStats {
	out := make([]WorkerStats, 0, len(d.workers))
	for _, w := range d.workers {
		w.mu.Lock()
		err := w.err
		w.mu.Unlock()
		out = append(out, WorkerStats{
			Lane:       w.lane,
			Channel:    w.src.ID(),
			Running:    w.running.Load(),
			Batches:    w.batches.Load(),
			Records:    w.records.Load(),
			Segments:   w.segments.Load(),
			SinkErrors: w.sinkErrors.Load(),
			Err:        err,
		})
	}
	return out
}
