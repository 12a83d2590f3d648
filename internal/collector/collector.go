// Package collector bridges one capture channel into batches of decoded records.
package collector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync/atomic"

	"firestige.xyz/netbeep/internal/core"
	"firestige.xyz/netbeep/internal/core/decoder"
	"firestige.xyz/netbeep/internal/metrics"
)

// DefaultBatchSize is the number of slots requested per poll.
const DefaultBatchSize = 10

// ErrClosed is returned by NextBatch once the channel has no more records.
var ErrClosed = errors.New("netbeep: capture channel closed")

// Events is the outcome of one poll.
type Events struct {
	Read int // slots filled, starting at index 0
	Lost int // records dropped by the producer since the previous poll
}

// Channel is one parallel capture channel.
type Channel interface {
	// ID identifies the channel, typically the CPU it is bound to.
	ID() int
	// ReadEvents fills up to len(bufs) slots. It blocks until at least one
	// slot is filled or a drop is reported, ctx is done, the channel is
	// closed (io.EOF) or it fails.
	ReadEvents(ctx context.Context, bufs [][]byte) (Events, error)
	Close() error
}

// Options configures a Collector.
type Options struct {
	BatchSize int
	SlotSize  int
}

// Stats is a snapshot of collector counters.
type Stats struct {
	Polls      uint64
	EmptyPolls uint64
	Records    uint64
	Lost       uint64
	Malformed  uint64
}

// Collector owns the scratch buffers of one channel. It is not safe for
// concurrent use; each worker has its own.
type Collector struct {
	ch       Channel
	label    string
	slotSize int
	backing  []byte
	slots    [][]byte
	batch    []core.PacketRecord

	polls      atomic.Uint64
	emptyPolls atomic.Uint64
	records    atomic.Uint64
	lost       atomic.Uint64
	malformed  atomic.Uint64
}

// New allocates the scratch slots for ch.
func New(ch Channel, opts Options) *Collector {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.SlotSize <= 0 {
		opts.SlotSize = core.SlotSize
	}

	c := &Collector{
		ch:       ch,
		label:    strconv.Itoa(ch.ID()),
		slotSize: opts.SlotSize,
		backing:  make([]byte, opts.BatchSize*opts.SlotSize),
		slots:    make([][]byte, opts.BatchSize),
		batch:    make([]core.PacketRecord, 0, opts.BatchSize),
	}
	c.reset()
	return c
}

// reset zero-fills the backing array and restores every slot to its full
// width, undoing any reslicing done by the producer.
func (c *Collector) reset() {
	clear(c.backing)
	for i := range c.slots {
		off := i * c.slotSize
		c.slots[i] = c.backing[off : off+c.slotSize : off+c.slotSize]
	}
}

// ID returns the channel id.
func (c *Collector) ID() int { return c.ch.ID() }

// Close closes the underlying channel.
func (c *Collector) Close() error { return c.ch.Close() }

// NextBatch blocks until the channel yields at least one valid record.
// The returned slice is only valid until the next call.
//
// Errors: ctx.Err() when ctx is done, ErrClosed when the channel is
// exhausted, core.ErrChannelFailure for any producer error.
func (c *Collector) NextBatch(ctx context.Context) ([]core.PacketRecord, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		c.reset()
		ev, err := c.ch.ReadEvents(ctx, c.slots)
		c.polls.Add(1)
		c.recordLost(ev.Lost)
		if err != nil {
			return nil, c.classify(ctx, err)
		}

		batch, malformed := decoder.DecodeBatch(c.slots, ev.Read, c.batch[:0])
		if malformed > 0 {
			c.malformed.Add(uint64(malformed))
			metrics.DecodeMalformedTotal.WithLabelValues(c.label).Add(float64(malformed))
			slog.Debug("malformed records dropped", "channel", c.label, "count", malformed)
		}

		if len(batch) == 0 {
			c.emptyPolls.Add(1)
			metrics.CaptureEmptyPollsTotal.WithLabelValues(c.label).Inc()
			continue
		}

		c.batch = batch
		c.records.Add(uint64(len(batch)))
		metrics.CaptureRecordsTotal.WithLabelValues(c.label).Add(float64(len(batch)))
		return batch, nil
	}
}

// Stats returns collector statistics.
func (c *Collector) Stats() Stats {
	return Stats{
		Polls:      c.polls.Load(),
		EmptyPolls: c.emptyPolls.Load(),
		Records:    c.records.Load(),
		Lost:       c.lost.Load(),
		Malformed:  c.malformed.Load(),
	}
}

func (c *Collector) recordLost(n int) {
	if n <= 0 {
		return
	}
	c.lost.Add(uint64(n))
	metrics.CaptureLostTotal.WithLabelValues(c.label).Add(float64(n))
	slog.Debug("producer dropped records", "channel", c.label, "lost", n)
}

func (c *Collector) classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, io.EOF) || errors.Is(err, ErrClosed) {
		return ErrClosed
	}
	return fmt.Errorf("%w: channel %s: %w", core.ErrChannelFailure, c.label, err)
}
