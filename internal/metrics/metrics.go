// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CaptureRecordsTotal counts decoded records delivered by each channel
	CaptureRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netbeep_capture_records_total",
			Help: "Total number of packet records decoded per capture channel",
		},
		[]string{"channel"},
	)

	// CaptureLostTotal counts records the producer dropped before they were read
	CaptureLostTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netbeep_capture_lost_total",
			Help: "Total number of records lost by the producer",
		},
		[]string{"channel"},
	)

	// CaptureEmptyPollsTotal counts polls that returned no usable record
	CaptureEmptyPollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netbeep_capture_empty_polls_total",
			Help: "Total number of channel polls retried because no valid record was read",
		},
		[]string{"channel"},
	)

	// DecodeMalformedTotal counts records rejected by the decoder
	DecodeMalformedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netbeep_decode_malformed_total",
			Help: "Total number of malformed records dropped",
		},
		[]string{"channel"},
	)

	// ChannelFailuresTotal counts workers stopped by a producer error
	ChannelFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netbeep_channel_failures_total",
			Help: "Total number of capture channel failures",
		},
		[]string{"channel"},
	)

	// SegmentsTotal counts segments submitted to the sink
	SegmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netbeep_segments_total",
			Help: "Total number of mixed segments emitted",
		},
		[]string{"channel"},
	)

	// SinkErrorsTotal counts segments the sink refused
	SinkErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netbeep_sink_errors_total",
			Help: "Total number of segments the audio sink failed to accept",
		},
		[]string{"channel"},
	)

	// MixLatencySeconds measures the time spent synthesizing one segment
	MixLatencySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "netbeep_mix_latency_seconds",
			Help:    "Latency of segment synthesis in seconds",
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 16), // 10µs to ~0.3s
		},
	)

	// BatchSize tracks the number of records per mixing cycle
	BatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "netbeep_batch_size",
			Help:    "Number of packet records per mixing cycle",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1, 2, 4, ..., 2048
		},
	)

	// WorkersActive tracks running dispatch workers
	WorkersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "netbeep_workers_active",
			Help: "Number of running dispatch workers",
		},
	)

	// SinkQueuedSeconds tracks audio queued in the mixing bus ahead of playback
	SinkQueuedSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "netbeep_sink_queued_seconds",
			Help: "Seconds of audio queued in the mixing bus",
		},
	)
)
