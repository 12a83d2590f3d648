package sink

import (
	"context"
	"encoding/binary"
	"io"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/netbeep/internal/core"
)

var testFormat = audio.Format{NumChannels: 1, SampleRate: 1000}

func constSegment(n int, v float32) *audio.Float32Buffer {
	data := make([]float32, n)
	for i := range data {
		data[i] = v
	}
	f := testFormat
	return &audio.Float32Buffer{Format: &f, Data: data, SourceBitDepth: 32}
}

func TestBusCapacity(t *testing.T) {
	assert.Equal(t, 1000, NewBus(testFormat, time.Second).Capacity())
	assert.Equal(t, 200, NewBus(testFormat, 200*time.Millisecond).Capacity())
}

func TestBusLanesOverlap(t *testing.T) {
	b := NewBus(testFormat, time.Second)
	ctx := context.Background()
	require.NoError(t, b.Submit(ctx, 0, constSegment(100, 0.1)))
	require.NoError(t, b.Submit(ctx, 1, constSegment(100, 0.2)))
	assert.Equal(t, 100, b.Queued())

	out := make([]float32, 100)
	b.ReadSamples(out)
	for _, s := range out {
		assert.InDelta(t, 0.3, s, 1e-6)
	}
	assert.Zero(t, b.Queued())
}

func TestBusLaneSegmentsPlayBackToBack(t *testing.T) {
	b := NewBus(testFormat, time.Second)
	ctx := context.Background()
	require.NoError(t, b.Submit(ctx, 0, constSegment(100, 0.1)))
	require.NoError(t, b.Submit(ctx, 0, constSegment(100, 0.5)))
	assert.Equal(t, 200, b.Queued())

	out := make([]float32, 200)
	b.ReadSamples(out)
	for i, s := range out {
		if i < 100 {
			assert.InDelta(t, 0.1, s, 1e-6)
		} else {
			assert.InDelta(t, 0.5, s, 1e-6)
		}
	}
}

func TestBusIdleLaneStartsAtReadPosition(t *testing.T) {
	b := NewBus(testFormat, time.Second)
	ctx := context.Background()
	require.NoError(t, b.Submit(ctx, 0, constSegment(10, 0.5)))
	b.ReadSamples(make([]float32, 50))

	require.NoError(t, b.Submit(ctx, 0, constSegment(10, 0.25)))
	assert.Equal(t, 10, b.Queued())
	out := make([]float32, 10)
	b.ReadSamples(out)
	assert.InDelta(t, 0.25, out[0], 1e-6)
}

func TestBusReadsSilenceWhenEmpty(t *testing.T) {
	b := NewBus(testFormat, time.Second)
	out := []float32{1, 1, 1}
	assert.Equal(t, 3, b.ReadSamples(out))
	assert.Equal(t, []float32{0, 0, 0}, out)
}

func TestBusClampsOutput(t *testing.T) {
	b := NewBus(testFormat, time.Second)
	ctx := context.Background()
	require.NoError(t, b.Submit(ctx, 0, constSegment(5, 0.8)))
	require.NoError(t, b.Submit(ctx, 1, constSegment(5, 0.8)))
	require.NoError(t, b.Submit(ctx, 2, constSegment(5, -0.1)))

	out := make([]float32, 5)
	b.ReadSamples(out)
	for _, s := range out {
		assert.Equal(t, float32(1), s)
	}
}

func TestBusReadEncodesFloat32LE(t *testing.T) {
	b := NewBus(testFormat, time.Second)
	require.NoError(t, b.Submit(context.Background(), 0, constSegment(4, -0.5)))

	p := make([]byte, 16)
	n, err := b.Read(p)
	require.NoError(t, err)
	assert.Equal(t, 16, n)
	for i := 0; i < 4; i++ {
		assert.Equal(t, float32(-0.5), math.Float32frombits(binary.LittleEndian.Uint32(p[i*4:])))
	}
}

func TestBusSubmitWaitsForRoom(t *testing.T) {
	b := NewBus(testFormat, 200*time.Millisecond)
	ctx := context.Background()
	require.NoError(t, b.Submit(ctx, 0, constSegment(150, 0.1)))

	done := make(chan error, 1)
	go func() { done <- b.Submit(ctx, 0, constSegment(150, 0.2)) }()

	select {
	case <-done:
		t.Fatal("submit should wait while the ring is full")
	case <-time.After(50 * time.Millisecond):
	}

	b.ReadSamples(make([]float32, 100))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("submit did not resume after the reader freed room")
	}
	assert.Equal(t, 200, b.Queued())
}

func TestBusSubmitCancelled(t *testing.T) {
	b := NewBus(testFormat, 200*time.Millisecond)
	require.NoError(t, b.Submit(context.Background(), 0, constSegment(200, 0.1)))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := b.Submit(ctx, 0, constSegment(10, 0.1))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBusClose(t *testing.T) {
	b := NewBus(testFormat, 200*time.Millisecond)
	ctx := context.Background()
	require.NoError(t, b.Submit(ctx, 0, constSegment(200, 0.1)))

	blocked := make(chan error, 1)
	go func() { blocked <- b.Submit(ctx, 0, constSegment(10, 0.1)) }()
	time.Sleep(10 * time.Millisecond)
	b.Close()

	select {
	case err := <-blocked:
		assert.ErrorIs(t, err, core.ErrSinkFailure)
	case <-time.After(time.Second):
		t.Fatal("close did not wake blocked submitter")
	}
	assert.ErrorIs(t, b.Submit(ctx, 1, constSegment(1, 0)), core.ErrSinkFailure)

	p := make([]byte, 800)
	n, err := b.Read(p)
	require.NoError(t, err)
	assert.Equal(t, 800, n)
	_, err = b.Read(p)
	assert.ErrorIs(t, err, io.EOF)
	b.Close()
}

func TestBusRejectsBadSegments(t *testing.T) {
	b := NewBus(testFormat, 100*time.Millisecond)
	ctx := context.Background()

	assert.ErrorIs(t, b.Submit(ctx, 0, nil), core.ErrSinkFailure)
	assert.ErrorIs(t, b.Submit(ctx, 0, &audio.Float32Buffer{Data: []float32{0}}), core.ErrSinkFailure)
	assert.ErrorIs(t, b.Submit(ctx, 0, constSegment(101, 0)), core.ErrSinkFailure)

	stereo := &audio.Float32Buffer{Format: &audio.Format{NumChannels: 2, SampleRate: 1000}, Data: []float32{0, 0}}
	assert.ErrorIs(t, b.Submit(ctx, 0, stereo), core.ErrSinkFailure)
	other := &audio.Float32Buffer{Format: &audio.Format{NumChannels: 1, SampleRate: 48000}, Data: []float32{0}}
	assert.ErrorIs(t, b.Submit(ctx, 0, other), core.ErrSinkFailure)
}

func TestBusConcurrentLanes(t *testing.T) {
	const lanes, segments, size = 8, 10, 10
	b := NewBus(testFormat, time.Second)

	var wg sync.WaitGroup
	for lane := 0; lane < lanes; lane++ {
		wg.Add(1)
		go func(lane int) {
			defer wg.Done()
			for i := 0; i < segments; i++ {
				assert.NoError(t, b.Submit(context.Background(), lane, constSegment(size, 0.01)))
			}
		}(lane)
	}
	wg.Wait()

	require.Equal(t, segments*size, b.Queued())
	out := make([]float32, segments*size)
	b.ReadSamples(out)
	for _, s := range out {
		assert.InDelta(t, 0.08, s, 1e-5)
	}
}
