package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerExposesMetrics(t *testing.T) {
	SegmentsTotal.WithLabelValues("0").Inc()

	s := NewServer("127.0.0.1:0", "")
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	resp, err := http.Get("http://" + s.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "netbeep_segments_total")
}

func TestServerStartFailsOnBusyAddress(t *testing.T) {
	first := NewServer("127.0.0.1:0", "/metrics")
	require.NoError(t, first.Start(context.Background()))
	defer first.Stop(context.Background())

	second := NewServer(first.Addr(), "/metrics")
	assert.Error(t, second.Start(context.Background()))
}

func TestStopBeforeStart(t *testing.T) {
	assert.NoError(t, NewServer(":0", "").Stop(context.Background()))
}

func TestServerHealthCheck(t *testing.T) {
	var failing atomic.Bool
	s := NewServer("127.0.0.1:0", "")
	s.SetHealthCheck(func() error {
		if failing.Load() {
			return errors.New("no workers running")
		}
		return nil
	})
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	resp, err := http.Get("http://" + s.Addr() + HealthPath)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok\n", string(body))

	failing.Store(true)
	resp, err = http.Get("http://" + s.Addr() + HealthPath)
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, string(body), "no workers running")
}
