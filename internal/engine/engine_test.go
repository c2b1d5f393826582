// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/usagepulse/internal/config"
	"github.com/jeranaias/usagepulse/internal/model"
	"github.com/jeranaias/usagepulse/internal/transport"
)

// metricsServer serves one fresh event per request and counts requests.
func metricsServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		ev := model.MetricEvent{
			Timestamp:  time.Now().Add(time.Duration(n) * time.Millisecond),
			TenantID:   "Tenant 1",
			CustomerID: "Customer A",
			Metrics:    model.Metrics{TotalCalls: 1, TotalTokens: 100, TotalCost: 0.001, AvgLatencyMs: 120},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(model.MetricsResponse{Metrics: []model.MetricEvent{ev}, NextPollAfter: 2000})
	}))
	t.Cleanup(server.Close)
	return server, &hits
}

func newTestEngine(t *testing.T, baseURL string, cfg model.PollingConfig) *Engine {
	t.Helper()
	opts := DefaultOptions()
	opts.BaseURL = baseURL
	opts.Store.Config = cfg
	eng, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })
	return eng
}

func slowPolling() model.PollingConfig {
	return model.PollingConfig{Interval: time.Hour}
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestEngine_StartFetchesImmediately(t *testing.T) {
	server, hits := metricsServer(t)
	eng := newTestEngine(t, server.URL, slowPolling())

	require.NoError(t, eng.Start(context.Background()))
	require.Eventually(t, func() bool {
		return eng.Snapshot().Status.Status == model.StatusConnected
	}, 2*time.Second, 10*time.Millisecond)

	snap := eng.Snapshot()
	assert.Equal(t, 1, snap.BufferLen)
	assert.Equal(t, int64(100), snap.Aggregates.TotalTokens)
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, transport.StatePolling, eng.TransportState())
}

func TestEngine_StartPausedStaysIdle(t *testing.T) {
	server, hits := metricsServer(t)
	eng := newTestEngine(t, server.URL, model.PollingConfig{Interval: time.Second, IsPaused: true})

	require.NoError(t, eng.Start(context.Background()))
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, int32(0), hits.Load())
	assert.Equal(t, transport.StateIdle, eng.TransportState())
	assert.Equal(t, model.StatusDisconnected, eng.Snapshot().Status.Status)
}

func TestEngine_CloseIsIdempotent(t *testing.T) {
	server, _ := metricsServer(t)
	eng := newTestEngine(t, server.URL, slowPolling())
	require.NoError(t, eng.Start(context.Background()))

	require.NoError(t, eng.Close())
	require.NoError(t, eng.Close())
	assert.ErrorIs(t, eng.Start(context.Background()), transport.ErrClosed)
	assert.ErrorIs(t, eng.Pause(), transport.ErrClosed)
}

// =============================================================================
// CONFIG CHANGES
// =============================================================================

func TestEngine_UnchangedPatchDoesNotRebuild(t *testing.T) {
	server, hits := metricsServer(t)
	eng := newTestEngine(t, server.URL, slowPolling())
	require.NoError(t, eng.Start(context.Background()))
	require.Eventually(t, func() bool { return hits.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, eng.SetInterval(time.Hour))
	require.NoError(t, eng.SetStreaming(false))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), hits.Load())

	require.NoError(t, eng.SetInterval(30*time.Minute))
	require.Eventually(t, func() bool { return hits.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 30*time.Minute, eng.Config().Interval)
}

func TestEngine_RejectsShortInterval(t *testing.T) {
	server, _ := metricsServer(t)
	eng := newTestEngine(t, server.URL, slowPolling())

	err := eng.SetInterval(50 * time.Millisecond)
	assert.ErrorIs(t, err, ErrInvalidInterval)
	assert.Equal(t, time.Hour, eng.Config().Interval)

	require.NoError(t, eng.SetInterval(model.MinPollInterval))
	assert.Equal(t, model.MinPollInterval, eng.Config().Interval)
}

func TestEngine_NewRejectsShortInterval(t *testing.T) {
	opts := DefaultOptions()
	opts.Store.Config = model.PollingConfig{Interval: time.Millisecond}
	_, err := New(opts)
	assert.ErrorIs(t, err, ErrInvalidInterval)
}

func TestEngine_PauseResume(t *testing.T) {
	server, hits := metricsServer(t)
	eng := newTestEngine(t, server.URL, slowPolling())
	require.NoError(t, eng.Start(context.Background()))
	require.Eventually(t, func() bool { return hits.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, eng.Pause())
	assert.Equal(t, transport.StateIdle, eng.TransportState())
	assert.Equal(t, model.StatusDisconnected, eng.Snapshot().Status.Status)
	assert.True(t, eng.Config().IsPaused)

	require.NoError(t, eng.Resume())
	require.Eventually(t, func() bool { return hits.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, transport.StatePolling, eng.TransportState())
}

func TestEngine_ConfigBeforeStartIsStored(t *testing.T) {
	server, hits := metricsServer(t)
	eng := newTestEngine(t, server.URL, slowPolling())

	require.NoError(t, eng.Pause())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), hits.Load())
	assert.True(t, eng.Snapshot().Config.IsPaused)
}

// =============================================================================
// STATE COMMANDS
// =============================================================================

func TestEngine_ClearKeepsStatusAndConfig(t *testing.T) {
	server, _ := metricsServer(t)
	eng := newTestEngine(t, server.URL, slowPolling())
	require.NoError(t, eng.Start(context.Background()))
	require.Eventually(t, func() bool {
		return eng.Snapshot().Status.Status == model.StatusConnected
	}, 2*time.Second, 10*time.Millisecond)

	eng.ClearMetrics()

	snap := eng.Snapshot()
	assert.Equal(t, 0, snap.BufferLen)
	assert.Zero(t, snap.Aggregates.TotalTokens)
	assert.Empty(t, snap.Series)
	assert.Empty(t, snap.Anomalies)
	assert.Equal(t, model.StatusConnected, snap.Status.Status)
	assert.Equal(t, time.Hour, snap.Config.Interval)
}

func TestEngine_AcknowledgeUnknownAnomaly(t *testing.T) {
	eng := newTestEngine(t, "http://127.0.0.1:1", slowPolling())
	assert.False(t, eng.AcknowledgeAnomaly("nope"))
}

func TestEngine_SubscribeSignalsOnChange(t *testing.T) {
	eng := newTestEngine(t, "http://127.0.0.1:1", slowPolling())
	ch, unsubscribe := eng.Subscribe()
	defer unsubscribe()

	eng.ClearMetrics()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("no change signal")
	}
}

func TestEngine_VisibilityForwarded(t *testing.T) {
	eng := newTestEngine(t, "http://127.0.0.1:1", slowPolling())
	eng.SetVisible(false)
	assert.False(t, eng.manager.Visible())
	eng.SetVisible(true)
	assert.True(t, eng.manager.Visible())
}

// =============================================================================
// CONSTRUCTION
// =============================================================================

func TestNew_UnknownProtocol(t *testing.T) {
	opts := DefaultOptions()
	opts.StreamProtocol = "carrier-pigeon"
	_, err := New(opts)
	assert.Error(t, err)
}

func TestNew_RegistersInstruments(t *testing.T) {
	reg := prometheus.NewRegistry()
	opts := DefaultOptions()
	opts.Registerer = reg
	_, err := New(opts)
	require.NoError(t, err)

	// A second engine on the same registry reuses the collectors.
	_, err = New(opts)
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Source.BaseURL = "http://example.com:9000"
	cfg.Source.StreamProtocol = ProtocolWebSocket
	cfg.Polling.IntervalMs = 500
	cfg.Polling.UseStreaming = true
	cfg.Retry.MaxRetries = 3
	cfg.Window.BufferSize = 200

	opts := OptionsFromConfig(cfg)
	assert.Equal(t, "http://example.com:9000", opts.BaseURL)
	assert.Equal(t, ProtocolWebSocket, opts.StreamProtocol)
	assert.Equal(t, 500*time.Millisecond, opts.Store.Config.Interval)
	assert.True(t, opts.Store.Config.UseStreaming)
	assert.Equal(t, 3, opts.MaxRetries)
	assert.Equal(t, 200, opts.Store.BufferSize)
	assert.Equal(t, time.Second, opts.Backoff.Base)
	assert.Equal(t, 30*time.Second, opts.Backoff.Max)
	assert.Equal(t, 5*time.Minute, opts.Store.Window.Window)

	eng, err := New(opts)
	require.NoError(t, err)
	defer eng.Close()
	assert.Equal(t, 200, eng.Snapshot().BufferCap)
}
