// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolateHome points the config directory at a temp dir.
func isolateHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	return home
}

// =============================================================================
// DEFAULTS AND VALIDATION
// =============================================================================

func TestConfig_Default(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "http://localhost:3001", cfg.Source.BaseURL)
	assert.Equal(t, "sse", cfg.Source.StreamProtocol)
	assert.Equal(t, 2*time.Second, cfg.Polling.Interval())
	assert.False(t, cfg.Polling.Paused)
	assert.False(t, cfg.Polling.UseStreaming)
	assert.Equal(t, 5, cfg.Retry.MaxRetries)
	assert.Equal(t, time.Second, cfg.Retry.BaseDelay())
	assert.Equal(t, 30*time.Second, cfg.Retry.MaxDelay())
	assert.Equal(t, 1000, cfg.Window.BufferSize)
	assert.Equal(t, 5*time.Minute, cfg.Window.Window())
	assert.Equal(t, 5*time.Second, cfg.Window.BucketWidth())
	assert.Equal(t, 60, cfg.Window.MaxBuckets)
	assert.Equal(t, 50, cfg.Window.MaxAnomalies)
	assert.Equal(t, 50*time.Millisecond, cfg.Server.Tick())
	assert.Equal(t, 200*time.Millisecond, cfg.Server.MaxLatency())
	assert.Equal(t, 10000, cfg.Server.Retention)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantField string
	}{
		{name: "valid default config", mutate: func(c *Config) {}},
		{name: "empty base url", mutate: func(c *Config) { c.Source.BaseURL = "" }, wantField: "source.base_url"},
		{name: "bad scheme", mutate: func(c *Config) { c.Source.BaseURL = "ftp://host" }, wantField: "source.base_url"},
		{name: "unknown protocol", mutate: func(c *Config) { c.Source.StreamProtocol = "grpc" }, wantField: "source.stream_protocol"},
		{name: "relative path", mutate: func(c *Config) { c.Source.MetricsPath = "api/metrics" }, wantField: "source.metrics_path"},
		{name: "interval too short", mutate: func(c *Config) { c.Polling.IntervalMs = 99 }, wantField: "polling.interval_ms"},
		{name: "interval at minimum", mutate: func(c *Config) { c.Polling.IntervalMs = 100 }},
		{name: "zero retries", mutate: func(c *Config) { c.Retry.MaxRetries = 0 }, wantField: "retry.max_retries"},
		{name: "max below base", mutate: func(c *Config) { c.Retry.MaxDelayMs = 10 }, wantField: "retry.max_delay_ms"},
		{name: "zero buffer", mutate: func(c *Config) { c.Window.BufferSize = 0 }, wantField: "window.buffer_size"},
		{name: "factor not above one", mutate: func(c *Config) { c.Window.AnomalyFactor = 1 }, wantField: "window.anomaly_factor"},
		{name: "error rate above one", mutate: func(c *Config) { c.Server.ErrorRate = 1.5 }, wantField: "server.error_rate"},
		{name: "bad log level", mutate: func(c *Config) { c.Log.Level = "loud" }, wantField: "log.level"},
		{name: "invalid theme", mutate: func(c *Config) { c.UI.Theme = "neon" }, wantField: "ui.theme"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var verrs ValidateErrors
			require.ErrorAs(t, err, &verrs)
			assert.Equal(t, tt.wantField, verrs[0].Field)
		})
	}
}

func TestConfig_ValidateCollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Polling.IntervalMs = 1
	cfg.UI.Theme = "neon"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Len(t, err.(ValidateErrors), 2)
	assert.Contains(t, err.Error(), "; ")
}

func TestConfig_Migrate(t *testing.T) {
	cfg := Default()
	cfg.Source.StreamProtocol = "WS"
	cfg.Source.BaseURL = "http://localhost:3001/"
	cfg.Log.Level = "Warning"

	require.NoError(t, cfg.Migrate())
	assert.Equal(t, "websocket", cfg.Source.StreamProtocol)
	assert.Equal(t, "http://localhost:3001", cfg.Source.BaseURL)
	assert.Equal(t, "warn", cfg.Log.Level)
}

// =============================================================================
// LOAD AND SAVE
// =============================================================================

func TestConfig_LoadDefaultsWithoutFile(t *testing.T) {
	isolateHome(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default().Polling, cfg.Polling)
}

func TestConfig_SaveAndLoadTOML(t *testing.T) {
	home := isolateHome(t)

	cfg := Default()
	cfg.Polling.IntervalMs = 5000
	cfg.Polling.UseStreaming = true
	cfg.Source.StreamProtocol = "websocket"
	require.NoError(t, Save(cfg))

	path := filepath.Join(home, ".usagepulse", "config.toml")
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# usagepulse configuration file")
	assert.Contains(t, string(data), "[polling]")

	loaded, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5000, loaded.Polling.IntervalMs)
	assert.True(t, loaded.Polling.UseStreaming)
	assert.Equal(t, "websocket", loaded.Source.StreamProtocol)
}

func TestConfig_LoadFromPathPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.toml")
	require.NoError(t, os.WriteFile(path, []byte("[polling]\ninterval_ms = 750\n"), 0644))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, 750, cfg.Polling.IntervalMs)
	assert.Equal(t, "http://localhost:3001", cfg.Source.BaseURL)
	assert.Equal(t, 1000, cfg.Window.BufferSize)

	// Permissions are tightened on load.
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestConfig_LoadFromPathJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := Default()
	cfg.Retry.MaxRetries = 3
	require.NoError(t, SaveJSON(cfg, path))

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Retry.MaxRetries)
}

func TestConfig_LoadFromPathRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[polling]\ninterval_ms = 10\n"), 0600))

	_, err := LoadFromPath(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "polling.interval_ms")
}

func TestConfig_LoadReportsBrokenFile(t *testing.T) {
	home := isolateHome(t)
	dir := filepath.Join(home, ".usagepulse")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte("not = [valid"), 0600))

	cfg, err := Load()
	require.Error(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, Default().Polling, cfg.Polling)
}

func TestConfig_EnvOverrides(t *testing.T) {
	isolateHome(t)
	t.Setenv("USAGEPULSE_BASE_URL", "http://metrics.internal:8080")
	t.Setenv("USAGEPULSE_INTERVAL_MS", "1500")
	t.Setenv("USAGEPULSE_STREAMING", "true")
	t.Setenv("USAGEPULSE_STREAM_PROTOCOL", "ws")
	t.Setenv("USAGEPULSE_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "http://metrics.internal:8080", cfg.Source.BaseURL)
	assert.Equal(t, 1500, cfg.Polling.IntervalMs)
	assert.True(t, cfg.Polling.UseStreaming)
	assert.Equal(t, "websocket", cfg.Source.StreamProtocol)
	assert.Equal(t, "debug", cfg.Log.Level)
}

// =============================================================================
// GET / SET
// =============================================================================

func TestConfig_GetSet(t *testing.T) {
	cfg := Default()

	val, err := cfg.Get("polling.interval_ms")
	require.NoError(t, err)
	assert.Equal(t, 2000, val)

	require.NoError(t, cfg.Set("polling.interval_ms", "500"))
	require.NoError(t, cfg.Set("polling.use_streaming", "yes"))
	require.NoError(t, cfg.Set("window.anomaly_factor", "3.5"))
	require.NoError(t, cfg.Set("source.stream-protocol", "websocket"))
	require.NoError(t, cfg.Set("retry.max_retries", 7))

	assert.Equal(t, 500, cfg.Polling.IntervalMs)
	assert.True(t, cfg.Polling.UseStreaming)
	assert.Equal(t, 3.5, cfg.Window.AnomalyFactor)
	assert.Equal(t, "websocket", cfg.Source.StreamProtocol)
	assert.Equal(t, 7, cfg.Retry.MaxRetries)
}

func TestConfig_GetSetErrors(t *testing.T) {
	cfg := Default()

	_, err := cfg.Get("invalid.key")
	assert.Error(t, err)

	_, err = cfg.Get("polling")
	assert.Error(t, err)

	_, err = cfg.Get("")
	assert.Error(t, err)

	assert.Error(t, cfg.Set("polling.interval_ms", "fast"))
	assert.Error(t, cfg.Set("polling.interval_ms", nil))
	assert.Error(t, cfg.Set("version.minor", "1"))
}

func TestGetAllKeys(t *testing.T) {
	keys := GetAllKeys()
	assert.Contains(t, keys, "version")
	assert.Contains(t, keys, "source.base_url")
	assert.Contains(t, keys, "polling.interval_ms")
	assert.Contains(t, keys, "window.anomaly_factor")
	assert.Contains(t, keys, "server.history_db")

	cfg := Default()
	for _, key := range keys {
		_, err := cfg.Get(key)
		assert.NoError(t, err, key)
	}
}

func TestConfig_Clone(t *testing.T) {
	original := Default()
	clone := original.Clone()
	clone.Polling.IntervalMs = 9999

	assert.Equal(t, 2000, original.Polling.IntervalMs)
}

func TestPollingConfig_ToModel(t *testing.T) {
	p := PollingConfig{IntervalMs: 250, Paused: true, UseStreaming: true}
	m := p.ToModel()
	assert.Equal(t, 250*time.Millisecond, m.Interval)
	assert.True(t, m.IsPaused)
	assert.True(t, m.UseStreaming)
}

// =============================================================================
// WATCHER
// =============================================================================

func TestWatcher_ReloadsOnSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, SaveTOML(Default(), path))

	changes := make(chan *Config, 4)
	w, err := NewWatcher(path, func(c *Config) { changes <- c }, nil)
	require.NoError(t, err)
	w.SetDebounce(20 * time.Millisecond)
	require.NoError(t, w.Watch())
	defer w.Close()

	cfg := Default()
	cfg.Polling.Paused = true
	require.NoError(t, SaveTOML(cfg, path))

	select {
	case got := <-changes:
		assert.True(t, got.Polling.Paused)
	case <-time.After(3 * time.Second):
		t.Fatal("no reload after save")
	}
}

func TestWatcher_IgnoresInvalidAndOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, SaveTOML(Default(), path))

	changes := make(chan *Config, 4)
	w, err := NewWatcher(path, func(c *Config) { changes <- c }, nil)
	require.NoError(t, err)
	w.SetDebounce(20 * time.Millisecond)
	require.NoError(t, w.Watch())
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.toml"), []byte("x = 1"), 0600))
	require.NoError(t, os.WriteFile(path, []byte("[polling]\ninterval_ms = 1\n"), 0600))

	select {
	case <-changes:
		t.Fatal("invalid config should not be delivered")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcher_CloseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	w, err := NewWatcher(path, nil, nil)
	require.NoError(t, err)
	require.NoError(t, w.Watch())
	assert.NoError(t, w.Close())
	assert.NoError(t, w.Close())
}
