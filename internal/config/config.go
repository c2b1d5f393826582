// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/usagepulse/internal/model"
	"github.com/jeranaias/usagepulse/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete usagepulse configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	// Event source the client ingests from
	Source SourceConfig `toml:"source" json:"source"`

	// Initial polling config; runtime changes live in the engine
	Polling PollingConfig `toml:"polling" json:"polling"`

	// Retry and backoff policy
	Retry RetryConfig `toml:"retry" json:"retry"`

	// Buffer, window and anomaly sizing
	Window WindowConfig `toml:"window" json:"window"`

	// Synthetic event source (usagepulse serve)
	Server ServerConfig `toml:"server" json:"server"`

	Log LogConfig `toml:"log" json:"log"`
	UI  UIConfig  `toml:"ui" json:"ui"`
}

// SourceConfig describes where events come from.
type SourceConfig struct {
	// BaseURL is the event source address
	BaseURL string `toml:"base_url" json:"base_url"`

	// StreamProtocol selects the push channel: "sse" or "websocket"
	StreamProtocol string `toml:"stream_protocol" json:"stream_protocol"`

	MetricsPath string `toml:"metrics_path" json:"metrics_path"`
	StreamPath  string `toml:"stream_path" json:"stream_path"`
	WSPath      string `toml:"ws_path" json:"ws_path"`

	// RequestTimeoutMs bounds one polling request
	RequestTimeoutMs int `toml:"request_timeout_ms" json:"request_timeout_ms"`
}

// RequestTimeout returns the request timeout as a duration.
func (s SourceConfig) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutMs) * time.Millisecond
}

// PollingConfig holds the polling settings applied at startup.
type PollingConfig struct {
	IntervalMs   int  `toml:"interval_ms" json:"interval_ms"`
	Paused       bool `toml:"paused" json:"paused"`
	UseStreaming bool `toml:"use_streaming" json:"use_streaming"`
}

// Interval returns the polling interval as a duration.
func (p PollingConfig) Interval() time.Duration {
	return time.Duration(p.IntervalMs) * time.Millisecond
}

// RetryConfig holds the failure retry policy.
type RetryConfig struct {
	MaxRetries  int `toml:"max_retries" json:"max_retries"`
	BaseDelayMs int `toml:"base_delay_ms" json:"base_delay_ms"`
	MaxDelayMs  int `toml:"max_delay_ms" json:"max_delay_ms"`
}

// BaseDelay returns the first backoff delay.
func (r RetryConfig) BaseDelay() time.Duration {
	return time.Duration(r.BaseDelayMs) * time.Millisecond
}

// MaxDelay returns the backoff ceiling.
func (r RetryConfig) MaxDelay() time.Duration {
	return time.Duration(r.MaxDelayMs) * time.Millisecond
}

// WindowConfig sizes the buffer, the aggregation window and the anomaly log.
type WindowConfig struct {
	BufferSize    int     `toml:"buffer_size" json:"buffer_size"`
	WindowSecs    int     `toml:"window_secs" json:"window_secs"`
	BucketSecs    int     `toml:"bucket_secs" json:"bucket_secs"`
	MaxBuckets    int     `toml:"max_buckets" json:"max_buckets"`
	MaxAnomalies  int     `toml:"max_anomalies" json:"max_anomalies"`
	AnomalyFactor float64 `toml:"anomaly_factor" json:"anomaly_factor"`
	TopCustomers  int     `toml:"top_customers" json:"top_customers"`
}

// Window returns the aggregation window length.
func (w WindowConfig) Window() time.Duration {
	return time.Duration(w.WindowSecs) * time.Second
}

// BucketWidth returns the series bucket width.
func (w WindowConfig) BucketWidth() time.Duration {
	return time.Duration(w.BucketSecs) * time.Second
}

// ServerConfig configures the synthetic event source.
type ServerConfig struct {
	Addr string `toml:"addr" json:"addr"`

	// HistoryDB is the SQLite file backing /api/metrics/history; empty keeps
	// history in memory only
	HistoryDB string `toml:"history_db" json:"history_db"`

	TickMs        int     `toml:"tick_ms" json:"tick_ms"`
	ErrorRate     float64 `toml:"error_rate" json:"error_rate"`
	MaxLatencyMs  int     `toml:"max_latency_ms" json:"max_latency_ms"`
	MalformedRate float64 `toml:"malformed_rate" json:"malformed_rate"`
	Retention     int     `toml:"retention" json:"retention"`

	// Per-client request rate limit (requests per second, burst)
	RateLimit float64 `toml:"rate_limit" json:"rate_limit"`
	RateBurst int     `toml:"rate_burst" json:"rate_burst"`
}

// Tick returns the generator tick.
func (s ServerConfig) Tick() time.Duration {
	return time.Duration(s.TickMs) * time.Millisecond
}

// MaxLatency returns the injected latency ceiling.
func (s ServerConfig) MaxLatency() time.Duration {
	return time.Duration(s.MaxLatencyMs) * time.Millisecond
}

// LogConfig controls logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `toml:"level" json:"level"`

	// File receives interactive-mode logs; empty selects the default path
	File string `toml:"file" json:"file"`
}

// UIConfig contains dashboard preferences.
type UIConfig struct {
	// Theme is "dark", "light" or "auto"
	Theme string `toml:"theme" json:"theme"`

	// Compact hides the top customers table
	Compact bool `toml:"compact" json:"compact"`
}

// ToModel converts the polling section to the runtime polling config.
func (p PollingConfig) ToModel() model.PollingConfig {
	return model.PollingConfig{
		Interval:     p.Interval(),
		IsPaused:     p.Paused,
		UseStreaming: p.UseStreaming,
	}
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a new Config with sensible defaults.
func Default() *Config {
	return &Config{
		Version: "1",
		Source: SourceConfig{
			BaseURL:          "http://localhost:3001",
			StreamProtocol:   "sse",
			MetricsPath:      "/api/metrics",
			StreamPath:       "/api/stream",
			WSPath:           "/api/ws",
			RequestTimeoutMs: 10000,
		},
		Polling: PollingConfig{
			IntervalMs:   2000,
			Paused:       false,
			UseStreaming: false,
		},
		Retry: RetryConfig{
			MaxRetries:  5,
			BaseDelayMs: 1000,
			MaxDelayMs:  30000,
		},
		Window: WindowConfig{
			BufferSize:    1000,
			WindowSecs:    300,
			BucketSecs:    5,
			MaxBuckets:    60,
			MaxAnomalies:  50,
			AnomalyFactor: 2.0,
			TopCustomers:  10,
		},
		Server: ServerConfig{
			Addr:          ":3001",
			HistoryDB:     "",
			TickMs:        50,
			ErrorRate:     0.02,
			MaxLatencyMs:  200,
			MalformedRate: 0,
			Retention:     10000,
			RateLimit:     50,
			RateBurst:     100,
		},
		Log: LogConfig{
			Level: "info",
		},
		UI: UIConfig{
			Theme: "dark",
		},
	}
}

// =============================================================================
// PATH FUNCTIONS
// =============================================================================

// ConfigDir returns the usagepulse configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".usagepulse"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// ensureSecurePermissions tightens config files to 0600.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	mode := info.Mode().Perm()
	if mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the config file(s).
// Tries TOML first, then JSON, and falls back to defaults.
// Environment overrides are applied last.
func Load() (*Config, error) {
	cfg := Default()
	var loadErr error

	if tomlPath, err := ConfigPathTOML(); err == nil {
		if _, statErr := os.Stat(tomlPath); statErr == nil {
			if err := LoadTOML(cfg, tomlPath); err != nil {
				loadErr = fmt.Errorf("failed to load TOML config: %w", err)
			} else {
				return finish(cfg)
			}
		}
	}

	if jsonPath, err := ConfigPathJSON(); err == nil {
		if _, statErr := os.Stat(jsonPath); statErr == nil {
			cfg = Default()
			if err := LoadJSON(cfg, jsonPath); err != nil {
				loadErr = fmt.Errorf("failed to load JSON config: %w", err)
			} else {
				return finish(cfg)
			}
		}
	}

	cfg, err := finish(Default())
	if err != nil {
		return nil, err
	}
	// Defaults are returned together with any load error for information.
	return cfg, loadErr
}

// finish applies env overrides, migration, defaults and validation.
func finish(cfg *Config) (*Config, error) {
	cfg.ApplyEnvOverrides()
	if err := cfg.Migrate(); err != nil {
		return nil, fmt.Errorf("config migration failed: %w", err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML loads configuration from a TOML file into cfg.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// LoadJSON loads configuration from a JSON file into cfg.
func LoadJSON(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

// LoadFromPath loads configuration from a specific file path with full
// validation. Keys missing from the file keep their defaults.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if strings.HasSuffix(path, ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}

	return finish(cfg)
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes the configuration to a TOML file with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var buf strings.Builder
	buf.WriteString("# usagepulse configuration file\n")
	buf.WriteString("# Generated by usagepulse - edit with care\n")
	buf.WriteString("#\n")
	buf.WriteString("# Changes to [polling] are picked up by a running dashboard.\n\n")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFileWithDir(path, []byte(buf.String()), 0600, 0755); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SaveJSON writes the configuration to a JSON file with 0600 permissions.
func SaveJSON(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFileWithDir(path, data, 0600, 0755); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...interface{}) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// ==========================================================================
	// Source
	// ==========================================================================

	if c.Source.BaseURL == "" {
		add("source.base_url", "must not be empty")
	} else if u, err := url.Parse(c.Source.BaseURL); err != nil {
		add("source.base_url", "invalid URL: %v", err)
	} else if u.Scheme != "http" && u.Scheme != "https" {
		add("source.base_url", "invalid scheme '%s', must be http or https", u.Scheme)
	} else if u.Host == "" {
		add("source.base_url", "missing host")
	}

	switch c.Source.StreamProtocol {
	case "sse", "websocket":
	default:
		add("source.stream_protocol", "invalid protocol '%s', must be one of: sse, websocket", c.Source.StreamProtocol)
	}

	for field, path := range map[string]string{
		"source.metrics_path": c.Source.MetricsPath,
		"source.stream_path":  c.Source.StreamPath,
		"source.ws_path":      c.Source.WSPath,
	} {
		if path != "" && !strings.HasPrefix(path, "/") {
			add(field, "must start with '/'")
		}
	}

	if c.Source.RequestTimeoutMs < 0 {
		add("source.request_timeout_ms", "must not be negative")
	}

	// ==========================================================================
	// Polling and retry
	// ==========================================================================

	if c.Polling.IntervalMs < 100 {
		add("polling.interval_ms", "must be at least 100, got %d", c.Polling.IntervalMs)
	}

	if c.Retry.MaxRetries < 1 || c.Retry.MaxRetries > 100 {
		add("retry.max_retries", "must be between 1 and 100, got %d", c.Retry.MaxRetries)
	}
	if c.Retry.BaseDelayMs < 1 {
		add("retry.base_delay_ms", "must be positive, got %d", c.Retry.BaseDelayMs)
	}
	if c.Retry.MaxDelayMs < c.Retry.BaseDelayMs {
		add("retry.max_delay_ms", "must be at least base_delay_ms (%d), got %d", c.Retry.BaseDelayMs, c.Retry.MaxDelayMs)
	}

	// ==========================================================================
	// Window
	// ==========================================================================

	if c.Window.BufferSize < 1 {
		add("window.buffer_size", "must be positive, got %d", c.Window.BufferSize)
	}
	if c.Window.WindowSecs < 1 {
		add("window.window_secs", "must be positive, got %d", c.Window.WindowSecs)
	}
	if c.Window.BucketSecs < 1 {
		add("window.bucket_secs", "must be positive, got %d", c.Window.BucketSecs)
	}
	if c.Window.MaxBuckets < 1 {
		add("window.max_buckets", "must be positive, got %d", c.Window.MaxBuckets)
	}
	if c.Window.MaxAnomalies < 1 {
		add("window.max_anomalies", "must be positive, got %d", c.Window.MaxAnomalies)
	}
	if c.Window.AnomalyFactor <= 1 {
		add("window.anomaly_factor", "must be greater than 1, got %g", c.Window.AnomalyFactor)
	}
	if c.Window.TopCustomers < 1 {
		add("window.top_customers", "must be positive, got %d", c.Window.TopCustomers)
	}

	// ==========================================================================
	// Server
	// ==========================================================================

	if c.Server.Addr == "" {
		add("server.addr", "must not be empty")
	}
	if c.Server.TickMs < 1 {
		add("server.tick_ms", "must be positive, got %d", c.Server.TickMs)
	}
	if c.Server.ErrorRate < 0 || c.Server.ErrorRate > 1 {
		add("server.error_rate", "must be between 0 and 1, got %g", c.Server.ErrorRate)
	}
	if c.Server.MalformedRate < 0 || c.Server.MalformedRate > 1 {
		add("server.malformed_rate", "must be between 0 and 1, got %g", c.Server.MalformedRate)
	}
	if c.Server.MaxLatencyMs < 0 {
		add("server.max_latency_ms", "must not be negative")
	}
	if c.Server.Retention < 1 {
		add("server.retention", "must be positive, got %d", c.Server.Retention)
	}
	if c.Server.RateLimit < 0 {
		add("server.rate_limit", "must not be negative")
	}

	// ==========================================================================
	// Log and UI
	// ==========================================================================

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		add("log.level", "invalid level '%s', must be one of: debug, info, warn, error", c.Log.Level)
	}

	switch c.UI.Theme {
	case "dark", "light", "auto":
	default:
		add("ui.theme", "invalid theme '%s', must be one of: dark, light, auto", c.UI.Theme)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// SetDefaults fills zero values left by a partial config file.
func (c *Config) SetDefaults() {
	d := Default()

	if c.Version == "" {
		c.Version = d.Version
	}
	if c.Source.BaseURL == "" {
		c.Source.BaseURL = d.Source.BaseURL
	}
	if c.Source.StreamProtocol == "" {
		c.Source.StreamProtocol = d.Source.StreamProtocol
	}
	if c.Source.MetricsPath == "" {
		c.Source.MetricsPath = d.Source.MetricsPath
	}
	if c.Source.StreamPath == "" {
		c.Source.StreamPath = d.Source.StreamPath
	}
	if c.Source.WSPath == "" {
		c.Source.WSPath = d.Source.WSPath
	}
	if c.Source.RequestTimeoutMs == 0 {
		c.Source.RequestTimeoutMs = d.Source.RequestTimeoutMs
	}
	if c.Polling.IntervalMs == 0 {
		c.Polling.IntervalMs = d.Polling.IntervalMs
	}
	if c.Retry.MaxRetries == 0 {
		c.Retry.MaxRetries = d.Retry.MaxRetries
	}
	if c.Retry.BaseDelayMs == 0 {
		c.Retry.BaseDelayMs = d.Retry.BaseDelayMs
	}
	if c.Retry.MaxDelayMs == 0 {
		c.Retry.MaxDelayMs = d.Retry.MaxDelayMs
	}
	if c.Window.BufferSize == 0 {
		c.Window.BufferSize = d.Window.BufferSize
	}
	if c.Window.WindowSecs == 0 {
		c.Window.WindowSecs = d.Window.WindowSecs
	}
	if c.Window.BucketSecs == 0 {
		c.Window.BucketSecs = d.Window.BucketSecs
	}
	if c.Window.MaxBuckets == 0 {
		c.Window.MaxBuckets = d.Window.MaxBuckets
	}
	if c.Window.MaxAnomalies == 0 {
		c.Window.MaxAnomalies = d.Window.MaxAnomalies
	}
	if c.Window.AnomalyFactor == 0 {
		c.Window.AnomalyFactor = d.Window.AnomalyFactor
	}
	if c.Window.TopCustomers == 0 {
		c.Window.TopCustomers = d.Window.TopCustomers
	}
	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Server.TickMs == 0 {
		c.Server.TickMs = d.Server.TickMs
	}
	if c.Server.Retention == 0 {
		c.Server.Retention = d.Server.Retention
	}
	if c.Server.RateBurst == 0 {
		c.Server.RateBurst = d.Server.RateBurst
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.UI.Theme == "" {
		c.UI.Theme = d.UI.Theme
	}
}

// Migrate normalises legacy spellings.
func (c *Config) Migrate() error {
	switch strings.ToLower(strings.TrimSpace(c.Source.StreamProtocol)) {
	case "ws", "websockets", "websocket":
		c.Source.StreamProtocol = "websocket"
	case "sse", "eventsource", "event-stream":
		c.Source.StreamProtocol = "sse"
	}

	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	if c.Log.Level == "warning" {
		c.Log.Level = "warn"
	}

	c.Source.BaseURL = strings.TrimRight(c.Source.BaseURL, "/")
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - USAGEPULSE_BASE_URL: overrides source.base_url
//   - USAGEPULSE_STREAM_PROTOCOL: overrides source.stream_protocol
//   - USAGEPULSE_INTERVAL_MS: overrides polling.interval_ms
//   - USAGEPULSE_STREAMING: "1" or "true" enables polling.use_streaming
//   - USAGEPULSE_PAUSED: "1" or "true" starts paused
//   - USAGEPULSE_MAX_RETRIES: overrides retry.max_retries
//   - USAGEPULSE_SERVER_ADDR: overrides server.addr
//   - USAGEPULSE_HISTORY_DB: overrides server.history_db
//   - USAGEPULSE_LOG_LEVEL: overrides log.level
//   - USAGEPULSE_LOG_FILE: overrides log.file
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("USAGEPULSE_BASE_URL"); v != "" {
		c.Source.BaseURL = v
	}
	if v := os.Getenv("USAGEPULSE_STREAM_PROTOCOL"); v != "" {
		c.Source.StreamProtocol = v
	}
	if v := os.Getenv("USAGEPULSE_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Polling.IntervalMs = n
		}
	}
	if v := os.Getenv("USAGEPULSE_STREAMING"); v != "" {
		c.Polling.UseStreaming = envBool(v)
	}
	if v := os.Getenv("USAGEPULSE_PAUSED"); v != "" {
		c.Polling.Paused = envBool(v)
	}
	if v := os.Getenv("USAGEPULSE_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Retry.MaxRetries = n
		}
	}
	if v := os.Getenv("USAGEPULSE_SERVER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("USAGEPULSE_HISTORY_DB"); v != "" {
		c.Server.HistoryDB = v
	}
	if v := os.Getenv("USAGEPULSE_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("USAGEPULSE_LOG_FILE"); v != "" {
		c.Log.File = v
	}
}

func envBool(v string) bool {
	v = strings.ToLower(v)
	return v == "1" || v == "true" || v == "yes"
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g., "polling.interval_ms").
func (c *Config) Get(key string) (interface{}, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set sets a configuration value using dot notation (e.g., "polling.interval_ms").
// String values are converted to the field's type.
func (c *Config) Set(key string, value interface{}) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

// lookup walks the dotted key to a leaf field.
func (c *Config) lookup(key string) (reflect.Value, error) {
	if strings.TrimSpace(key) == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)
		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})
		if !field.IsValid() {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}

		if i == len(parts)-1 {
			if field.Kind() == reflect.Struct {
				return reflect.Value{}, fmt.Errorf("field '%s' is a section, not a value", key)
			}
			return field, nil
		}

		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
		v = field
	}

	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

// normalizeFieldName converts a snake_case or kebab-case name to its Go field equivalent.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})

	var result strings.Builder
	for _, part := range parts {
		if len(part) > 0 {
			result.WriteString(strings.ToUpper(string(part[0])))
			result.WriteString(strings.ToLower(part[1:]))
		}
	}
	return result.String()
}

// setFieldValue sets a reflect.Value from an interface{} value with type conversion.
func setFieldValue(field reflect.Value, value interface{}) error {
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Float64:
			floatVal, err := strconv.ParseFloat(strVal, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(floatVal)
			return nil
		case reflect.Bool:
			field.SetBool(envBool(strVal))
			return nil
		}
	}

	val := reflect.ValueOf(value)
	if !val.IsValid() {
		return fmt.Errorf("cannot assign nil to %s", field.Type())
	}
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}

	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// GetAllKeys returns all configuration keys in dot notation, in file order.
func GetAllKeys() []string {
	var keys []string
	collectKeys(reflect.TypeOf(Config{}), "", &keys)
	return keys
}

func collectKeys(t reflect.Type, prefix string, keys *[]string) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name := strings.Split(f.Tag.Get("toml"), ",")[0]
		if name == "" || name == "-" {
			continue
		}
		if prefix != "" {
			name = prefix + "." + name
		}
		if f.Type.Kind() == reflect.Struct {
			collectKeys(f.Type, name, keys)
			continue
		}
		*keys = append(*keys, name)
	}
}

// Clone creates a copy of the configuration. Config holds only value
// fields, so a struct copy is deep.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// String returns the config as indented JSON for debugging.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}
