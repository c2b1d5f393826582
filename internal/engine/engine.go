// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package engine composes the telemetry store and the transport manager
// into the control surface used by the dashboard, console and headless
// commands.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/jeranaias/usagepulse/internal/config"
	"github.com/jeranaias/usagepulse/internal/model"
	"github.com/jeranaias/usagepulse/internal/telemetry"
	"github.com/jeranaias/usagepulse/internal/transport"
)

// ErrInvalidInterval is returned for polling intervals below the minimum.
var ErrInvalidInterval = errors.New("invalid polling interval")

// Stream protocols accepted by Options.StreamProtocol.
const (
	ProtocolSSE       = "sse"
	ProtocolWebSocket = "websocket"
)

// =============================================================================
// OPTIONS
// =============================================================================

// Options configures an Engine.
type Options struct {
	BaseURL        string
	StreamProtocol string
	MetricsPath    string
	StreamPath     string
	WSPath         string
	RequestTimeout time.Duration

	MaxRetries int
	Backoff    transport.Backoff
	Store      telemetry.StoreOptions

	// Fetcher and Dialer override the HTTP client when set.
	Fetcher transport.Fetcher
	Dialer  transport.Dialer

	Registerer prometheus.Registerer
	Logger     *zap.Logger
}

// DefaultOptions targets the local synthetic source with stock sizes.
func DefaultOptions() Options {
	return Options{
		BaseURL:        transport.DefaultBaseURL,
		StreamProtocol: ProtocolSSE,
		RequestTimeout: transport.DefaultTimeout,
		MaxRetries:     transport.DefaultMaxRetries,
		Backoff:        transport.DefaultBackoff(),
		Store:          telemetry.DefaultStoreOptions(),
	}
}

// OptionsFromConfig maps the application config onto engine options.
func OptionsFromConfig(cfg *config.Config) Options {
	opts := DefaultOptions()
	if cfg == nil {
		return opts
	}

	opts.BaseURL = cfg.Source.BaseURL
	opts.StreamProtocol = cfg.Source.StreamProtocol
	opts.MetricsPath = cfg.Source.MetricsPath
	opts.StreamPath = cfg.Source.StreamPath
	opts.WSPath = cfg.Source.WSPath
	opts.RequestTimeout = cfg.Source.RequestTimeout()

	opts.MaxRetries = cfg.Retry.MaxRetries
	opts.Backoff = transport.Backoff{Base: cfg.Retry.BaseDelay(), Max: cfg.Retry.MaxDelay()}

	opts.Store.BufferSize = cfg.Window.BufferSize
	opts.Store.MaxAnomalies = cfg.Window.MaxAnomalies
	opts.Store.AnomalyFactor = cfg.Window.AnomalyFactor
	opts.Store.Window = telemetry.WindowOptions{
		Window:       cfg.Window.Window(),
		BucketWidth:  cfg.Window.BucketWidth(),
		MaxBuckets:   cfg.Window.MaxBuckets,
		TopCustomers: cfg.Window.TopCustomers,
	}
	opts.Store.Config = cfg.Polling.ToModel()
	return opts
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine owns one Store and one Manager. All methods are safe for
// concurrent use.
type Engine struct {
	store   *telemetry.Store
	manager *transport.Manager
	metrics *telemetry.Instruments
	logger  *zap.Logger

	// mu serialises config changes so store order matches rebuild order.
	mu      sync.Mutex
	started bool
	closed  bool
}

// New builds an engine. Nothing is fetched until Start.
func New(opts Options) (*Engine, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Store.Config.Interval != 0 && opts.Store.Config.Interval < model.MinPollInterval {
		return nil, fmt.Errorf("%w: %s is below %s", ErrInvalidInterval, opts.Store.Config.Interval, model.MinPollInterval)
	}

	var metrics *telemetry.Instruments
	if opts.Registerer != nil {
		metrics = telemetry.NewInstruments(opts.Registerer)
	}

	fetcher, dialer, err := buildTransport(opts)
	if err != nil {
		return nil, err
	}

	storeOpts := opts.Store
	storeOpts.Logger = opts.Logger.Named("store")
	storeOpts.Instruments = metrics
	store := telemetry.NewStore(storeOpts)

	manager := transport.NewManager(transport.Options{
		Fetcher:     fetcher,
		Dialer:      dialer,
		Sink:        store,
		MaxRetries:  opts.MaxRetries,
		Backoff:     opts.Backoff,
		Now:         storeOpts.Now,
		Logger:      opts.Logger.Named("transport"),
		Instruments: metrics,
	})

	return &Engine{
		store:   store,
		manager: manager,
		metrics: metrics,
		logger:  opts.Logger,
	}, nil
}

// buildTransport picks the fetcher and push dialer for the options.
func buildTransport(opts Options) (transport.Fetcher, transport.Dialer, error) {
	if opts.Fetcher != nil {
		return opts.Fetcher, opts.Dialer, nil
	}

	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = transport.DefaultBaseURL
	}
	client := NewHTTPClient(baseURL, opts)

	switch opts.StreamProtocol {
	case "", ProtocolSSE:
		if opts.Dialer != nil {
			return client, opts.Dialer, nil
		}
		return client, client, nil
	case ProtocolWebSocket:
		if opts.Dialer != nil {
			return client, opts.Dialer, nil
		}
		return client, transport.NewWebSocketDialer(baseURL, opts.WSPath), nil
	default:
		return nil, nil, fmt.Errorf("unknown stream protocol %q", opts.StreamProtocol)
	}
}

// NewHTTPClient builds the polling/SSE client for the options.
func NewHTTPClient(baseURL string, opts Options) *transport.Client {
	client := transport.NewClient(baseURL).WithPaths(opts.MetricsPath, opts.StreamPath)
	if opts.RequestTimeout > 0 {
		client = client.WithTimeout(opts.RequestTimeout)
	}
	if opts.Logger != nil {
		client = client.WithLogger(opts.Logger.Named("client"))
	}
	return client
}

// Start begins acquisition with the current polling config.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return transport.ErrClosed
	}
	if err := e.manager.Start(ctx); err != nil {
		return err
	}
	e.started = true
	e.logger.Info("engine started", zap.String("mode", e.store.Config().Mode()))
	return nil
}

// Close stops acquisition. The store stays readable.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	err := e.manager.Close()
	e.logger.Info("engine stopped")
	return err
}

// Snapshot returns an immutable copy of the current state.
func (e *Engine) Snapshot() telemetry.Snapshot {
	return e.store.Snapshot()
}

// Events returns a copy of the buffered events, oldest first.
func (e *Engine) Events() []model.MetricEvent {
	return e.store.Events()
}

// Config returns the current polling config.
func (e *Engine) Config() model.PollingConfig {
	return e.store.Config()
}

// SetPollingConfig merges patch into the polling config. The transport is
// rebuilt only when the config actually changed.
func (e *Engine) SetPollingConfig(patch model.ConfigPatch) error {
	if patch.Interval != nil && *patch.Interval < model.MinPollInterval {
		return fmt.Errorf("%w: %s is below %s", ErrInvalidInterval, *patch.Interval, model.MinPollInterval)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return transport.ErrClosed
	}

	cfg, changed := e.store.SetConfig(patch)
	if !changed {
		return nil
	}
	e.logger.Info("polling config changed", zap.String("mode", cfg.Mode()))
	if !e.started {
		return nil
	}
	return e.manager.Reconfigure()
}

// Pause stops acquisition until Resume.
func (e *Engine) Pause() error {
	return e.SetPollingConfig(model.WithPaused(true))
}

// Resume restarts acquisition after Pause.
func (e *Engine) Resume() error {
	return e.SetPollingConfig(model.WithPaused(false))
}

// SetStreaming switches between push and polling.
func (e *Engine) SetStreaming(on bool) error {
	return e.SetPollingConfig(model.WithStreaming(on))
}

// SetInterval changes the polling interval.
func (e *Engine) SetInterval(d time.Duration) error {
	return e.SetPollingConfig(model.WithInterval(d))
}

// AcknowledgeAnomaly marks an anomaly reviewed. It reports whether a record
// was found.
func (e *Engine) AcknowledgeAnomaly(id string) bool {
	return e.store.Acknowledge(id)
}

// ClearMetrics empties the buffer, view and anomaly log.
func (e *Engine) ClearMetrics() {
	e.store.Clear()
}

// SetVisible forwards the viewing context's visibility to the transport.
func (e *Engine) SetVisible(visible bool) {
	e.manager.SetVisible(visible)
}

// TransportState returns the acquisition state.
func (e *Engine) TransportState() transport.State {
	return e.manager.State()
}

// Subscribe returns a coalescing change-notification channel.
func (e *Engine) Subscribe() (<-chan struct{}, func()) {
	return e.store.Subscribe()
}
