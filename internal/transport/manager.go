// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// manager.go - Transport lifecycle: polling, streaming, backoff and fallback.

package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/usagepulse/internal/model"
	"github.com/jeranaias/usagepulse/internal/telemetry"
)

// Sink receives events and status. *telemetry.Store implements it.
type Sink interface {
	Append(events []model.MetricEvent) []model.Anomaly
	SetStatus(status model.ConnectionStatus)
	SetConfig(patch model.ConfigPatch) (model.PollingConfig, bool)
	Config() model.PollingConfig
}

// Options configures a Manager.
type Options struct {
	Fetcher     Fetcher
	Dialer      Dialer
	Sink        Sink
	MaxRetries  int
	Backoff     Backoff
	Now         func() time.Time
	Logger      *zap.Logger
	Instruments *telemetry.Instruments
}

// =============================================================================
// MANAGER
// =============================================================================

// Manager owns the single active acquisition channel.
//
// Control calls (Start, Reconfigure, SetVisible, Close) are serialised by
// ctlMu. Session goroutines apply their effects through apply, which holds
// applyMu and drops the effect when the session's epoch is stale.
type Manager struct {
	fetcher    Fetcher
	dialer     Dialer
	sink       Sink
	maxRetries int
	backoff    Backoff
	now        func() time.Time
	logger     *zap.Logger
	metrics    *telemetry.Instruments

	ctlMu   sync.Mutex
	baseCtx context.Context
	started bool
	closed  bool
	visCh   chan bool
	wg      sync.WaitGroup

	applyMu sync.Mutex
	epoch   uint64
	cancel  context.CancelFunc
	retries int
	cursor  *time.Time

	hidden atomic.Bool
	state  atomic.Int32
}

// NewManager creates a manager. It does nothing until Start.
func NewManager(opts Options) *Manager {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.Backoff == (Backoff{}) {
		opts.Backoff = DefaultBackoff()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Manager{
		fetcher:    opts.Fetcher,
		dialer:     opts.Dialer,
		sink:       opts.Sink,
		maxRetries: opts.MaxRetries,
		backoff:    opts.Backoff,
		now:        opts.Now,
		logger:     opts.Logger,
		metrics:    opts.Instruments,
	}
}

// State returns the current acquisition state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// Retries returns the consecutive failure counter.
func (m *Manager) Retries() int {
	m.applyMu.Lock()
	defer m.applyMu.Unlock()
	return m.retries
}

// Cursor returns the timestamp of the newest event consumed by polling.
func (m *Manager) Cursor() (time.Time, bool) {
	m.applyMu.Lock()
	defer m.applyMu.Unlock()
	if m.cursor == nil {
		return time.Time{}, false
	}
	return *m.cursor, true
}

// Start begins acquisition with the sink's current config. Sessions end
// when ctx is cancelled or on Close.
func (m *Manager) Start(ctx context.Context) error {
	m.ctlMu.Lock()
	defer m.ctlMu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.started {
		return ErrAlreadyStarted
	}
	m.started = true
	m.baseCtx = ctx
	m.startLocked()
	return nil
}

// Reconfigure tears down the active channel and starts again from the sink's
// current config. No effect of the previous channel lands after it returns.
func (m *Manager) Reconfigure() error {
	m.ctlMu.Lock()
	defer m.ctlMu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if !m.started {
		return ErrNotStarted
	}
	m.teardownLocked()
	m.startLocked()
	return nil
}

// SetVisible signals whether the viewing context is visible. Hidden stops
// the repeating poll timer; becoming visible again fetches once and resumes
// it. Streaming sessions ignore the signal.
func (m *Manager) SetVisible(visible bool) {
	m.ctlMu.Lock()
	defer m.ctlMu.Unlock()
	if m.hidden.Load() == !visible {
		return
	}
	m.hidden.Store(!visible)
	m.logger.Debug("visibility changed", zap.Bool("visible", visible))
	if m.visCh == nil {
		return
	}
	select {
	case <-m.visCh:
	default:
	}
	m.visCh <- visible
}

// Visible reports the last visibility signal.
func (m *Manager) Visible() bool {
	return !m.hidden.Load()
}

// Close stops all work and waits for it to finish. It is safe to call more
// than once.
func (m *Manager) Close() error {
	m.ctlMu.Lock()
	defer m.ctlMu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.teardownLocked()
	m.setState(StateIdle)
	return nil
}

// teardownLocked invalidates the current epoch, cancels the session and
// waits for its goroutine. Caller holds ctlMu.
func (m *Manager) teardownLocked() {
	m.applyMu.Lock()
	m.epoch++
	cancel := m.cancel
	m.cancel = nil
	m.applyMu.Unlock()

	m.visCh = nil
	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}

// startLocked evaluates the config and launches a session. Caller holds ctlMu.
func (m *Manager) startLocked() {
	cfg := m.sink.Config()

	m.applyMu.Lock()
	m.retries = 0
	epoch := m.epoch
	m.applyMu.Unlock()

	if cfg.IsPaused {
		m.sink.SetStatus(model.ConnectionStatus{Status: model.StatusDisconnected})
		m.setState(StateIdle)
		m.logger.Info("transport paused")
		return
	}

	ctx, cancel := context.WithCancel(m.baseCtx)
	vis := make(chan bool, 1)

	m.applyMu.Lock()
	m.cancel = cancel
	m.applyMu.Unlock()
	m.visCh = vis

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if cfg.UseStreaming {
			m.runStream(ctx, epoch, cfg, vis)
		} else {
			m.runPoll(ctx, epoch, cfg, vis, StatePolling)
		}
	}()
}

// apply runs fn under the apply lock if epoch is still current.
func (m *Manager) apply(epoch uint64, fn func()) bool {
	m.applyMu.Lock()
	defer m.applyMu.Unlock()
	if epoch != m.epoch {
		return false
	}
	fn()
	return true
}

func (m *Manager) setState(s State) {
	prev := State(m.state.Swap(int32(s)))
	if prev != s {
		m.logger.Info("transport state",
			zap.Stringer("from", prev),
			zap.Stringer("to", s))
	}
	m.metrics.RecordState(int(s))
}

func (m *Manager) setConnected() {
	now := m.now()
	m.sink.SetStatus(model.ConnectionStatus{Status: model.StatusConnected, LastUpdate: &now})
}

func (m *Manager) setFailed(msg string) {
	m.sink.SetStatus(model.ConnectionStatus{Status: model.StatusError, ErrorMessage: msg})
}

// =============================================================================
// POLLING
// =============================================================================

// runPoll fetches once immediately and then on every tick, retrying failures
// on a separate timer while the ticker keeps running. While hidden the
// ticker is stopped but the opening fetch and pending retries still run.
func (m *Manager) runPoll(ctx context.Context, epoch uint64, cfg model.PollingConfig, vis <-chan bool, state State) {
	if !m.apply(epoch, func() { m.setState(state) }) {
		return
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = model.DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	visible := !m.hidden.Load()
	if !visible {
		ticker.Stop()
	}

	var retry *time.Timer
	var retryC <-chan time.Time
	defer func() {
		if retry != nil {
			retry.Stop()
		}
	}()

	first := true
	poll := func() {
		delay, again := m.fetchOnce(ctx, epoch, first)
		first = false
		if !again {
			return
		}
		if retry == nil {
			retry = time.NewTimer(delay)
		} else {
			retry.Stop()
			retry.Reset(delay)
		}
		retryC = retry.C
	}

	// A new session always fetches once; hidden only holds the ticker.
	poll()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if visible {
				poll()
			}
		case <-retryC:
			retryC = nil
			poll()
		case v := <-vis:
			visible = v
			if visible {
				poll()
				ticker.Reset(interval)
			} else {
				ticker.Stop()
			}
		}
	}
}

// fetchOnce performs one fetch and applies its outcome. It returns the
// retry delay and whether a retry should be scheduled.
func (m *Manager) fetchOnce(ctx context.Context, epoch uint64, first bool) (time.Duration, bool) {
	var since *time.Time
	ok := m.apply(epoch, func() {
		if first {
			m.sink.SetStatus(model.ConnectionStatus{Status: model.StatusConnecting})
		}
		if m.cursor != nil {
			c := *m.cursor
			since = &c
		}
	})
	if !ok {
		return 0, false
	}

	start := time.Now()
	batch, err := m.fetcher.Fetch(ctx, since)
	elapsed := time.Since(start).Seconds()
	if ctx.Err() != nil {
		return 0, false
	}

	var delay time.Duration
	var again bool
	m.apply(epoch, func() {
		if err != nil {
			m.metrics.RecordFetch("error", elapsed)
			m.retries++
			m.setFailed(err.Error())
			if m.retries < m.maxRetries {
				delay = m.backoff.Delay(m.retries)
				again = true
			}
			m.logger.Warn("poll failed",
				zap.Error(err),
				zap.Int("attempt", m.retries),
				zap.Duration("retry_in", delay))
			return
		}

		m.metrics.RecordFetch("ok", elapsed)
		if batch.Dropped > 0 {
			m.logger.Warn("poll batch had invalid events", zap.Int("dropped", batch.Dropped))
		}
		if len(batch.Events) > 0 {
			m.sink.Append(batch.Events)
			m.advanceCursor(batch.Events)
		}
		m.retries = 0
		m.setConnected()
	})
	return delay, again
}

// advanceCursor moves the cursor to the newest timestamp in events if that
// is strictly after the current cursor. Caller holds applyMu.
func (m *Manager) advanceCursor(events []model.MetricEvent) {
	newest := events[0].Timestamp
	for _, ev := range events[1:] {
		if ev.Timestamp.After(newest) {
			newest = ev.Timestamp
		}
	}
	if m.cursor == nil || newest.After(*m.cursor) {
		m.cursor = &newest
	}
}

// =============================================================================
// STREAMING
// =============================================================================

// runStream keeps one push stream open, reconnecting with backoff. After
// maxRetries consecutive failures it disables streaming in the sink's config
// and continues as a poll loop in the same session.
func (m *Manager) runStream(ctx context.Context, epoch uint64, cfg model.PollingConfig, vis <-chan bool) {
	for {
		if !m.apply(epoch, func() {
			m.setState(StateStreaming)
			m.sink.SetStatus(model.ConnectionStatus{Status: model.StatusConnecting})
		}) {
			return
		}

		err := m.streamOnce(ctx, epoch)
		if ctx.Err() != nil {
			return
		}

		var delay time.Duration
		var exhausted bool
		if !m.apply(epoch, func() {
			m.retries++
			m.setFailed(streamFailedMessage)
			m.logger.Warn("stream failed", zap.Error(err), zap.Int("attempt", m.retries))
			if m.retries >= m.maxRetries {
				exhausted = true
				m.fallback()
				return
			}
			delay = m.backoff.Delay(m.retries)
			m.setState(StateBackingOff)
		}) {
			return
		}

		if exhausted {
			cfg.UseStreaming = false
			m.runPoll(ctx, epoch, cfg, vis, StateFallenBack)
			return
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// fallback demotes the shared config to polling and resets the counter for
// the polling path. Caller holds applyMu.
func (m *Manager) fallback() {
	m.sink.SetConfig(model.WithStreaming(false))
	m.retries = 0
	m.metrics.RecordFallback()
	m.logger.Warn("stream retries exhausted, falling back to polling",
		zap.Int("max_retries", m.maxRetries))
}

// streamOnce dials and consumes one stream until it fails.
func (m *Manager) streamOnce(ctx context.Context, epoch uint64) error {
	if m.dialer == nil {
		return ErrStreamUnsupported
	}
	stream, err := m.dialer.Dial(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()

	if !m.apply(epoch, func() {
		m.retries = 0
		m.setConnected()
		m.logger.Info("stream connected")
	}) {
		return context.Canceled
	}

	for {
		data, err := stream.Next(ctx)
		if err != nil {
			return err
		}
		ev, err := model.DecodeEvent(data)
		if err != nil {
			m.metrics.RecordStreamMessage("malformed")
			m.logger.Warn("dropping malformed stream message",
				zap.Error(err),
				zap.Int("bytes", len(data)))
			continue
		}
		m.metrics.RecordStreamMessage("ok")
		if !m.apply(epoch, func() {
			m.sink.Append([]model.MetricEvent{ev})
			m.setConnected()
		}) {
			return context.Canceled
		}
	}
}
