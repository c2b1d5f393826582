// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/usagepulse/internal/model"
)

// =============================================================================
// STORE OPTIONS
// =============================================================================

// StoreOptions configures a Store. Zero values select defaults.
type StoreOptions struct {
	BufferSize    int
	MaxAnomalies  int
	AnomalyFactor float64
	Window        WindowOptions
	Config        model.PollingConfig
	Now           func() time.Time
	Logger        *zap.Logger
	Instruments   *Instruments
}

// DefaultStoreOptions returns the stock sizes with the default polling config.
func DefaultStoreOptions() StoreOptions {
	return StoreOptions{
		BufferSize:    DefaultBufferSize,
		MaxAnomalies:  DefaultMaxAnomalies,
		AnomalyFactor: DefaultAnomalyFactor,
		Window:        DefaultWindowOptions(),
		Config:        model.DefaultPollingConfig(),
	}
}

// =============================================================================
// SNAPSHOT
// =============================================================================

// Snapshot is an immutable copy of the store state.
type Snapshot struct {
	Aggregates     model.Aggregates       `json:"aggregates"`
	Series         []model.TimeBucket     `json:"series"`
	TopCustomers   []model.CustomerUsage  `json:"topCustomers"`
	Anomalies      []model.Anomaly        `json:"anomalies"`
	Unacknowledged int                    `json:"unacknowledged"`
	Status         model.ConnectionStatus `json:"status"`
	Config         model.PollingConfig    `json:"config"`
	BufferLen      int                    `json:"bufferLen"`
	BufferCap      int                    `json:"bufferCap"`
	ComputedAt     time.Time              `json:"computedAt"`
	Version        uint64                 `json:"version"`
}

// =============================================================================
// STORE
// =============================================================================

// Store is the single owner of the ingestion state. Each exported mutator is
// one atomic command; readers use Snapshot.
type Store struct {
	mu sync.RWMutex

	buffer   *Buffer
	agg      *Aggregator
	detector *Detector
	view     View
	status   model.ConnectionStatus
	config   model.PollingConfig
	version  uint64

	now     func() time.Time
	logger  *zap.Logger
	metrics *Instruments

	subMu  sync.Mutex
	subs   map[int]chan struct{}
	nextID int
}

// NewStore creates an empty store with status disconnected.
func NewStore(opts StoreOptions) *Store {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Config.Interval <= 0 {
		opts.Config.Interval = model.DefaultPollInterval
	}
	return &Store{
		buffer:   NewBuffer(opts.BufferSize),
		agg:      NewAggregator(opts.Window),
		detector: NewDetector(opts.MaxAnomalies, opts.AnomalyFactor),
		view:     View{Series: []model.TimeBucket{}, TopCustomers: []model.CustomerUsage{}},
		status:   model.ConnectionStatus{Status: model.StatusDisconnected},
		config:   opts.Config,
		now:      opts.Now,
		logger:   opts.Logger,
		metrics:  opts.Instruments,
		subs:     make(map[int]chan struct{}),
	}
}

// Append inserts a batch, recomputes the view against the current clock and
// runs anomaly detection on the batch, all under one lock. It returns the
// anomalies raised by this batch.
func (s *Store) Append(events []model.MetricEvent) []model.Anomaly {
	s.mu.Lock()
	evicted := s.buffer.Append(events...)
	s.view = s.agg.Compute(s.buffer.View(), s.now())
	found := s.detector.Evaluate(events, s.view.Aggregates)
	s.version++
	buffered := s.buffer.Len()
	s.mu.Unlock()

	s.metrics.RecordAppend(len(events), evicted, buffered)
	for _, a := range found {
		s.metrics.RecordAnomaly(string(a.Metric))
		s.logger.Info("anomaly detected",
			zap.String("id", a.ID),
			zap.String("metric", string(a.Metric)),
			zap.Float64("value", a.Value),
			zap.Float64("average", a.Average))
	}
	if evicted > 0 {
		s.logger.Debug("buffer overflow", zap.Int("evicted", evicted))
	}
	s.notify()
	return found
}

// SetStatus replaces the connection status.
func (s *Store) SetStatus(status model.ConnectionStatus) {
	s.mu.Lock()
	s.status = status.Clone()
	s.version++
	s.mu.Unlock()
	s.notify()
}

// SetConfig merges patch into the polling config and reports whether it changed.
func (s *Store) SetConfig(patch model.ConfigPatch) (model.PollingConfig, bool) {
	s.mu.Lock()
	cfg, changed := patch.Apply(s.config)
	if changed {
		s.config = cfg
		s.version++
	}
	s.mu.Unlock()
	if changed {
		s.notify()
	}
	return cfg, changed
}

// Acknowledge flags an anomaly as reviewed. Unknown ids are a no-op.
func (s *Store) Acknowledge(id string) bool {
	s.mu.Lock()
	ok := s.detector.Acknowledge(id)
	if ok {
		s.version++
	}
	s.mu.Unlock()
	if ok {
		s.notify()
	}
	return ok
}

// Clear empties the buffer, the derived view and the anomaly log together.
// Status and config are untouched.
func (s *Store) Clear() {
	s.mu.Lock()
	s.buffer.Reset()
	s.detector.Reset()
	s.view = View{
		Series:       []model.TimeBucket{},
		TopCustomers: []model.CustomerUsage{},
		ComputedAt:   s.now(),
	}
	s.version++
	s.mu.Unlock()

	s.metrics.RecordBuffered(0)
	s.logger.Info("metrics cleared")
	s.notify()
}

// Config returns the current polling config.
func (s *Store) Config() model.PollingConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// Status returns a copy of the connection status.
func (s *Store) Status() model.ConnectionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status.Clone()
}

// Events returns a copy of the buffered events, oldest first.
func (s *Store) Events() []model.MetricEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.buffer.Items()
}

// Snapshot returns a consistent copy of everything the store holds.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series := make([]model.TimeBucket, len(s.view.Series))
	copy(series, s.view.Series)
	top := make([]model.CustomerUsage, len(s.view.TopCustomers))
	copy(top, s.view.TopCustomers)

	return Snapshot{
		Aggregates:     s.view.Aggregates,
		Series:         series,
		TopCustomers:   top,
		Anomalies:      s.detector.Anomalies(),
		Unacknowledged: s.detector.Unacknowledged(),
		Status:         s.status.Clone(),
		Config:         s.config,
		BufferLen:      s.buffer.Len(),
		BufferCap:      s.buffer.Cap(),
		ComputedAt:     s.view.ComputedAt,
		Version:        s.version,
	}
}

// =============================================================================
// CHANGE NOTIFICATION
// =============================================================================

// Subscribe returns a channel that receives a signal after every change.
// Signals coalesce: a slow reader sees at most one pending signal. The
// returned func unsubscribes and closes the channel.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
			close(ch)
		})
	}
}

func (s *Store) notify() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
