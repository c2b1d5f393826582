// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/jeranaias/usagepulse/internal/config"
	"github.com/jeranaias/usagepulse/internal/model"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = ":3001"

	// DefaultTick is the generator interval.
	DefaultTick = 50 * time.Millisecond

	// DefaultErrorRate is the share of polls answered with HTTP 500.
	DefaultErrorRate = 0.02

	// DefaultMaxLatency bounds the injected polling latency.
	DefaultMaxLatency = 200 * time.Millisecond

	// DefaultHeartbeat is the SSE comment interval.
	DefaultHeartbeat = 15 * time.Second

	// DefaultHistoryMaxAge is how long history rows are kept.
	DefaultHistoryMaxAge = 24 * time.Hour

	// DefaultHistoryRange is the history window when from is omitted.
	DefaultHistoryRange = time.Hour

	// NextPollAfterMs is the advisory poll delay returned to clients.
	NextPollAfterMs = 2000

	// malformedFrame is pushed to subscribers when malformed injection fires.
	malformedFrame = `{"timestamp":`

	pruneInterval   = time.Minute
	shutdownTimeout = 5 * time.Second
)

// ============================================================================
// OPTIONS
// ============================================================================

// Options configures the synthetic event source.
type Options struct {
	Addr string
	Tick time.Duration

	// Fault injection. ErrorRate and MalformedRate are probabilities.
	ErrorRate     float64
	MaxLatency    time.Duration
	MalformedRate float64

	Retention     int
	HistoryPath   string
	HistoryMaxAge time.Duration

	// RateLimit is requests per second per client IP; <= 0 disables it.
	RateLimit float64
	RateBurst int

	Seed      int64
	Heartbeat time.Duration
	CORS      *CORSConfig

	Now      func() time.Time
	Logger   *zap.Logger
	Registry *prometheus.Registry
}

// DefaultOptions returns the stock source behaviour.
func DefaultOptions() Options {
	return Options{
		Addr:          DefaultAddr,
		Tick:          DefaultTick,
		ErrorRate:     DefaultErrorRate,
		MaxLatency:    DefaultMaxLatency,
		Retention:     DefaultRetention,
		HistoryMaxAge: DefaultHistoryMaxAge,
		RateLimit:     50,
		RateBurst:     100,
		Heartbeat:     DefaultHeartbeat,
	}
}

// OptionsFromConfig maps the [server] config section onto options.
func OptionsFromConfig(cfg *config.Config) Options {
	opts := DefaultOptions()
	if cfg == nil {
		return opts
	}
	sc := cfg.Server
	opts.Addr = sc.Addr
	opts.Tick = sc.Tick()
	opts.ErrorRate = sc.ErrorRate
	opts.MaxLatency = sc.MaxLatency()
	opts.MalformedRate = sc.MalformedRate
	opts.Retention = sc.Retention
	opts.HistoryPath = sc.HistoryDB
	opts.RateLimit = sc.RateLimit
	opts.RateBurst = sc.RateBurst
	return opts
}

// ============================================================================
// SERVER
// ============================================================================

// Server generates synthetic usage events and serves them over polling,
// SSE and websocket endpoints.
type Server struct {
	opts     Options
	log      *zap.Logger
	gen      *Generator
	feed     *Feed
	history  *History
	hub      *Hub
	limiter  *RateLimiter
	metrics  *sourceMetrics
	registry *prometheus.Registry
	router   chi.Router
	upgrader websocket.Upgrader
	started  time.Time

	mu     sync.Mutex
	closed bool

	done      chan struct{}
	closeOnce sync.Once
}

// NewServer builds a server and opens its history store. Nothing is
// generated until Run or ListenAndServe.
func NewServer(opts Options) (*Server, error) {
	def := DefaultOptions()
	if opts.Addr == "" {
		opts.Addr = def.Addr
	}
	if opts.Tick <= 0 {
		opts.Tick = def.Tick
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = def.Heartbeat
	}
	if opts.HistoryMaxAge <= 0 {
		opts.HistoryMaxAge = def.HistoryMaxAge
	}
	if opts.CORS == nil {
		opts.CORS = DefaultCORSConfig()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
		opts.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	history, err := OpenHistory(opts.HistoryPath, opts.Logger.Named("history"))
	if err != nil {
		return nil, err
	}

	s := &Server{
		opts:     opts,
		log:      opts.Logger,
		gen:      NewGenerator(opts.Seed, opts.Now),
		feed:     NewFeed(opts.Retention),
		history:  history,
		hub:      NewHub(opts.Logger.Named("hub")),
		metrics:  newSourceMetrics(opts.Registry),
		registry: opts.Registry,
		started:  opts.Now(),
		done:     make(chan struct{}),
	}
	if opts.RateLimit > 0 {
		s.limiter = NewRateLimiter(opts.RateLimit, opts.RateBurst)
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || opts.CORS.allowedOrigin(origin) != ""
		},
	}
	s.setupRoutes()
	return s, nil
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(
		RequestIDMiddleware(s.log),
		LoggingMiddleware(s.log),
		RecoveryMiddleware(s.log),
		CORSMiddleware(s.opts.CORS),
	)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		if s.limiter != nil {
			r.Use(RateLimitMiddleware(s.limiter, s.log))
		}
		r.Get("/metrics", s.handleMetrics)
		r.Get("/metrics/history", s.handleHistory)
		r.Get("/stream", s.handleStream)
		r.Get("/ws", s.handleWebSocket)
	})
	s.router = r
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ============================================================================
// GENERATOR LOOP
// ============================================================================

// Run generates a batch every tick until ctx ends or the server closes.
func (s *Server) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.Tick)
	defer ticker.Stop()
	prune := time.NewTicker(pruneInterval)
	defer prune.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			s.Tick(ctx)
		case <-prune.C:
			if _, err := s.history.Prune(ctx, s.opts.Now().Add(-s.opts.HistoryMaxAge)); err != nil {
				s.log.Warn("history prune failed", zap.Error(err))
			}
		}
	}
}

// Tick generates one batch, retains it, records it and pushes it to
// subscribers.
func (s *Server) Tick(ctx context.Context) []model.MetricEvent {
	batch := s.gen.Batch()
	s.feed.Append(batch)
	s.metrics.generated.Add(float64(len(batch)))
	s.metrics.retained.Set(float64(s.feed.Len()))

	if err := s.history.Insert(ctx, batch); err != nil {
		s.metrics.historyErrs.Inc()
		s.log.Warn("history insert failed", zap.Error(err))
	}

	if s.hub.Len() == 0 {
		return batch
	}
	for _, ev := range batch {
		payload, err := json.Marshal(ev)
		if err != nil {
			s.log.Error("encode event", zap.Error(err))
			continue
		}
		s.hub.Broadcast(payload)
	}
	if s.opts.MalformedRate > 0 && s.gen.Float64() < s.opts.MalformedRate {
		s.metrics.malformed.Inc()
		s.hub.Broadcast([]byte(malformedFrame))
	}
	return batch
}

// ============================================================================
// HANDLERS
// ============================================================================

// handleMetrics handles GET /api/metrics?since=.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	var since *time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := model.ParseTimestamp(raw)
		if err != nil {
			s.metrics.polls.WithLabelValues("bad_request").Inc()
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		since = &t
	}

	if s.opts.MaxLatency > 0 {
		delay := time.Duration(s.gen.Float64() * float64(s.opts.MaxLatency))
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-r.Context().Done():
			timer.Stop()
			return
		}
	}
	if s.opts.ErrorRate > 0 && s.gen.Float64() < s.opts.ErrorRate {
		s.metrics.polls.WithLabelValues("injected_error").Inc()
		writeError(w, http.StatusInternalServerError, "injected failure")
		return
	}

	s.metrics.polls.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusOK, model.MetricsResponse{
		Metrics:       s.feed.Since(since),
		NextPollAfter: NextPollAfterMs,
	})
}

// handleHistory handles GET /api/metrics/history?from=&to=.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	now := s.opts.Now().UTC()
	to := now
	from := now.Add(-DefaultHistoryRange)

	q := r.URL.Query()
	if raw := q.Get("to"); raw != "" {
		t, err := model.ParseTimestamp(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		to = t
		if q.Get("from") == "" {
			from = to.Add(-DefaultHistoryRange)
		}
	}
	if raw := q.Get("from"); raw != "" {
		t, err := model.ParseTimestamp(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		from = t
	}
	if from.After(to) {
		writeError(w, http.StatusBadRequest, "from must not be after to")
		return
	}

	events, agg, err := s.history.Range(r.Context(), from, to)
	if err != nil {
		s.log.Error("history query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	writeJSON(w, http.StatusOK, model.HistoryResponse{
		From:         from,
		To:           to,
		Metrics:      events,
		Aggregations: agg,
	})
}

// handleStream handles GET /api/stream as Server-Sent Events.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := newSSEClient(w, flusher)
	id := s.hub.Register(client)
	gauge := s.metrics.subscribers.WithLabelValues("sse")
	gauge.Inc()
	defer func() {
		s.hub.Unregister(id)
		gauge.Dec()
	}()

	heartbeat := time.NewTicker(s.opts.Heartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.done:
			return
		case <-client.Done():
			return
		case <-heartbeat.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

// handleWebSocket handles GET /api/ws. Each event is one text frame.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	client := newWSClient(conn, s.log)
	id := s.hub.Register(client)
	gauge := s.metrics.subscribers.WithLabelValues("websocket")
	gauge.Inc()
	defer func() {
		s.hub.Unregister(id)
		gauge.Dec()
	}()

	go client.readPump()
	go func() {
		select {
		case <-client.Done():
		case <-s.done:
			client.Close()
		}
	}()
	client.writePump()
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Retained      int    `json:"retained_events"`
	Subscribers   int    `json:"subscribers"`
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:        "ok",
		UptimeSeconds: int64(s.opts.Now().Sub(s.started).Seconds()),
		Retained:      s.feed.Len(),
		Subscribers:   s.hub.Len(),
	})
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// ListenAndServe listens on Options.Addr and serves until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the generator and serves HTTP on ln until ctx ends, then
// shuts down gracefully and closes the server.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpSrv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Run(runCtx)
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.Serve(ln) }()
	s.log.Info("event source listening", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		cancel()
		wg.Wait()
		s.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Info("event source shutting down")
	s.signalDone()
	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	err := httpSrv.Shutdown(shutdownCtx)
	wg.Wait()
	<-errCh
	if cerr := s.Close(); err == nil {
		err = cerr
	}
	return err
}

func (s *Server) signalDone() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Close ends every stream and releases the history store. It is safe to
// call more than once.
func (s *Server) Close() error {
	s.signalDone()
	s.hub.CloseAll()
	if s.limiter != nil {
		s.limiter.Close()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.history.Close()
}

// ============================================================================
// HELPERS
// ============================================================================

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"code":    status,
		},
	})
}
