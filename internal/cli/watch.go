// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// watch.go - Headless watch command.
//
// Prints one summary line per refresh and optionally exposes the
// Prometheus metrics endpoint.

package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/jeranaias/usagepulse/internal/telemetry"
	"github.com/jeranaias/usagepulse/internal/transport"
	"github.com/jeranaias/usagepulse/internal/util"
)

// minSummaryEvery bounds how often watch writes a summary.
const minSummaryEvery = time.Second

// HandleWatch runs the engine headless and writes a summary every interval.
//
//	usagepulse watch [--every 5s] [--duration 1m] [--metrics-addr :9090] [source flags]
func HandleWatch(ctx context.Context, args Args) error {
	p := NewArgParser(args.Raw, sourceBools...)
	every, err := p.FlagDuration("every", 0)
	if err != nil {
		return err
	}
	duration, err := p.FlagDuration("duration", 0)
	if err != nil {
		return err
	}

	var reg *prometheus.Registry
	metricsAddr := p.Flag("metrics-addr")
	if metricsAddr != "" {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	opts := sessionOptions{Watch: true}
	if reg != nil {
		opts.Registerer = reg
	}
	s, err := openSession(args, p, opts)
	if err != nil {
		return err
	}
	defer s.close()

	if every == 0 {
		every = s.cfg.Polling.Interval()
	}
	every = max(every, minSummaryEvery)

	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	if reg != nil {
		stop, err := serveMetrics(metricsAddr, reg, s.logger)
		if err != nil {
			return &CommandError{Command: "watch", Action: "listen", Err: err}
		}
		defer stop()
	}

	if err := s.engine.Start(ctx); err != nil {
		return &CommandError{Command: "watch", Action: "start", Err: err}
	}
	s.logger.Info("watching",
		zap.String("source", s.cfg.Source.BaseURL),
		zap.String("mode", s.engine.Config().Mode()),
		zap.Duration("every", every),
	)

	return watchLoop(ctx, s.engine, every, func(snap telemetry.Snapshot, state transport.State) {
		s.logger.Info("usage summary", summaryFields(snap, state)...)
		if args.Quiet {
			return
		}
		if args.JSON {
			writeJSONLine(args.out(), summaryJSON(snap, state))
			return
		}
		fmt.Fprintln(args.out(), formatSummary(snap, state))
	})
}

// snapshotter is what the watch loop reads.
type snapshotter interface {
	Snapshot() telemetry.Snapshot
	TransportState() transport.State
}

// watchLoop calls emit every interval until ctx ends, then once more so the
// final state is always reported.
func watchLoop(ctx context.Context, src snapshotter, every time.Duration, emit func(telemetry.Snapshot, transport.State)) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			emit(src.Snapshot(), src.TransportState())
			return nil
		case <-ticker.C:
			emit(src.Snapshot(), src.TransportState())
		}
	}
}

// =============================================================================
// SUMMARY FORMATS
// =============================================================================

// summaryFields renders a snapshot as structured log fields.
func summaryFields(snap telemetry.Snapshot, state transport.State) []zap.Field {
	agg := snap.Aggregates
	return []zap.Field{
		zap.String("status", string(snap.Status.Status)),
		zap.String("transport", state.String()),
		zap.Float64("cost", agg.TotalCost),
		zap.Int64("tokens", agg.TotalTokens),
		zap.Int64("calls", agg.TotalCalls),
		zap.Float64("avg_latency_ms", agg.AvgLatency),
		zap.Int("events", agg.EventCount),
		zap.Int("buffered", snap.BufferLen),
		zap.Int("open_anomalies", snap.Unacknowledged),
	}
}

// formatSummary renders a snapshot as one human-readable line.
func formatSummary(snap telemetry.Snapshot, state transport.State) string {
	agg := snap.Aggregates
	line := fmt.Sprintf("%s %-12s %-11s cost %s  tokens %s  calls %s  latency %s  anomalies %d",
		time.Now().Format("15:04:05"),
		snap.Status.Status,
		state,
		util.FormatCost(agg.TotalCost),
		util.FormatCompact(agg.TotalTokens),
		util.FormatCount(agg.TotalCalls),
		util.FormatLatency(agg.AvgLatency),
		snap.Unacknowledged,
	)
	if snap.Status.ErrorMessage != "" {
		line += "  error: " + snap.Status.ErrorMessage
	}
	return line
}

// watchSummary is the JSON line written by watch --json.
type watchSummary struct {
	Time          time.Time `json:"time"`
	Status        string    `json:"status"`
	Transport     string    `json:"transport"`
	Cost          float64   `json:"cost"`
	Tokens        int64     `json:"tokens"`
	Calls         int64     `json:"calls"`
	AvgLatencyMs  float64   `json:"avgLatencyMs"`
	Events        int       `json:"events"`
	OpenAnomalies int       `json:"openAnomalies"`
	Error         string    `json:"error,omitempty"`
}

func summaryJSON(snap telemetry.Snapshot, state transport.State) watchSummary {
	agg := snap.Aggregates
	return watchSummary{
		Time:          snap.ComputedAt,
		Status:        string(snap.Status.Status),
		Transport:     state.String(),
		Cost:          agg.TotalCost,
		Tokens:        agg.TotalTokens,
		Calls:         agg.TotalCalls,
		AvgLatencyMs:  agg.AvgLatency,
		Events:        agg.EventCount,
		OpenAnomalies: snap.Unacknowledged,
		Error:         snap.Status.ErrorMessage,
	}
}

// =============================================================================
// METRICS ENDPOINT
// =============================================================================

// serveMetrics exposes reg on addr at /metrics. The returned func shuts the
// listener down.
func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: r, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics endpoint stopped", zap.Error(err))
		}
	}()
	logger.Info("metrics endpoint listening", zap.String("addr", ln.Addr().String()))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}, nil
}
