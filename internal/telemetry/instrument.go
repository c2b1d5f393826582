// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// =============================================================================
// PROMETHEUS INSTRUMENTS
// =============================================================================

const metricsNamespace = "usagepulse"

// Instruments groups the collectors updated by the store and the transport.
// A nil *Instruments is valid and records nothing.
type Instruments struct {
	EventsIngested prometheus.Counter
	EventsEvicted  prometheus.Counter
	Anomalies      *prometheus.CounterVec
	BufferedEvents prometheus.Gauge
	Fetches        *prometheus.CounterVec
	StreamMessages *prometheus.CounterVec
	Fallbacks      prometheus.Counter
	TransportState prometheus.Gauge
	FetchLatency   prometheus.Histogram
}

// NewInstruments creates the collectors and registers them with reg. When a
// collector is already registered the existing one is reused, so calling
// this twice against the same registry is safe. A nil reg skips
// registration.
func NewInstruments(reg prometheus.Registerer) *Instruments {
	in := &Instruments{
		EventsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ingest",
			Name:      "events_total",
			Help:      "Events appended to the ingestion buffer",
		}),
		EventsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ingest",
			Name:      "evicted_total",
			Help:      "Events dropped from the front of a full buffer",
		}),
		Anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "detector",
			Name:      "anomalies_total",
			Help:      "Anomaly records raised, by metric",
		}, []string{"metric"}),
		BufferedEvents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "ingest",
			Name:      "buffered_events",
			Help:      "Events currently held in the buffer",
		}),
		Fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "transport",
			Name:      "fetches_total",
			Help:      "Polling fetches, by result",
		}, []string{"result"}),
		StreamMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "transport",
			Name:      "stream_messages_total",
			Help:      "Streamed messages, by result",
		}, []string{"result"}),
		Fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "transport",
			Name:      "fallbacks_total",
			Help:      "Streaming to polling fallbacks after exhausted retries",
		}),
		TransportState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "transport",
			Name:      "state",
			Help:      "Transport state (0 idle, 1 polling, 2 streaming, 3 backing off, 4 fallen back)",
		}),
		FetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "transport",
			Name:      "fetch_duration_seconds",
			Help:      "Latency of polling fetches",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
	}
	if reg != nil {
		in.register(reg)
	}
	return in
}

func (in *Instruments) register(reg prometheus.Registerer) {
	in.EventsIngested = registerOrExisting(reg, in.EventsIngested)
	in.EventsEvicted = registerOrExisting(reg, in.EventsEvicted)
	in.Anomalies = registerOrExisting(reg, in.Anomalies)
	in.BufferedEvents = registerOrExisting(reg, in.BufferedEvents)
	in.Fetches = registerOrExisting(reg, in.Fetches)
	in.StreamMessages = registerOrExisting(reg, in.StreamMessages)
	in.Fallbacks = registerOrExisting(reg, in.Fallbacks)
	in.TransportState = registerOrExisting(reg, in.TransportState)
	in.FetchLatency = registerOrExisting(reg, in.FetchLatency)
}

func registerOrExisting[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

// =============================================================================
// RECORDING HELPERS
// =============================================================================

// RecordAppend updates the ingest collectors after an append.
func (in *Instruments) RecordAppend(appended, evicted, buffered int) {
	if in == nil {
		return
	}
	in.EventsIngested.Add(float64(appended))
	in.EventsEvicted.Add(float64(evicted))
	in.BufferedEvents.Set(float64(buffered))
}

// RecordAnomaly counts one raised record.
func (in *Instruments) RecordAnomaly(metric string) {
	if in == nil {
		return
	}
	in.Anomalies.WithLabelValues(metric).Inc()
}

// RecordBuffered sets the buffered event gauge.
func (in *Instruments) RecordBuffered(n int) {
	if in == nil {
		return
	}
	in.BufferedEvents.Set(float64(n))
}

// RecordFetch counts a fetch; result is "ok" or "error".
func (in *Instruments) RecordFetch(result string, seconds float64) {
	if in == nil {
		return
	}
	in.Fetches.WithLabelValues(result).Inc()
	in.FetchLatency.Observe(seconds)
}

// RecordStreamMessage counts a streamed message; result is "ok" or "malformed".
func (in *Instruments) RecordStreamMessage(result string) {
	if in == nil {
		return
	}
	in.StreamMessages.WithLabelValues(result).Inc()
}

// RecordFallback counts a streaming to polling demotion.
func (in *Instruments) RecordFallback() {
	if in == nil {
		return
	}
	in.Fallbacks.Inc()
}

// RecordState sets the transport state gauge.
func (in *Instruments) RecordState(state int) {
	if in == nil {
		return
	}
	in.TransportState.Set(float64(state))
}
