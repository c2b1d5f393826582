// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

// sourceMetrics are the collectors exposed on /metrics by the event source.
type sourceMetrics struct {
	generated   prometheus.Counter
	malformed   prometheus.Counter
	polls       *prometheus.CounterVec
	subscribers *prometheus.GaugeVec
	retained    prometheus.Gauge
	historyErrs prometheus.Counter
}

func newSourceMetrics(reg prometheus.Registerer) *sourceMetrics {
	m := &sourceMetrics{
		generated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "usagepulse",
			Subsystem: "source",
			Name:      "events_generated_total",
			Help:      "Synthetic events generated",
		}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "usagepulse",
			Subsystem: "source",
			Name:      "malformed_frames_total",
			Help:      "Deliberately malformed frames pushed to subscribers",
		}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "usagepulse",
			Subsystem: "source",
			Name:      "polls_total",
			Help:      "Polling requests, by result",
		}, []string{"result"}),
		subscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "usagepulse",
			Subsystem: "source",
			Name:      "subscribers",
			Help:      "Connected push subscribers, by protocol",
		}, []string{"protocol"}),
		retained: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "usagepulse",
			Subsystem: "source",
			Name:      "retained_events",
			Help:      "Events retained for polling",
		}),
		historyErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "usagepulse",
			Subsystem: "source",
			Name:      "history_errors_total",
			Help:      "Failed history writes",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.generated, m.malformed, m.polls, m.subscribers, m.retained, m.historyErrs)
	}
	return m
}
