// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import "github.com/jeranaias/usagepulse/internal/model"

const (
	// DefaultAnomalyFactor is the multiple of the window average a value
	// must strictly exceed to be flagged.
	DefaultAnomalyFactor = 2.0

	// DefaultMaxAnomalies caps the anomaly list.
	DefaultMaxAnomalies = 50
)

// IsAnomaly reports whether value > 2 * average.
func IsAnomaly(value, average float64) bool {
	return exceeds(value, average, DefaultAnomalyFactor)
}

func exceeds(value, average, factor float64) bool {
	return value > factor*average
}

// Detector flags per-metric spikes and keeps a capped log of them.
// It is not safe for concurrent use; the Store serialises access.
type Detector struct {
	factor float64
	log    *boundedQueue[model.Anomaly]
}

// NewDetector creates a detector. Non-positive arguments select defaults.
func NewDetector(capacity int, factor float64) *Detector {
	if capacity <= 0 {
		capacity = DefaultMaxAnomalies
	}
	if factor <= 0 {
		factor = DefaultAnomalyFactor
	}
	return &Detector{
		factor: factor,
		log:    newBoundedQueue[model.Anomaly](capacity),
	}
}

// Factor returns the configured multiple.
func (d *Detector) Factor() float64 { return d.factor }

// Evaluate checks each event of a freshly appended batch against agg, the
// aggregates recomputed after the batch was inserted. An event whose base
// key already names a record from an earlier batch is skipped entirely.
// New records are appended to the log and returned.
func (d *Detector) Evaluate(batch []model.MetricEvent, agg model.Aggregates) []model.Anomaly {
	if len(batch) == 0 {
		return nil
	}

	existing := make(map[string]struct{}, d.log.len())
	for _, a := range d.log.items {
		existing[a.ID] = struct{}{}
	}

	avgCost := agg.AvgCost()
	avgTokens := agg.AvgTokens()
	avgLatency := agg.AvgLatency

	var found []model.Anomaly
	for _, ev := range batch {
		key := ev.Key()
		if _, seen := existing[key]; seen {
			continue
		}
		checks := []struct {
			metric  model.AnomalyMetric
			value   float64
			average float64
		}{
			{model.MetricCost, ev.Metrics.TotalCost, avgCost},
			{model.MetricTokens, float64(ev.Metrics.TotalTokens), avgTokens},
			{model.MetricLatency, ev.Metrics.AvgLatencyMs, avgLatency},
		}
		for _, c := range checks {
			if !exceeds(c.value, c.average, d.factor) {
				continue
			}
			found = append(found, model.Anomaly{
				ID:         key + c.metric.IDSuffix(),
				Timestamp:  ev.Timestamp,
				CustomerID: ev.CustomerID,
				Metric:     c.metric,
				Value:      c.value,
				Average:    c.average,
			})
		}
	}

	d.log.push(found...)
	return found
}

// Acknowledge marks the first unacknowledged record with id. It reports
// whether a record changed.
func (d *Detector) Acknowledge(id string) bool {
	for i := range d.log.items {
		a := &d.log.items[i]
		if a.ID == id && !a.Acknowledged {
			a.Acknowledged = true
			return true
		}
	}
	return false
}

// Anomalies returns a copy of the log, oldest first.
func (d *Detector) Anomalies() []model.Anomaly { return d.log.snapshot() }

// Len returns the number of records held.
func (d *Detector) Len() int { return d.log.len() }

// Unacknowledged counts records still awaiting review.
func (d *Detector) Unacknowledged() int {
	n := 0
	for _, a := range d.log.items {
		if !a.Acknowledged {
			n++
		}
	}
	return n
}

// Reset drops every record.
func (d *Detector) Reset() { d.log.reset() }
