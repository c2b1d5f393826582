// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"sort"
	"time"

	"github.com/jeranaias/usagepulse/internal/model"
)

// =============================================================================
// WINDOW OPTIONS
// =============================================================================

const (
	DefaultWindow       = 5 * time.Minute
	DefaultBucketWidth  = 5 * time.Second
	DefaultMaxBuckets   = 60
	DefaultTopCustomers = 10
)

// WindowOptions configures the aggregator.
type WindowOptions struct {
	Window       time.Duration
	BucketWidth  time.Duration
	MaxBuckets   int
	TopCustomers int
}

// DefaultWindowOptions returns a 5 minute window with 60 five-second buckets.
func DefaultWindowOptions() WindowOptions {
	return WindowOptions{
		Window:       DefaultWindow,
		BucketWidth:  DefaultBucketWidth,
		MaxBuckets:   DefaultMaxBuckets,
		TopCustomers: DefaultTopCustomers,
	}
}

func (o WindowOptions) withDefaults() WindowOptions {
	d := DefaultWindowOptions()
	if o.Window <= 0 {
		o.Window = d.Window
	}
	if o.BucketWidth < time.Millisecond {
		o.BucketWidth = d.BucketWidth
	}
	if o.MaxBuckets <= 0 {
		o.MaxBuckets = d.MaxBuckets
	}
	if o.TopCustomers <= 0 {
		o.TopCustomers = d.TopCustomers
	}
	return o
}

// =============================================================================
// AGGREGATOR
// =============================================================================

// View is the derived state recomputed on every append.
type View struct {
	Aggregates   model.Aggregates      `json:"aggregates"`
	Series       []model.TimeBucket    `json:"series"`
	TopCustomers []model.CustomerUsage `json:"topCustomers"`
	ComputedAt   time.Time             `json:"computedAt"`
}

// Aggregator derives a View from buffer contents. It holds no state besides
// its options.
type Aggregator struct {
	opts WindowOptions
}

// NewAggregator creates an aggregator; zero fields take defaults.
func NewAggregator(opts WindowOptions) *Aggregator {
	return &Aggregator{opts: opts.withDefaults()}
}

// Options returns the effective options.
func (a *Aggregator) Options() WindowOptions { return a.opts }

// InWindow reports whether ts lies in [now-window, now].
func (a *Aggregator) InWindow(ts, now time.Time) bool {
	return !ts.Before(now.Add(-a.opts.Window)) && !ts.After(now)
}

// Recent returns the events inside the window, preserving order.
func (a *Aggregator) Recent(events []model.MetricEvent, now time.Time) []model.MetricEvent {
	recent := make([]model.MetricEvent, 0, len(events))
	for _, ev := range events {
		if a.InWindow(ev.Timestamp, now) {
			recent = append(recent, ev)
		}
	}
	return recent
}

// Compute recomputes aggregates, series and top customers.
func (a *Aggregator) Compute(events []model.MetricEvent, now time.Time) View {
	recent := a.Recent(events, now)
	return View{
		Aggregates:   Summarize(recent),
		Series:       a.Bucketize(recent),
		TopCustomers: TopCustomers(events, a.opts.TopCustomers),
		ComputedAt:   now,
	}
}

// Summarize sums the events; AvgLatency is the mean of avgLatencyMs.
func Summarize(events []model.MetricEvent) model.Aggregates {
	var agg model.Aggregates
	var latency float64
	for _, ev := range events {
		agg.TotalCost += ev.Metrics.TotalCost
		agg.TotalTokens += ev.Metrics.TotalTokens
		agg.TotalCalls += ev.Metrics.TotalCalls
		latency += ev.Metrics.AvgLatencyMs
	}
	agg.EventCount = len(events)
	if agg.EventCount > 0 {
		agg.AvgLatency = latency / float64(agg.EventCount)
	}
	return agg
}

// BucketKey floors ts to the bucket width, in unix milliseconds.
func (a *Aggregator) BucketKey(ts time.Time) int64 {
	width := a.opts.BucketWidth.Milliseconds()
	ms := ts.UnixMilli()
	key := ms / width * width
	if ms < 0 && ms%width != 0 {
		key -= width
	}
	return key
}

// Bucketize groups events by bucket key, sorted ascending, keeping only the
// most recent MaxBuckets.
func (a *Aggregator) Bucketize(events []model.MetricEvent) []model.TimeBucket {
	if len(events) == 0 {
		return []model.TimeBucket{}
	}

	sums := make(map[int64]*model.TimeBucket)
	for _, ev := range events {
		key := a.BucketKey(ev.Timestamp)
		b, ok := sums[key]
		if !ok {
			b = &model.TimeBucket{Start: time.UnixMilli(key).UTC()}
			sums[key] = b
		}
		b.Tokens += ev.Metrics.TotalTokens
		b.Cost += ev.Metrics.TotalCost
		b.Calls += ev.Metrics.TotalCalls
	}

	keys := make([]int64, 0, len(sums))
	for k := range sums {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	if len(keys) > a.opts.MaxBuckets {
		keys = keys[len(keys)-a.opts.MaxBuckets:]
	}

	series := make([]model.TimeBucket, len(keys))
	for i, k := range keys {
		series[i] = *sums[k]
	}
	return series
}

// TopCustomers ranks customers by cost (descending, ties by id) and keeps
// the first n.
func TopCustomers(events []model.MetricEvent, n int) []model.CustomerUsage {
	byID := make(map[string]*model.CustomerUsage)
	latency := make(map[string]float64)
	for _, ev := range events {
		u, ok := byID[ev.CustomerID]
		if !ok {
			u = &model.CustomerUsage{CustomerID: ev.CustomerID}
			byID[ev.CustomerID] = u
		}
		u.TenantID = ev.TenantID
		u.Calls += ev.Metrics.TotalCalls
		u.Tokens += ev.Metrics.TotalTokens
		u.Cost += ev.Metrics.TotalCost
		u.Events++
		latency[ev.CustomerID] += ev.Metrics.AvgLatencyMs
	}

	out := make([]model.CustomerUsage, 0, len(byID))
	for id, u := range byID {
		u.AvgLatency = latency[id] / float64(u.Events)
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Cost != out[j].Cost {
			return out[i].Cost > out[j].Cost
		}
		return out[i].CustomerID < out[j].CustomerID
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
