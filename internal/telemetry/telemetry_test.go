// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/usagepulse/internal/model"
)

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func event(customer string, ts time.Time, cost float64, tokens int64, latency float64) model.MetricEvent {
	return model.MetricEvent{
		Timestamp:  ts,
		TenantID:   "Tenant 1",
		CustomerID: customer,
		Metrics: model.Metrics{
			TotalCalls:   1,
			TotalTokens:  tokens,
			TotalCost:    cost,
			AvgLatencyMs: latency,
		},
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// =============================================================================
// BUFFER TESTS
// =============================================================================

func TestBuffer_EvictsOldestFirst(t *testing.T) {
	b := NewBuffer(1000)

	var all []model.MetricEvent
	for batch := 0; batch < 7; batch++ {
		events := make([]model.MetricEvent, 250)
		for i := range events {
			n := batch*250 + i
			events[i] = event(fmt.Sprintf("c%d", n), baseTime, 0, 0, 0)
		}
		all = append(all, events...)
		b.Append(events...)
		require.LessOrEqual(t, b.Len(), 1000)
	}

	items := b.Items()
	require.Len(t, items, 1000)
	assert.Equal(t, all[len(all)-1000:], items)
}

func TestBuffer_AppendReportsEvictions(t *testing.T) {
	b := NewBuffer(3)
	assert.Equal(t, 0, b.Append(event("a", baseTime, 0, 0, 0), event("b", baseTime, 0, 0, 0)))
	assert.Equal(t, 2, b.Append(event("c", baseTime, 0, 0, 0), event("d", baseTime, 0, 0, 0), event("e", baseTime, 0, 0, 0)))

	ids := []string{}
	for _, ev := range b.Items() {
		ids = append(ids, ev.CustomerID)
	}
	assert.Equal(t, []string{"c", "d", "e"}, ids)
}

func TestBuffer_BatchLargerThanCapacity(t *testing.T) {
	b := NewBuffer(2)
	b.Append(event("a", baseTime, 0, 0, 0), event("b", baseTime, 0, 0, 0), event("c", baseTime, 0, 0, 0))
	items := b.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "b", items[0].CustomerID)
	assert.Equal(t, "c", items[1].CustomerID)
}

func TestBuffer_EmptyAppendAndReset(t *testing.T) {
	b := NewBuffer(0)
	assert.Equal(t, DefaultBufferSize, b.Cap())
	assert.Equal(t, 0, b.Append())
	assert.Equal(t, 0, b.Len())

	b.Append(event("a", baseTime, 0, 0, 0))
	b.Reset()
	assert.Equal(t, 0, b.Len())
	assert.Empty(t, b.Items())
}

func TestBuffer_ItemsIsACopy(t *testing.T) {
	b := NewBuffer(5)
	b.Append(event("a", baseTime, 0, 0, 0))
	items := b.Items()
	items[0].CustomerID = "mutated"
	assert.Equal(t, "a", b.Items()[0].CustomerID)
}

// =============================================================================
// AGGREGATOR TESTS
// =============================================================================

func TestAggregator_WindowBoundaries(t *testing.T) {
	a := NewAggregator(DefaultWindowOptions())
	now := baseTime

	tests := []struct {
		name string
		ts   time.Time
		want bool
	}{
		{"now", now, true},
		{"window start", now.Add(-5 * time.Minute), true},
		{"just before window", now.Add(-5*time.Minute - time.Millisecond), false},
		{"one minute ago", now.Add(-time.Minute), true},
		{"future", now.Add(time.Second), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, a.InWindow(tc.ts, now))
		})
	}
}

func TestAggregator_ComputeUsesWallClockNotNewestEvent(t *testing.T) {
	a := NewAggregator(DefaultWindowOptions())
	events := []model.MetricEvent{
		event("a", baseTime.Add(-10*time.Minute), 5, 50, 100),
		event("b", baseTime.Add(-2*time.Minute), 3, 30, 200),
		event("c", baseTime.Add(-time.Minute), 1, 10, 400),
	}

	view := a.Compute(events, baseTime)
	assert.Equal(t, 2, view.Aggregates.EventCount)
	assert.InDelta(t, 4.0, view.Aggregates.TotalCost, 1e-9)
	assert.Equal(t, int64(40), view.Aggregates.TotalTokens)
	assert.Equal(t, int64(2), view.Aggregates.TotalCalls)
	assert.InDelta(t, 300.0, view.Aggregates.AvgLatency, 1e-9)

	// Twenty minutes later nothing is recent, but the buffer is untouched.
	later := a.Compute(events, baseTime.Add(20*time.Minute))
	assert.Equal(t, 0, later.Aggregates.EventCount)
	assert.Equal(t, 0.0, later.Aggregates.AvgLatency)
	assert.Empty(t, later.Series)
	assert.Len(t, later.TopCustomers, 3)
}

func TestAggregator_BucketSums(t *testing.T) {
	a := NewAggregator(DefaultWindowOptions())
	start := baseTime.Add(-time.Minute)
	events := []model.MetricEvent{
		event("a", start.Add(6*time.Second), 1, 10, 0),
		event("b", start.Add(1*time.Second), 2, 20, 0),
		event("c", start.Add(4999*time.Millisecond), 4, 40, 0),
		event("d", start.Add(5*time.Second), 8, 80, 0),
	}

	series := a.Bucketize(events)
	require.Len(t, series, 2)
	assert.Equal(t, start, series[0].Start)
	assert.Equal(t, int64(60), series[0].Tokens)
	assert.InDelta(t, 6.0, series[0].Cost, 1e-9)
	assert.Equal(t, int64(2), series[0].Calls)
	assert.Equal(t, start.Add(5*time.Second), series[1].Start)
	assert.Equal(t, int64(90), series[1].Tokens)
}

func TestAggregator_SeriesCappedAndSorted(t *testing.T) {
	opts := DefaultWindowOptions()
	opts.Window = time.Hour
	a := NewAggregator(opts)

	// 100 distinct buckets, delivered newest first.
	var events []model.MetricEvent
	for i := 99; i >= 0; i-- {
		events = append(events, event("a", baseTime.Add(-time.Duration(i)*5*time.Second), 1, 1, 1))
	}

	series := a.Compute(events, baseTime).Series
	require.Len(t, series, 60)
	for i := 1; i < len(series); i++ {
		assert.True(t, series[i].Start.After(series[i-1].Start), "bucket keys must increase")
	}
	assert.Equal(t, baseTime, series[len(series)-1].Start)
}

func TestAggregator_SparseSeries(t *testing.T) {
	a := NewAggregator(DefaultWindowOptions())
	events := []model.MetricEvent{
		event("a", baseTime.Add(-4*time.Minute), 1, 1, 1),
		event("a", baseTime.Add(-time.Second), 1, 1, 1),
	}
	assert.Len(t, a.Compute(events, baseTime).Series, 2)
}

func TestTopCustomers(t *testing.T) {
	events := []model.MetricEvent{
		event("beta", baseTime, 5, 10, 100),
		event("alpha", baseTime, 5, 20, 200),
		event("gamma", baseTime, 1, 1, 10),
		event("beta", baseTime, 2, 10, 300),
	}

	top := TopCustomers(events, 2)
	require.Len(t, top, 2)
	assert.Equal(t, "beta", top[0].CustomerID)
	assert.InDelta(t, 7.0, top[0].Cost, 1e-9)
	assert.Equal(t, 2, top[0].Events)
	assert.InDelta(t, 200.0, top[0].AvgLatency, 1e-9)
	assert.Equal(t, "alpha", top[1].CustomerID)
}

func TestTopCustomers_TieBrokenByID(t *testing.T) {
	events := []model.MetricEvent{
		event("zed", baseTime, 1, 1, 1),
		event("amy", baseTime, 1, 1, 1),
	}
	top := TopCustomers(events, 10)
	require.Len(t, top, 2)
	assert.Equal(t, "amy", top[0].CustomerID)
}

// =============================================================================
// DETECTOR TESTS
// =============================================================================

func TestIsAnomaly(t *testing.T) {
	tests := []struct {
		value, average float64
		want           bool
	}{
		{250, 100, true},
		{200, 100, false},
		{199, 100, false},
		{0, 0, false},
		{1, 0, true},
	}
	for _, tc := range tests {
		t.Run(fmt.Sprintf("%v_vs_%v", tc.value, tc.average), func(t *testing.T) {
			assert.Equal(t, tc.want, IsAnomaly(tc.value, tc.average))
		})
	}
}

func TestStore_AppendFlagsOnlySpike(t *testing.T) {
	store := NewStore(StoreOptions{Now: fixedClock(baseTime.Add(3 * time.Second))})
	batch := []model.MetricEvent{
		event("A", baseTime, 10, 100, 200),
		event("B", baseTime.Add(time.Second), 10, 100, 200),
		event("C", baseTime.Add(2*time.Second), 1000, 100, 200),
	}

	found := store.Append(batch)
	require.Len(t, found, 1)
	assert.Equal(t, "C", found[0].CustomerID)
	assert.Equal(t, model.MetricCost, found[0].Metric)
	assert.InDelta(t, 340.0, found[0].Average, 1e-9)
	assert.InDelta(t, 1000.0, found[0].Value, 1e-9)
	assert.Equal(t, batch[2].Key(), found[0].ID)
}

func TestDetector_AllThreeMetrics(t *testing.T) {
	d := NewDetector(50, 2)
	ev := event("X", baseTime, 100, 1000, 900)
	agg := model.Aggregates{TotalCost: 100, TotalTokens: 1000, AvgLatency: 100, EventCount: 4}

	found := d.Evaluate([]model.MetricEvent{ev}, agg)
	require.Len(t, found, 3)
	assert.Equal(t, ev.Key(), found[0].ID)
	assert.Equal(t, ev.Key()+"-tokens", found[1].ID)
	assert.Equal(t, ev.Key()+"-latency", found[2].ID)
	assert.InDelta(t, 25.0, found[0].Average, 1e-9)
	assert.InDelta(t, 250.0, found[1].Average, 1e-9)
}

func TestDetector_DedupOnBareKeyOnly(t *testing.T) {
	d := NewDetector(50, 2)
	ev := event("X", baseTime, 100, 1000, 1)
	agg := model.Aggregates{TotalCost: 100, TotalTokens: 1000, AvgLatency: 100, EventCount: 4}

	require.Len(t, d.Evaluate([]model.MetricEvent{ev}, agg), 2)
	// A cost record exists for the key, so the replay is skipped entirely.
	assert.Empty(t, d.Evaluate([]model.MetricEvent{ev}, agg))

	// Only a tokens record exists: the bare key is absent, so tokens fires again.
	d2 := NewDetector(50, 2)
	tokensOnly := event("Y", baseTime, 1, 1000, 1)
	require.Len(t, d2.Evaluate([]model.MetricEvent{tokensOnly}, agg), 1)
	again := d2.Evaluate([]model.MetricEvent{tokensOnly}, agg)
	require.Len(t, again, 1)
	assert.Equal(t, tokensOnly.Key()+"-tokens", again[0].ID)
	assert.Equal(t, 2, d2.Len())
}

func TestDetector_DuplicateWithinBatchNotDeduped(t *testing.T) {
	d := NewDetector(50, 2)
	ev := event("X", baseTime, 100, 1, 1)
	agg := model.Aggregates{TotalCost: 100, TotalTokens: 100, AvgLatency: 100, EventCount: 10}
	assert.Len(t, d.Evaluate([]model.MetricEvent{ev, ev}, agg), 2)
}

func TestDetector_AcknowledgeFlipsOneOfDuplicateIDs(t *testing.T) {
	d := NewDetector(50, 2)
	ev := event("X", baseTime, 100, 1, 1)
	agg := model.Aggregates{TotalCost: 100, TotalTokens: 100, AvgLatency: 100, EventCount: 10}
	found := d.Evaluate([]model.MetricEvent{ev, ev}, agg)
	require.Len(t, found, 2)
	require.Equal(t, found[0].ID, found[1].ID)

	assert.True(t, d.Acknowledge(found[0].ID))
	list := d.Anomalies()
	assert.True(t, list[0].Acknowledged)
	assert.False(t, list[1].Acknowledged, "only the first match flips")
	assert.Equal(t, 1, d.Unacknowledged())
}

func TestDetector_CapacityAndAcknowledge(t *testing.T) {
	d := NewDetector(50, 2)
	agg := model.Aggregates{TotalCost: 1, TotalTokens: 1_000_000, AvgLatency: 1_000_000, EventCount: 1}

	for i := 0; i < 60; i++ {
		d.Evaluate([]model.MetricEvent{event(fmt.Sprintf("c%02d", i), baseTime, 10, 1, 1)}, agg)
		require.LessOrEqual(t, d.Len(), 50)
	}
	list := d.Anomalies()
	require.Len(t, list, 50)
	assert.Equal(t, "c10", list[0].CustomerID)

	target := list[5].ID
	assert.True(t, d.Acknowledge(target))
	assert.False(t, d.Acknowledge(target), "already acknowledged")
	assert.False(t, d.Acknowledge("missing"))
	assert.Equal(t, 49, d.Unacknowledged())

	acked := 0
	for _, a := range d.Anomalies() {
		if a.Acknowledged {
			acked++
			assert.Equal(t, target, a.ID)
		}
	}
	assert.Equal(t, 1, acked)
}

// =============================================================================
// STORE TESTS
// =============================================================================

func TestStore_ClearKeepsStatusAndConfig(t *testing.T) {
	store := NewStore(StoreOptions{Now: fixedClock(baseTime)})
	now := baseTime
	store.SetStatus(model.ConnectionStatus{Status: model.StatusConnected, LastUpdate: &now})
	store.SetConfig(model.WithInterval(5 * time.Second))
	store.Append([]model.MetricEvent{
		event("A", baseTime, 1, 1, 1),
		event("B", baseTime, 100, 100, 100),
	})
	require.NotZero(t, store.Snapshot().BufferLen)

	store.Clear()
	snap := store.Snapshot()
	assert.Zero(t, snap.BufferLen)
	assert.Equal(t, model.Aggregates{}, snap.Aggregates)
	assert.Empty(t, snap.Series)
	assert.Empty(t, snap.Anomalies)
	assert.Empty(t, snap.TopCustomers)
	assert.Equal(t, model.StatusConnected, snap.Status.Status)
	assert.Equal(t, 5*time.Second, snap.Config.Interval)
}

func TestStore_SetConfigReportsChange(t *testing.T) {
	store := NewStore(StoreOptions{})
	_, changed := store.SetConfig(model.WithInterval(model.DefaultPollInterval))
	assert.False(t, changed)

	cfg, changed := store.SetConfig(model.WithStreaming(true))
	assert.True(t, changed)
	assert.True(t, cfg.UseStreaming)
	assert.Equal(t, model.DefaultPollInterval, cfg.Interval)
}

func TestStore_InitialStatusDisconnected(t *testing.T) {
	store := NewStore(StoreOptions{})
	snap := store.Snapshot()
	assert.Equal(t, model.StatusDisconnected, snap.Status.Status)
	assert.Nil(t, snap.Status.LastUpdate)
	assert.Equal(t, model.DefaultPollingConfig(), snap.Config)
}

func TestStore_SnapshotIsImmutable(t *testing.T) {
	store := NewStore(StoreOptions{Now: fixedClock(baseTime)})
	store.Append([]model.MetricEvent{
		event("A", baseTime, 1, 1, 1),
		event("A2", baseTime, 1, 1, 1),
		event("B", baseTime, 100, 1, 1),
	})

	snap := store.Snapshot()
	require.NotEmpty(t, snap.Anomalies)
	snap.Anomalies[0].Acknowledged = true
	snap.Series[0].Tokens = 999

	again := store.Snapshot()
	assert.False(t, again.Anomalies[0].Acknowledged)
	assert.Equal(t, int64(3), again.Series[0].Tokens)
}

func TestStore_AcknowledgeThroughStore(t *testing.T) {
	store := NewStore(StoreOptions{Now: fixedClock(baseTime)})
	found := store.Append([]model.MetricEvent{
		event("A", baseTime, 1, 1, 1),
		event("A2", baseTime, 1, 1, 1),
		event("B", baseTime, 100, 1, 1),
	})
	require.Len(t, found, 1)

	assert.True(t, store.Acknowledge(found[0].ID))
	snap := store.Snapshot()
	assert.True(t, snap.Anomalies[0].Acknowledged)
	assert.Zero(t, snap.Unacknowledged)
}

func TestStore_SubscribeCoalesces(t *testing.T) {
	store := NewStore(StoreOptions{Now: fixedClock(baseTime)})
	ch, cancel := store.Subscribe()

	store.Append([]model.MetricEvent{event("A", baseTime, 1, 1, 1)})
	store.Append([]model.MetricEvent{event("B", baseTime, 1, 1, 1)})

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected a change signal")
	}
	select {
	case <-ch:
		t.Fatal("signals should coalesce")
	default:
	}

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)
}

func TestStore_ConcurrentReadersSeeConsistentState(t *testing.T) {
	store := NewStore(StoreOptions{Now: fixedClock(baseTime)})

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			store.Append([]model.MetricEvent{event("A", baseTime, 1, 1, 1)})
			if i%50 == 0 {
				store.Clear()
			}
		}
		close(stop)
	}()

	for done := false; !done; {
		select {
		case <-stop:
			done = true
		default:
		}
		snap := store.Snapshot()
		if snap.BufferLen == 0 {
			assert.Zero(t, snap.Aggregates.EventCount)
		} else {
			assert.Equal(t, snap.BufferLen, snap.Aggregates.EventCount)
		}
	}
	wg.Wait()
}

func TestStore_RecordsInstruments(t *testing.T) {
	reg := prometheus.NewRegistry()
	in := NewInstruments(reg)
	store := NewStore(StoreOptions{BufferSize: 2, Now: fixedClock(baseTime), Instruments: in})

	store.Append([]model.MetricEvent{
		event("A", baseTime, 1, 1, 1),
		event("B", baseTime, 1, 1, 1),
		event("C", baseTime, 100, 1, 1),
	})

	assert.Equal(t, 3.0, testutil.ToFloat64(in.EventsIngested))
	assert.Equal(t, 1.0, testutil.ToFloat64(in.EventsEvicted))
	assert.Equal(t, 2.0, testutil.ToFloat64(in.BufferedEvents))

	// Registering again reuses the existing collectors.
	again := NewInstruments(reg)
	assert.Equal(t, 3.0, testutil.ToFloat64(again.EventsIngested))
}
