// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jeranaias/usagepulse/internal/config"
	"github.com/jeranaias/usagepulse/internal/model"
	"github.com/jeranaias/usagepulse/internal/transport"
)

// newTestServer builds a source with faults disabled and no background
// generator; tests drive it with Tick.
func newTestServer(t *testing.T, mutate func(*Options)) (*Server, *httptest.Server) {
	t.Helper()
	opts := DefaultOptions()
	opts.Seed = 42
	opts.ErrorRate = 0
	opts.MaxLatency = 0
	opts.RateLimit = 0
	if mutate != nil {
		mutate(&opts)
	}
	srv, err := NewServer(opts)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return srv, ts
}

func getJSON(t *testing.T, u string, v interface{}) *http.Response {
	t.Helper()
	resp, err := http.Get(u)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp
}

func eventAt(base time.Time, offset time.Duration, customer string) model.MetricEvent {
	return model.MetricEvent{
		Timestamp:  base.Add(offset),
		TenantID:   "Tenant 1",
		CustomerID: customer,
		Metrics:    model.Metrics{TotalCalls: 1, TotalTokens: 100, TotalCost: 0.0001, AvgLatencyMs: 80},
	}
}

// =============================================================================
// GENERATOR TESTS
// =============================================================================

func TestGenerator_BatchShape(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 123456789, time.UTC)
	gen := NewGenerator(7, func() time.Time { return now })

	for i := 0; i < 200; i++ {
		batch := gen.Batch()
		require.GreaterOrEqual(t, len(batch), 1)
		require.LessOrEqual(t, len(batch), MaxBatch)
		for _, ev := range batch {
			assert.Equal(t, now.Truncate(time.Millisecond), ev.Timestamp)
			assert.Contains(t, Customers, ev.CustomerID)
			assert.Contains(t, Tenants, ev.TenantID)
			assert.Equal(t, int64(1), ev.Metrics.TotalCalls)
			assert.GreaterOrEqual(t, ev.Metrics.TotalTokens, int64(50))
			assert.Less(t, ev.Metrics.TotalTokens, int64(10500))
			assert.GreaterOrEqual(t, ev.Metrics.AvgLatencyMs, 50.0)
			assert.Less(t, ev.Metrics.AvgLatencyMs, 1100.0)
			assert.NoError(t, ev.Validate())
		}
	}
}

func TestGenerator_SameSeedSameSequence(t *testing.T) {
	clock := func() time.Time { return time.Unix(1700000000, 0) }
	a := NewGenerator(99, clock)
	b := NewGenerator(99, clock)
	for i := 0; i < 20; i++ {
		assert.Equal(t, a.Next(), b.Next())
	}
}

func TestCostPerToken(t *testing.T) {
	assert.Equal(t, 0.00003, CostPerToken("gpt-4"))
	assert.Equal(t, 0.00003, CostPerToken("gpt-4-turbo"))
	assert.Equal(t, 0.000001, CostPerToken("gpt-3.5-turbo"))
	assert.Equal(t, 0.000001, CostPerToken("claude-3-opus"))
}

// =============================================================================
// FEED TESTS
// =============================================================================

func TestFeed_Since(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	feed := NewFeed(100)
	var events []model.MetricEvent
	for i := 0; i < 80; i++ {
		events = append(events, eventAt(base, time.Duration(i)*time.Second, "Customer A"))
	}
	feed.Append(events)

	t.Run("no cursor returns the last page", func(t *testing.T) {
		out := feed.Since(nil)
		require.Len(t, out, InitialPollSize)
		assert.Equal(t, base.Add(30*time.Second), out[0].Timestamp)
		assert.Equal(t, base.Add(79*time.Second), out[len(out)-1].Timestamp)
	})

	t.Run("cursor is exclusive", func(t *testing.T) {
		since := base.Add(77 * time.Second)
		out := feed.Since(&since)
		require.Len(t, out, 2)
		assert.Equal(t, base.Add(78*time.Second), out[0].Timestamp)
	})

	t.Run("cursor past the end", func(t *testing.T) {
		since := base.Add(time.Hour)
		assert.Empty(t, feed.Since(&since))
	})

	t.Run("result is a copy", func(t *testing.T) {
		out := feed.Since(nil)
		out[0].CustomerID = "mutated"
		assert.Equal(t, "Customer A", feed.Since(nil)[0].CustomerID)
	})
}

func TestFeed_RetentionAndCap(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	feed := NewFeed(1000)
	var events []model.MetricEvent
	for i := 0; i < 1200; i++ {
		events = append(events, eventAt(base, time.Duration(i)*time.Millisecond, "Customer B"))
	}
	feed.Append(events)
	assert.Equal(t, 1000, feed.Len())

	since := base.Add(-time.Second)
	out := feed.Since(&since)
	require.Len(t, out, MaxPollSize)
	assert.Equal(t, base.Add(1199*time.Millisecond), out[len(out)-1].Timestamp)
}

// =============================================================================
// HISTORY TESTS
// =============================================================================

func TestHistory_InsertRangeAggregate(t *testing.T) {
	h, err := OpenHistory("", nil)
	require.NoError(t, err)
	defer h.Close()

	ctx := context.Background()
	base := time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, h.Insert(ctx, []model.MetricEvent{
		eventAt(base, 0, "Customer A"),
		eventAt(base, time.Minute, "Customer B"),
		eventAt(base, 2*time.Minute, "Customer C"),
	}))
	require.NoError(t, h.Insert(ctx, nil))

	events, agg, err := h.Range(ctx, base, base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "Customer A", events[0].CustomerID)
	assert.Equal(t, base.Add(time.Minute), events[1].Timestamp)
	assert.Equal(t, 2, agg.Events)
	assert.Equal(t, int64(2), agg.TotalCalls)
	assert.Equal(t, int64(200), agg.TotalTokens)
	assert.InDelta(t, 0.0002, agg.TotalCost, 1e-12)
	assert.InDelta(t, 80.0, agg.AvgLatencyMs, 1e-9)

	n, err := h.Prune(ctx, base.Add(90*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	events, agg, err = h.Range(ctx, base, base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Customer C", events[0].CustomerID)
	assert.Equal(t, 1, agg.Events)
}

func TestHistory_EmptyRange(t *testing.T) {
	h, err := OpenHistory("", nil)
	require.NoError(t, err)
	defer h.Close()

	now := time.Now()
	events, agg, err := h.Range(context.Background(), now.Add(-time.Hour), now)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.NotNil(t, events)
	assert.Zero(t, agg.TotalTokens)
}

func TestHistory_FileBacked(t *testing.T) {
	path := t.TempDir() + "/history.db"
	h, err := OpenHistory(path, nil)
	require.NoError(t, err)
	base := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, h.Insert(context.Background(), []model.MetricEvent{eventAt(base, 0, "Customer D")}))
	require.NoError(t, h.Close())

	h, err = OpenHistory(path, nil)
	require.NoError(t, err)
	defer h.Close()
	events, _, err := h.Range(context.Background(), base.Add(-time.Second), base.Add(time.Second))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Customer D", events[0].CustomerID)
}

// =============================================================================
// HANDLER TESTS
// =============================================================================

func TestHandleMetrics(t *testing.T) {
	srv, ts := newTestServer(t, nil)
	ctx := context.Background()
	first := srv.Tick(ctx)

	var resp model.MetricsResponse
	r := getJSON(t, ts.URL+"/api/metrics", &resp)
	require.Equal(t, http.StatusOK, r.StatusCode)
	assert.Equal(t, int64(NextPollAfterMs), resp.NextPollAfter)
	assert.Len(t, resp.Metrics, len(first))

	since := first[len(first)-1].Timestamp
	time.Sleep(2 * time.Millisecond)
	second := srv.Tick(ctx)

	resp = model.MetricsResponse{}
	r = getJSON(t, ts.URL+"/api/metrics?since="+url.QueryEscape(model.FormatTimestamp(since)), &resp)
	require.Equal(t, http.StatusOK, r.StatusCode)
	assert.Len(t, resp.Metrics, len(second))
}

func TestHandleMetrics_BadCursor(t *testing.T) {
	_, ts := newTestServer(t, nil)
	r := getJSON(t, ts.URL+"/api/metrics?since=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, r.StatusCode)
}

func TestHandleMetrics_InjectedFailure(t *testing.T) {
	_, ts := newTestServer(t, func(o *Options) { o.ErrorRate = 1 })
	r := getJSON(t, ts.URL+"/api/metrics", nil)
	assert.Equal(t, http.StatusInternalServerError, r.StatusCode)
}

func TestHandleMetrics_TransportClient(t *testing.T) {
	srv, ts := newTestServer(t, nil)
	batch := srv.Tick(context.Background())

	client := transport.NewClient(ts.URL)
	got, err := client.Fetch(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, got.Events, len(batch))
	assert.Zero(t, got.Dropped)
	assert.Equal(t, 2*time.Second, got.NextPollAfter)
}

func TestHandleHistory(t *testing.T) {
	srv, ts := newTestServer(t, nil)
	batch := srv.Tick(context.Background())

	var resp model.HistoryResponse
	r := getJSON(t, ts.URL+"/api/metrics/history", &resp)
	require.Equal(t, http.StatusOK, r.StatusCode)
	assert.Len(t, resp.Metrics, len(batch))
	assert.Equal(t, len(batch), resp.Aggregations.Events)
	assert.Equal(t, int64(len(batch)), resp.Aggregations.TotalCalls)
	assert.Equal(t, time.Hour, resp.To.Sub(resp.From))

	from := model.FormatTimestamp(time.Now().Add(time.Hour))
	to := model.FormatTimestamp(time.Now())
	r = getJSON(t, ts.URL+"/api/metrics/history?from="+url.QueryEscape(from)+"&to="+url.QueryEscape(to), nil)
	assert.Equal(t, http.StatusBadRequest, r.StatusCode)

	r = getJSON(t, ts.URL+"/api/metrics/history?from=nope", nil)
	assert.Equal(t, http.StatusBadRequest, r.StatusCode)
}

func TestHandleHealthAndMetrics(t *testing.T) {
	srv, ts := newTestServer(t, nil)
	batch := srv.Tick(context.Background())

	var health HealthResponse
	r := getJSON(t, ts.URL+"/health", &health)
	require.Equal(t, http.StatusOK, r.StatusCode)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, len(batch), health.Retained)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "usagepulse_source_events_generated_total")
}

// =============================================================================
// STREAMING TESTS
// =============================================================================

func TestHandleStream_DeliversEvents(t *testing.T) {
	srv, ts := newTestServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := transport.NewClient(ts.URL).Dial(ctx)
	require.NoError(t, err)
	defer stream.Close()

	require.Eventually(t, func() bool { return srv.hub.Len() == 1 }, 2*time.Second, 5*time.Millisecond)
	batch := srv.Tick(ctx)

	for i := range batch {
		data, err := stream.Next(ctx)
		require.NoError(t, err)
		ev, err := model.DecodeEvent(data)
		require.NoError(t, err)
		assert.Equal(t, batch[i].CustomerID, ev.CustomerID)
		assert.Equal(t, batch[i].Metrics.TotalTokens, ev.Metrics.TotalTokens)
	}
}

func TestHandleStream_Heartbeat(t *testing.T) {
	_, ts := newTestServer(t, func(o *Options) { o.Heartbeat = 10 * time.Millisecond })

	resp, err := http.Get(ts.URL + "/api/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	buf := make([]byte, 64)
	n, err := io.ReadAtLeast(resp.Body, buf, len(": ping\n\n"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(buf[:n]), ": ping"))
}

func TestHandleStream_CloseEndsStream(t *testing.T) {
	srv, ts := newTestServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := transport.NewClient(ts.URL).Dial(ctx)
	require.NoError(t, err)
	defer stream.Close()
	require.Eventually(t, func() bool { return srv.hub.Len() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, srv.Close())
	_, err = stream.Next(ctx)
	assert.Error(t, err)
	assert.Equal(t, 0, srv.hub.Len())
}

func TestHandleWebSocket_DeliversEvents(t *testing.T) {
	srv, ts := newTestServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := transport.NewWebSocketDialer(ts.URL, "").Dial(ctx)
	require.NoError(t, err)
	defer stream.Close()

	require.Eventually(t, func() bool { return srv.hub.Len() == 1 }, 2*time.Second, 5*time.Millisecond)
	batch := srv.Tick(ctx)

	for i := range batch {
		data, err := stream.Next(ctx)
		require.NoError(t, err)
		ev, err := model.DecodeEvent(data)
		require.NoError(t, err)
		assert.Equal(t, batch[i].CustomerID, ev.CustomerID)
	}

	require.NoError(t, stream.Close())
	require.Eventually(t, func() bool { return srv.hub.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestTick_MalformedInjection(t *testing.T) {
	srv, ts := newTestServer(t, func(o *Options) { o.MalformedRate = 1 })
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := transport.NewClient(ts.URL).Dial(ctx)
	require.NoError(t, err)
	defer stream.Close()
	require.Eventually(t, func() bool { return srv.hub.Len() == 1 }, 2*time.Second, 5*time.Millisecond)

	batch := srv.Tick(ctx)
	for range batch {
		_, err := stream.Next(ctx)
		require.NoError(t, err)
	}
	data, err := stream.Next(ctx)
	require.NoError(t, err)
	_, err = model.DecodeEvent(data)
	assert.Error(t, err)
}

// =============================================================================
// HUB TESTS
// =============================================================================

type fakeSubscriber struct {
	fail   bool
	sent   atomic.Int32
	closed atomic.Bool
}

func (f *fakeSubscriber) Send([]byte) error {
	if f.fail {
		return errors.New("gone")
	}
	f.sent.Add(1)
	return nil
}

func (f *fakeSubscriber) Close() { f.closed.Store(true) }

func TestHub_DropsFailingSubscribers(t *testing.T) {
	hub := NewHub(nil)
	good := &fakeSubscriber{}
	bad := &fakeSubscriber{fail: true}
	hub.Register(good)
	hub.Register(bad)

	hub.Broadcast([]byte("x"))
	assert.Equal(t, int32(1), good.sent.Load())
	assert.True(t, bad.closed.Load())
	assert.Equal(t, 1, hub.Len())

	hub.CloseAll()
	assert.True(t, good.closed.Load())
	assert.Equal(t, 0, hub.Len())
}

// =============================================================================
// MIDDLEWARE TESTS
// =============================================================================

func TestCORSMiddleware(t *testing.T) {
	_, ts := newTestServer(t, nil)

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/metrics", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))

	req, _ = http.NewRequest(http.MethodGet, ts.URL+"/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestCORSConfig_Wildcards(t *testing.T) {
	cfg := &CORSConfig{AllowedOrigins: []string{"*.example.com"}}
	assert.Equal(t, "https://app.example.com", cfg.allowedOrigin("https://app.example.com"))
	assert.Empty(t, cfg.allowedOrigin("https://example.org"))

	cfg = &CORSConfig{AllowedOrigins: []string{"*"}}
	assert.Equal(t, "*", cfg.allowedOrigin("https://anything"))
}

func TestRateLimitMiddleware(t *testing.T) {
	_, ts := newTestServer(t, func(o *Options) {
		o.RateLimit = 0.001
		o.RateBurst = 2
	})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		r := getJSON(t, ts.URL+"/api/metrics", nil)
		codes = append(codes, r.StatusCode)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// Health is outside the limited group.
	r := getJSON(t, ts.URL+"/health", nil)
	assert.Equal(t, http.StatusOK, r.StatusCode)
}

func TestRateLimiter_Sweep(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	defer rl.Close()
	now := time.Now()
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.Equal(t, 1, rl.Len())

	now = now.Add(DefaultLimiterIdle + time.Second)
	rl.sweep()
	assert.Equal(t, 0, rl.Len())
}

func TestRequestIDMiddleware(t *testing.T) {
	_, ts := newTestServer(t, nil)

	r := getJSON(t, ts.URL+"/health", nil)
	assert.Len(t, r.Header.Get(RequestIDHeader), 36)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/health", nil)
	req.Header.Set(RequestIDHeader, "6f1c1d9e-8a57-4c54-9b0e-6e3f5a0c2b11")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "6f1c1d9e-8a57-4c54-9b0e-6e3f5a0c2b11", resp.Header.Get(RequestIDHeader))
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := RecoveryMiddleware(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name   string
		remote string
		xff    string
		xri    string
		want   string
	}{
		{"direct", "203.0.113.9:5000", "", "", "203.0.113.9"},
		{"untrusted forwarded header ignored", "203.0.113.9:5000", "1.2.3.4", "", "203.0.113.9"},
		{"trusted proxy xff", "127.0.0.1:5000", "198.51.100.7, 10.0.0.1", "", "198.51.100.7"},
		{"trusted proxy real ip", "10.1.2.3:5000", "", "198.51.100.8", "198.51.100.8"},
		{"invalid forwarded value", "127.0.0.1:5000", "not-an-ip", "", "127.0.0.1"},
		{"no port", "192.0.2.1", "", "", "192.0.2.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				req.Header.Set("X-Real-IP", tt.xri)
			}
			assert.Equal(t, tt.want, GetClientIP(req))
		})
	}
}

// =============================================================================
// LIFECYCLE TESTS
// =============================================================================

func TestServe_GeneratesAndShutsDown(t *testing.T) {
	opts := DefaultOptions()
	opts.Addr = "127.0.0.1:0"
	opts.Tick = 5 * time.Millisecond
	opts.ErrorRate = 0
	opts.MaxLatency = 0
	srv, err := NewServer(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx) }()

	require.Eventually(t, func() bool { return srv.feed.Len() > 0 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
	assert.NoError(t, srv.Close())
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Addr = ":4000"
	cfg.Server.TickMs = 100
	cfg.Server.ErrorRate = 0.5
	cfg.Server.MaxLatencyMs = 10
	cfg.Server.HistoryDB = "/tmp/h.db"

	opts := OptionsFromConfig(cfg)
	assert.Equal(t, ":4000", opts.Addr)
	assert.Equal(t, 100*time.Millisecond, opts.Tick)
	assert.Equal(t, 0.5, opts.ErrorRate)
	assert.Equal(t, 10*time.Millisecond, opts.MaxLatency)
	assert.Equal(t, "/tmp/h.db", opts.HistoryPath)
	assert.Equal(t, DefaultHeartbeat, opts.Heartbeat)
}
