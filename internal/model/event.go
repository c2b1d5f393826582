// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// TIMESTAMPS
// =============================================================================

// TimestampLayout is the wire layout for event timestamps (UTC, millisecond precision).
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTimestamp renders t in the wire layout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses an ISO-8601 / RFC 3339 timestamp.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// =============================================================================
// METRIC EVENT
// =============================================================================

// Metrics holds the per-event usage numbers.
type Metrics struct {
	TotalCalls   int64   `json:"totalCalls"`
	TotalTokens  int64   `json:"totalTokens"`
	TotalCost    float64 `json:"totalCost"`
	AvgLatencyMs float64 `json:"avgLatencyMs"`
}

// MetricEvent is one usage observation. Events are never mutated after creation.
type MetricEvent struct {
	Timestamp  time.Time `json:"timestamp"`
	TenantID   string    `json:"tenantId"`
	CustomerID string    `json:"customerId"`
	Metrics    Metrics   `json:"metrics"`
}

// ErrInvalidEvent is returned when an event fails validation.
var ErrInvalidEvent = errors.New("invalid metric event")

type wireEvent struct {
	Timestamp  string   `json:"timestamp"`
	TenantID   string   `json:"tenantId"`
	CustomerID string   `json:"customerId"`
	Metrics    *Metrics `json:"metrics"`
}

// MarshalJSON encodes the event with a wire-layout timestamp.
func (e MetricEvent) MarshalJSON() ([]byte, error) {
	m := e.Metrics
	return json.Marshal(wireEvent{
		Timestamp:  FormatTimestamp(e.Timestamp),
		TenantID:   e.TenantID,
		CustomerID: e.CustomerID,
		Metrics:    &m,
	})
}

// UnmarshalJSON decodes an event, rejecting a missing timestamp or metrics block.
func (e *MetricEvent) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	ts, err := ParseTimestamp(w.Timestamp)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if w.Metrics == nil {
		return fmt.Errorf("%w: missing metrics", ErrInvalidEvent)
	}
	*e = MetricEvent{
		Timestamp:  ts,
		TenantID:   w.TenantID,
		CustomerID: w.CustomerID,
		Metrics:    *w.Metrics,
	}
	return nil
}

// Validate checks the invariants of a decoded event.
func (e MetricEvent) Validate() error {
	if e.Timestamp.IsZero() {
		return fmt.Errorf("%w: zero timestamp", ErrInvalidEvent)
	}
	if e.CustomerID == "" {
		return fmt.Errorf("%w: empty customerId", ErrInvalidEvent)
	}
	m := e.Metrics
	if m.TotalCalls < 0 || m.TotalTokens < 0 || m.TotalCost < 0 || m.AvgLatencyMs < 0 {
		return fmt.Errorf("%w: negative metric", ErrInvalidEvent)
	}
	return nil
}

// Key returns the anomaly base key for the event: timestamp + "-" + customerId.
func (e MetricEvent) Key() string {
	return FormatTimestamp(e.Timestamp) + "-" + e.CustomerID
}

// DecodeEvent parses and validates a single JSON-encoded event.
func DecodeEvent(data []byte) (MetricEvent, error) {
	var ev MetricEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return MetricEvent{}, err
	}
	if err := ev.Validate(); err != nil {
		return MetricEvent{}, err
	}
	return ev, nil
}

// =============================================================================
// RESPONSE ENVELOPES
// =============================================================================

// MetricsResponse is the polling response body.
// NextPollAfter is advisory only; cadence is governed by PollingConfig.Interval.
type MetricsResponse struct {
	Metrics       []MetricEvent `json:"metrics"`
	NextPollAfter int64         `json:"nextPollAfter"`
}

// HistoryAggregations summarises a history range.
type HistoryAggregations struct {
	TotalCalls   int64   `json:"totalCalls"`
	TotalTokens  int64   `json:"totalTokens"`
	TotalCost    float64 `json:"totalCost"`
	AvgLatencyMs float64 `json:"avgLatencyMs"`
	Events       int     `json:"events"`
}

// HistoryResponse is returned by the history endpoint.
type HistoryResponse struct {
	From         time.Time           `json:"from"`
	To           time.Time           `json:"to"`
	Metrics      []MetricEvent       `json:"metrics"`
	Aggregations HistoryAggregations `json:"aggregations"`
}
