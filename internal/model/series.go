// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "time"

// TimeBucket sums the events whose timestamp falls in [Start, Start+width).
type TimeBucket struct {
	Start  time.Time `json:"timestamp"`
	Tokens int64     `json:"tokens"`
	Cost   float64   `json:"cost"`
	Calls  int64     `json:"calls"`
}

// Aggregates are rolling totals over the recent window.
type Aggregates struct {
	TotalCost   float64 `json:"totalCost"`
	TotalTokens int64   `json:"totalTokens"`
	TotalCalls  int64   `json:"totalCalls"`
	AvgLatency  float64 `json:"avgLatency"`
	EventCount  int     `json:"eventCount"`
}

// AvgCost returns totalCost / max(n, 1).
func (a Aggregates) AvgCost() float64 {
	return a.TotalCost / float64(max(a.EventCount, 1))
}

// AvgTokens returns totalTokens / max(n, 1).
func (a Aggregates) AvgTokens() float64 {
	return float64(a.TotalTokens) / float64(max(a.EventCount, 1))
}

// CustomerUsage is a per-customer rollup used for the top-spend ranking.
type CustomerUsage struct {
	CustomerID string  `json:"customerId"`
	TenantID   string  `json:"tenantId"`
	Calls      int64   `json:"calls"`
	Tokens     int64   `json:"tokens"`
	Cost       float64 `json:"cost"`
	AvgLatency float64 `json:"avgLatency"`
	Events     int     `json:"events"`
}
