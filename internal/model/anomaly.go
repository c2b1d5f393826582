// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "time"

// AnomalyMetric names the metric an anomaly was raised for.
type AnomalyMetric string

const (
	MetricCost    AnomalyMetric = "cost"
	MetricTokens  AnomalyMetric = "tokens"
	MetricLatency AnomalyMetric = "latency"
)

// IDSuffix returns the suffix appended to the event key for this metric.
// Cost anomalies use the bare key.
func (m AnomalyMetric) IDSuffix() string {
	switch m {
	case MetricTokens:
		return "-tokens"
	case MetricLatency:
		return "-latency"
	default:
		return ""
	}
}

// Anomaly is an alert raised when one metric of an event exceeds the
// rolling average by the configured factor. Only Acknowledged may change
// after creation.
type Anomaly struct {
	ID           string        `json:"id"`
	Timestamp    time.Time     `json:"timestamp"`
	CustomerID   string        `json:"customerId"`
	Metric       AnomalyMetric `json:"metric"`
	Value        float64       `json:"value"`
	Average      float64       `json:"average"`
	Acknowledged bool          `json:"acknowledged"`
}

// Ratio returns value / average, or 0 when the average is zero.
func (a Anomaly) Ratio() float64 {
	if a.Average == 0 {
		return 0
	}
	return a.Value / a.Average
}
