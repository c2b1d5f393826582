// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures shared by the ingestion engine,
// the event source and the control surfaces.
//
// # Key Types
//
//   - MetricEvent: One usage/cost observation tagged by tenant and customer
//   - MetricsResponse: Polling response envelope
//   - Anomaly: Alert record produced by the detector
//   - ConnectionStatus: Transport health as seen by the dashboard
//   - PollingConfig / ConfigPatch: Acquisition settings and partial updates
//   - TimeBucket / Aggregates / CustomerUsage: Derived rolling view
//
// # Wire Format
//
// Events travel as JSON with camelCase field names. Timestamps are encoded
// as UTC ISO-8601 with millisecond precision:
//
//	{"timestamp":"2025-01-01T12:00:00.000Z","tenantId":"Tenant 1",
//	 "customerId":"Customer A","metrics":{"totalCalls":1,"totalTokens":420,
//	 "totalCost":0.0126,"avgLatencyMs":180}}
//
// # Usage
//
//	ev, err := model.DecodeEvent(payload)
//	if err != nil {
//	    // malformed payload, drop it
//	}
package model
