// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export renders usage reports from a telemetry snapshot.
//
// # Key Types
//
//   - Report: point-in-time totals, top customers, anomalies and buckets
//   - Exporter: renders a Report in one format
//   - Options: export configuration options
//
// # Supported Formats
//
//   - Markdown: tables, suitable for glamour rendering
//   - JSON: the full Report
//   - HTML: standalone page with light and dark themes
//
// # Usage
//
//	report := export.NewReport(engine.Snapshot(), export.Meta{Source: url})
//	exporter, err := export.ForFormat("markdown", nil)
//	if err != nil {
//		return err
//	}
//	path, err := export.ExportToFile(report, exporter, nil)
package export
