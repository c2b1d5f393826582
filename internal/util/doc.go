// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared by the command line, the
// dashboard and the report renderer.
//
// # Key Functions
//
// Display:
//   - TruncateWidth, PadRight, PadLeft: Column-aware cell fitting
//   - FormatCount, FormatCompact, FormatCost, FormatLatency: Number rendering
//   - RelativeTime: "3 seconds ago" style timestamps
//
// File Operations:
//   - AtomicWriteFile: Crash-safe file writing with fsync
//
// # Usage
//
//	cell := util.PadRight(customerID, 14)
//	fmt.Println(util.FormatCost(snap.Aggregates.TotalCost))
//	err := util.AtomicWriteFile(path, data, 0600)
package util
