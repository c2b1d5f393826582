// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry holds the ingestion core's shared state: the bounded
// event buffer, the windowed aggregator, the anomaly detector and the
// Store that owns all three together with connection status and polling
// config.
//
// # Key Types
//
//   - Buffer: Capacity-bounded FIFO of raw events
//   - Aggregator: Pure (events, now) -> View computation
//   - Detector: Spike detection against post-insert window averages
//   - Store: Single owner of the state; every mutation is one command
//   - Instruments: Prometheus collectors shared with the transport layer
//
// # Usage
//
//	store := telemetry.NewStore(telemetry.DefaultStoreOptions())
//	store.Append(batch)
//	snap := store.Snapshot()
//	fmt.Printf("window cost: $%.4f\n", snap.Aggregates.TotalCost)
//
// # Consistency
//
// Append and Clear take the store's write lock for the whole operation, so
// a Snapshot never observes a buffer that disagrees with its aggregates,
// series or anomaly list.
package telemetry
