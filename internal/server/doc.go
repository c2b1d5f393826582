// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the synthetic usage event source.
//
// A generator produces one to five single-call usage events per tick for a
// fixed set of customers, tenants and models, with occasional token and
// latency spikes. Events are retained in memory for polling, written to a
// SQLite history store and pushed to streaming subscribers.
//
// # Endpoints
//
//   - GET /api/metrics?since=       - events strictly after since (last 50 without a cursor)
//   - GET /api/metrics/history      - range query with aggregations (from, to)
//   - GET /api/stream               - Server-Sent Events, one event per data frame
//   - GET /api/ws                   - websocket, one event per text frame
//   - GET /health                   - liveness and counters
//   - GET /metrics                  - Prometheus exposition
//
// # Fault Injection
//
// Polls are delayed by up to Options.MaxLatency and fail with HTTP 500 at
// Options.ErrorRate. Options.MalformedRate pushes an unparseable frame to
// subscribers after a batch.
//
// # Usage
//
//	srv, err := server.NewServer(server.DefaultOptions())
//	if err != nil {
//		return err
//	}
//	return srv.ListenAndServe(ctx)
package server
