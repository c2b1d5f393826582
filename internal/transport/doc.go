// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package transport acquires metric events from an event source and feeds
// them into the telemetry store.
//
// Exactly one acquisition channel is active at a time: an interval poll loop
// against the metrics endpoint, or a persistent push stream (SSE or
// websocket). The Manager owns that channel, retries failures with capped
// exponential backoff, and demotes streaming to polling after repeated
// stream failures.
//
// # Key Types
//
//   - Client: HTTP polling client and SSE dialer
//   - WebSocketDialer: Push stream over a websocket connection
//   - Manager: State machine over {Idle, Polling, Streaming, BackingOff, FallenBack}
//   - Backoff: min(base * 2^n, max) delay schedule
//
// # Usage
//
//	client := transport.NewClient("http://localhost:3001")
//	mgr := transport.NewManager(transport.Options{
//	    Fetcher: client,
//	    Dialer:  client,
//	    Sink:    store,
//	})
//	if err := mgr.Start(ctx); err != nil {
//	    return err
//	}
//	defer mgr.Close()
//
// # Cancellation
//
// Every session runs under its own context and epoch. Reconfigure and Close
// cancel the session and wait for its goroutine before returning; effects
// are applied under a lock that re-checks the epoch, so work that completes
// after a teardown is discarded.
package transport
