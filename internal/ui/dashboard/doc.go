// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package dashboard provides the live terminal dashboard.
//
// The Model renders a Source (normally *engine.Engine): summary cards for
// the rolling window, a token sparkline over the bucketed series, the
// connection and transport state, the anomaly log and the top customers.
// It re-renders whenever the Source signals a change and once a second so
// relative times stay current.
//
// Terminal focus reporting drives Source.SetVisible, so polling pauses
// while the terminal is in the background. Run the program with
// tea.WithReportFocus for that to take effect.
package dashboard
