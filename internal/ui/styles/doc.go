// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package styles provides the visual styling system for the usagepulse
// dashboard.
//
// Colors are lipgloss.AdaptiveColor values so the same palette works on
// light and dark terminals. Every colored status also carries a text
// indicator (see StatusIndicators) so state stays readable without color.
//
// Sparkline and RenderBar draw the compact charts used by the dashboard and
// the console's stats output.
package styles
