// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import "strings"

// =============================================================================
// SPARKLINE
// =============================================================================

// SparkLevels are the eight block heights used by Sparkline, lowest first.
var SparkLevels = []rune("▁▂▃▄▅▆▇█")

// Sparkline renders values as one block character each, scaled to the
// maximum. Only the last width values are drawn; shorter input is padded on
// the left with spaces so the newest value stays at the right edge.
func Sparkline(values []float64, width int) string {
	if width <= 0 {
		return ""
	}
	if len(values) > width {
		values = values[len(values)-width:]
	}

	maxV := 0.0
	for _, v := range values {
		if v > maxV {
			maxV = v
		}
	}

	var sb strings.Builder
	sb.Grow(width * 3)
	for i := len(values); i < width; i++ {
		sb.WriteByte(' ')
	}
	top := len(SparkLevels) - 1
	for _, v := range values {
		idx := 0
		if maxV > 0 && v > 0 {
			idx = int(v / maxV * float64(top))
			if idx > top {
				idx = top
			}
		}
		sb.WriteRune(SparkLevels[idx])
	}
	return sb.String()
}

// =============================================================================
// BARS
// =============================================================================

// Bar characters for share and progress displays.
var (
	BarFull    = "#"
	BarEmpty   = "-"
	BarPartial = []string{".", ":", "+"}
)

// RenderBar draws a bar width characters wide, filled to percent (0-100).
func RenderBar(width int, percent float64) string {
	if width <= 0 {
		return ""
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	filled := float64(width) * percent / 100
	full := int(filled)
	partial := int((filled - float64(full)) * float64(len(BarPartial)+1))

	var sb strings.Builder
	sb.Grow(width)
	for i := 0; i < full && i < width; i++ {
		sb.WriteString(BarFull)
	}
	if full < width && partial > 0 {
		sb.WriteString(BarPartial[partial-1])
		full++
	}
	for i := full; i < width; i++ {
		sb.WriteString(BarEmpty)
	}
	return sb.String()
}
