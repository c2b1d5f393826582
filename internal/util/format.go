// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides utility functions for usagepulse.
package util

import (
	"fmt"
	"math"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// FormatCount renders n with thousands separators: 1234567 -> "1,234,567".
func FormatCount(n int64) string {
	return message.NewPrinter(language.English).Sprintf("%d", n)
}

// FormatCompact renders large counts with an SI suffix: 1234567 -> "1.2M".
func FormatCompact(n int64) string {
	if n < 1000 && n > -1000 {
		return fmt.Sprintf("%d", n)
	}
	v, unit := humanize.ComputeSI(float64(n))
	if unit == "k" {
		unit = "K"
	}
	return fmt.Sprintf("%.1f%s", v, unit)
}

// FormatCost renders a dollar amount. Sub-cent amounts keep four decimals.
func FormatCost(v float64) string {
	p := message.NewPrinter(language.English)
	if v != 0 && math.Abs(v) < 0.01 {
		return p.Sprintf("$%.4f", v)
	}
	return p.Sprintf("$%.2f", v)
}

// FormatLatency renders milliseconds: 183.4 -> "183ms", 1520 -> "1.52s".
func FormatLatency(ms float64) string {
	if ms >= 1000 {
		return fmt.Sprintf("%.2fs", ms/1000)
	}
	return fmt.Sprintf("%.0fms", ms)
}

// FormatRatio renders a multiple: 2.345 -> "2.3x".
func FormatRatio(r float64) string {
	if math.IsInf(r, 0) || math.IsNaN(r) {
		return "∞"
	}
	return fmt.Sprintf("%.1fx", r)
}

// RelativeTime renders t relative to now: "3 seconds ago".
func RelativeTime(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	if now.Sub(t) < time.Second && t.Sub(now) < time.Second {
		return "just now"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

// Title title-cases s: "fallen back" -> "Fallen Back".
func Title(s string) string {
	// Casers keep state, so each call gets its own.
	return cases.Title(language.English).String(s)
}
