// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Theme holds all the styled components for the dashboard.
// It detects the terminal's color capability and adjusts accordingly.
type Theme struct {
	// Terminal capabilities
	IsDark       bool
	HasTrueColor bool
	ColorProfile termenv.Profile

	// ==========================================================================
	// HEADER STYLES
	// ==========================================================================

	Header      lipgloss.Style
	HeaderTitle lipgloss.Style
	HeaderMeta  lipgloss.Style

	// ==========================================================================
	// CARD STYLES
	// ==========================================================================

	Card       lipgloss.Style
	CardLabel  lipgloss.Style
	CardValue  lipgloss.Style
	CardDetail lipgloss.Style
	CostValue  lipgloss.Style
	TokenValue lipgloss.Style

	// ==========================================================================
	// CHART STYLES
	// ==========================================================================

	Panel      lipgloss.Style
	PanelTitle lipgloss.Style
	Spark      lipgloss.Style
	Axis       lipgloss.Style

	// ==========================================================================
	// CONNECTION STATUS STYLES
	// ==========================================================================

	StatusConnected    lipgloss.Style
	StatusConnecting   lipgloss.Style
	StatusError        lipgloss.Style
	StatusDisconnected lipgloss.Style

	// ==========================================================================
	// ANOMALY STYLES
	// ==========================================================================

	AnomalyOpen     lipgloss.Style
	AnomalyAcked    lipgloss.Style
	AnomalySelected lipgloss.Style

	// ==========================================================================
	// FOOTER STYLES
	// ==========================================================================

	StatusBar    lipgloss.Style
	ShortcutKey  lipgloss.Style
	ShortcutDesc lipgloss.Style
	Muted        lipgloss.Style
	Flash        lipgloss.Style
}

// NewTheme creates a theme for the current terminal.
func NewTheme() *Theme {
	colorProfile := termenv.ColorProfile()
	t := &Theme{
		IsDark:       termenv.HasDarkBackground(),
		HasTrueColor: colorProfile == termenv.TrueColor,
		ColorProfile: colorProfile,
	}
	t.initStyles()
	return t
}

// NewThemeFor creates a theme for a configured mode: "dark" or "light"
// pin the adaptive palette, anything else detects the background.
func NewThemeFor(mode string) *Theme {
	switch mode {
	case "dark", "light":
		dark := mode == "dark"
		lipgloss.SetHasDarkBackground(dark)
		t := NewTheme()
		t.IsDark = dark
		return t
	default:
		return NewTheme()
	}
}

// initStyles initializes all the lip gloss styles.
func (t *Theme) initStyles() {
	t.Header = lipgloss.NewStyle().
		Background(SurfaceDim).
		Padding(0, 1)
	t.HeaderTitle = lipgloss.NewStyle().Bold(true).Foreground(Cyan)
	t.HeaderMeta = lipgloss.NewStyle().Foreground(TextSecondary)

	t.Card = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(Overlay).
		Padding(0, 1)
	t.CardLabel = lipgloss.NewStyle().Foreground(TextSecondary)
	t.CardValue = lipgloss.NewStyle().Bold(true).Foreground(TextPrimary)
	t.CardDetail = lipgloss.NewStyle().Foreground(TextMuted)
	t.CostValue = t.CardValue.Foreground(Amber)
	t.TokenValue = t.CardValue.Foreground(Cyan)

	t.Panel = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(Overlay).
		Padding(0, 1)
	t.PanelTitle = lipgloss.NewStyle().Bold(true).Foreground(Purple)
	t.Spark = lipgloss.NewStyle().Foreground(Cyan)
	t.Axis = lipgloss.NewStyle().Foreground(TextMuted)

	t.StatusConnected = lipgloss.NewStyle().Bold(true).Foreground(Emerald)
	t.StatusConnecting = lipgloss.NewStyle().Bold(true).Foreground(Amber)
	t.StatusError = lipgloss.NewStyle().Bold(true).Foreground(Rose)
	t.StatusDisconnected = lipgloss.NewStyle().Foreground(TextMuted)

	t.AnomalyOpen = lipgloss.NewStyle().Foreground(Rose)
	t.AnomalyAcked = lipgloss.NewStyle().Foreground(TextMuted)
	t.AnomalySelected = lipgloss.NewStyle().Background(SelectionBg).Bold(true)

	t.StatusBar = lipgloss.NewStyle().
		Foreground(TextSecondary).
		Background(SurfaceDim).
		Padding(0, 1)
	t.ShortcutKey = lipgloss.NewStyle().Bold(true).Foreground(Cyan)
	t.ShortcutDesc = lipgloss.NewStyle().Foreground(TextMuted)
	t.Muted = lipgloss.NewStyle().Foreground(TextMuted)
	t.Flash = lipgloss.NewStyle().Foreground(Amber)
}

// ConnectionStyle returns the style for a connection status name.
func (t *Theme) ConnectionStyle(status string) lipgloss.Style {
	switch status {
	case "connected":
		return t.StatusConnected
	case "connecting":
		return t.StatusConnecting
	case "error":
		return t.StatusError
	default:
		return t.StatusDisconnected
	}
}

// ConnectionIndicator returns the text indicator for a connection status
// name, readable without color.
func ConnectionIndicator(status string) string {
	switch status {
	case "connected":
		return StatusIndicators.Success
	case "connecting":
		return StatusIndicators.Active
	case "error":
		return StatusIndicators.Error
	default:
		return StatusIndicators.Pending
	}
}
