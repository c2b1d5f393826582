// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package dashboard

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/usagepulse/internal/model"
	"github.com/jeranaias/usagepulse/internal/ui/styles"
	"github.com/jeranaias/usagepulse/internal/util"
)

// View renders the dashboard.
func (m Model) View() string {
	sections := []string{
		m.renderHeader(),
		m.renderCards(),
		m.renderSparkline(),
		m.renderLowerPanels(),
	}
	if m.flash != "" {
		sections = append(sections, m.theme.Flash.Render(m.flash))
	}
	sections = append(sections, m.renderFooter())
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// =============================================================================
// HEADER
// =============================================================================

func (m Model) renderHeader() string {
	status := m.snap.Status
	name := string(status.Status)
	if name == "" {
		name = string(model.StatusDisconnected)
	}

	indicator := styles.ConnectionIndicator(name)
	if status.Status == model.StatusConnecting {
		indicator = m.spinner.View()
	}
	conn := m.theme.ConnectionStyle(name).Render(indicator + " " + name)

	parts := []string{
		m.theme.HeaderTitle.Render("usagepulse"),
		conn,
		m.theme.HeaderMeta.Render("mode: " + m.snap.Config.Mode()),
		m.theme.HeaderMeta.Render("transport: " + m.state.String()),
	}
	if status.LastUpdate != nil {
		parts = append(parts, m.theme.HeaderMeta.Render("updated "+util.RelativeTime(*status.LastUpdate, m.now())))
	}
	if !m.visible {
		parts = append(parts, m.theme.Muted.Render("(background)"))
	}
	line := strings.Join(parts, "  ")
	if status.ErrorMessage != "" {
		line += "\n" + m.theme.StatusError.Render(status.ErrorMessage)
	}
	return m.theme.Header.Width(m.width).Render(line)
}

// =============================================================================
// CARDS
// =============================================================================

func (m Model) renderCards() string {
	agg := m.snap.Aggregates
	cardWidth := max(m.width/4-2, 16)

	card := func(label, value, detail string, valueStyle lipgloss.Style) string {
		body := lipgloss.JoinVertical(lipgloss.Left,
			m.theme.CardLabel.Render(label),
			valueStyle.Render(value),
			m.theme.CardDetail.Render(detail),
		)
		return m.theme.Card.Width(cardWidth).Render(body)
	}

	return lipgloss.JoinHorizontal(lipgloss.Top,
		card("Cost (5m)", util.FormatCost(agg.TotalCost),
			"avg "+util.FormatCost(agg.AvgCost())+"/event", m.theme.CostValue),
		card("Tokens (5m)", util.FormatCompact(agg.TotalTokens),
			fmt.Sprintf("avg %.0f/event", agg.AvgTokens()), m.theme.TokenValue),
		card("Calls (5m)", util.FormatCount(agg.TotalCalls),
			util.FormatCount(int64(agg.EventCount))+" events", m.theme.CardValue),
		card("Avg latency", util.FormatLatency(agg.AvgLatency),
			fmt.Sprintf("buffer %d/%d", m.snap.BufferLen, m.snap.BufferCap), m.theme.CardValue),
	)
}

// =============================================================================
// SPARKLINE
// =============================================================================

func (m Model) renderSparkline() string {
	width := max(m.width-4, 10)
	values := make([]float64, len(m.snap.Series))
	var peak int64
	for i, b := range m.snap.Series {
		values[i] = float64(b.Tokens)
		peak = max(peak, b.Tokens)
	}

	title := m.theme.PanelTitle.Render("Tokens per 5s") +
		m.theme.Axis.Render(fmt.Sprintf("  %d buckets, peak %s", len(values), util.FormatCompact(peak)))
	line := m.theme.Spark.Render(styles.Sparkline(values, width-2))
	return m.theme.Panel.Width(width).Render(title + "\n" + line)
}

// =============================================================================
// ANOMALIES AND CUSTOMERS
// =============================================================================

func (m Model) renderLowerPanels() string {
	if m.compact {
		width := max(m.width-2, 30)
		return m.theme.Panel.Width(width).Render(m.renderAnomalies(width - 2))
	}
	half := max(m.width/2-2, 30)
	left := m.theme.Panel.Width(half).Render(m.renderAnomalies(half - 2))
	right := m.theme.Panel.Width(half).Render(
		m.theme.PanelTitle.Render("Top customers") + "\n" + m.customers.View())
	return lipgloss.JoinHorizontal(lipgloss.Top, left, right)
}

func (m Model) renderAnomalies(width int) string {
	var sb strings.Builder
	sb.WriteString(m.theme.PanelTitle.Render(
		fmt.Sprintf("Anomalies (%d open)", m.snap.Unacknowledged)))

	anomalies := m.snap.Anomalies
	if len(anomalies) == 0 {
		sb.WriteString("\n" + m.theme.Muted.Render("none flagged"))
		return sb.String()
	}

	// Keep the selection in view.
	start := 0
	if m.selected >= maxAnomalyRows {
		start = m.selected - maxAnomalyRows + 1
	}
	now := m.now()
	for row := start; row < len(anomalies) && row < start+maxAnomalyRows; row++ {
		a := anomalies[len(anomalies)-1-row]
		text := util.TruncateWidth(formatAnomaly(a, now), width-2)

		style := m.theme.AnomalyOpen
		mark := styles.StatusIndicators.Warning
		if a.Acknowledged {
			style = m.theme.AnomalyAcked
			mark = styles.StatusIndicators.Success
		}
		line := style.Render(mark + " " + text)
		if row == m.selected {
			line = m.theme.AnomalySelected.Render(mark + " " + text)
		}
		sb.WriteString("\n" + line)
	}
	if hidden := len(anomalies) - (start + maxAnomalyRows); hidden > 0 {
		sb.WriteString("\n" + m.theme.Muted.Render(fmt.Sprintf("+%d more", hidden)))
	}
	return sb.String()
}

// formatAnomaly renders one anomaly row.
func formatAnomaly(a model.Anomaly, now time.Time) string {
	return fmt.Sprintf("%s %s %s (%s avg) %s",
		a.CustomerID,
		a.Metric,
		formatMetricValue(a.Metric, a.Value),
		util.FormatRatio(a.Ratio()),
		util.RelativeTime(a.Timestamp, now),
	)
}

func formatMetricValue(metric model.AnomalyMetric, v float64) string {
	switch metric {
	case model.MetricCost:
		return util.FormatCost(v)
	case model.MetricLatency:
		return util.FormatLatency(v)
	default:
		return util.FormatCompact(int64(v))
	}
}

// =============================================================================
// FOOTER
// =============================================================================

func (m Model) renderFooter() string {
	return m.theme.StatusBar.Width(m.width).Render(m.help.View(m.keys))
}
