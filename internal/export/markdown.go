// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/usagepulse/internal/model"
	"github.com/jeranaias/usagepulse/internal/util"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter renders reports as Markdown tables.
type MarkdownExporter struct {
	options *Options
}

// NewMarkdownExporter creates a new Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts}
}

// Export renders the report as Markdown.
func (e *MarkdownExporter) Export(r *Report) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("report is nil")
	}
	if r.GeneratedAt.IsZero() {
		return nil, fmt.Errorf("report has invalid generation timestamp")
	}

	var sb strings.Builder

	if e.options.IncludeMetadata {
		sb.WriteString("---\n")
		sb.WriteString(fmt.Sprintf("title: %s\n", escapeYAML(r.Title)))
		if r.Source != "" {
			sb.WriteString(fmt.Sprintf("source: %s\n", escapeYAML(r.Source)))
		}
		sb.WriteString(fmt.Sprintf("mode: %s\n", escapeYAML(r.Mode)))
		sb.WriteString(fmt.Sprintf("generated: %s\n", r.GeneratedAt.Format(time.RFC3339)))
		sb.WriteString(fmt.Sprintf("events: %d\n", r.Aggregates.EventCount))
		sb.WriteString(fmt.Sprintf("anomalies: %d\n", len(r.Anomalies)))
		sb.WriteString("generator: usagepulse\n")
		sb.WriteString("---\n\n")
	}

	sb.WriteString(fmt.Sprintf("# %s\n\n", escapeMarkdown(r.Title)))

	if e.options.IncludeMetadata {
		sb.WriteString("## Run\n\n")
		if r.Source != "" {
			sb.WriteString(fmt.Sprintf("- **Source**: %s\n", r.Source))
		}
		sb.WriteString(fmt.Sprintf("- **Mode**: %s\n", r.Mode))
		if r.TransportState != "" {
			sb.WriteString(fmt.Sprintf("- **Transport**: %s\n", util.Title(r.TransportState)))
		}
		sb.WriteString(fmt.Sprintf("- **Status**: %s\n", e.formatStatus(r.Status)))
		if !r.StartedAt.IsZero() {
			sb.WriteString(fmt.Sprintf("- **Started**: %s\n", formatTimestamp(r.StartedAt)))
			sb.WriteString(fmt.Sprintf("- **Duration**: %s\n", formatDuration(r.Duration())))
		}
		sb.WriteString(fmt.Sprintf("- **Buffered**: %s / %s events\n",
			util.FormatCount(int64(r.Buffered)), util.FormatCount(int64(r.BufferCap))))
		sb.WriteString("\n")
	}

	sb.WriteString("## Window Totals\n\n")
	sb.WriteString("| Metric | Value |\n|---|---:|\n")
	a := r.Aggregates
	sb.WriteString(fmt.Sprintf("| Total cost | %s |\n", util.FormatCost(a.TotalCost)))
	sb.WriteString(fmt.Sprintf("| Total tokens | %s |\n", util.FormatCount(a.TotalTokens)))
	sb.WriteString(fmt.Sprintf("| Total calls | %s |\n", util.FormatCount(a.TotalCalls)))
	sb.WriteString(fmt.Sprintf("| Avg latency | %s |\n", util.FormatLatency(a.AvgLatency)))
	sb.WriteString(fmt.Sprintf("| Avg cost / event | %s |\n", util.FormatCost(r.AvgCost)))
	sb.WriteString(fmt.Sprintf("| Events | %s |\n", util.FormatCount(int64(a.EventCount))))
	sb.WriteString("\n")

	sb.WriteString("## Top Customers\n\n")
	if len(r.TopCustomers) == 0 {
		sb.WriteString("_No customer activity._\n\n")
	} else {
		sb.WriteString("| # | Customer | Tenant | Cost | Tokens | Calls | Avg latency |\n")
		sb.WriteString("|---:|---|---|---:|---:|---:|---:|\n")
		for i, c := range r.TopCustomers {
			sb.WriteString(fmt.Sprintf("| %d | %s | %s | %s | %s | %s | %s |\n",
				i+1, escapeCell(c.CustomerID), escapeCell(c.TenantID),
				util.FormatCost(c.Cost), util.FormatCount(c.Tokens),
				util.FormatCount(c.Calls), util.FormatLatency(c.AvgLatency)))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("## Anomalies\n\n")
	if len(r.Anomalies) == 0 {
		sb.WriteString("_None detected._\n\n")
	} else {
		sb.WriteString(fmt.Sprintf("%d raised, %d unacknowledged.\n\n", len(r.Anomalies), r.Unacknowledged))
		sb.WriteString("| Time | Customer | Metric | Value | Average | Ratio | Ack |\n")
		sb.WriteString("|---|---|---|---:|---:|---:|:---:|\n")
		for _, an := range r.Anomalies {
			ack := ""
			if an.Acknowledged {
				ack = "yes"
			}
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s | %s | %s |\n",
				formatShortTimestamp(an.Timestamp), escapeCell(an.CustomerID), an.Metric,
				formatMetricValue(an.Metric, an.Value), formatMetricValue(an.Metric, an.Average),
				util.FormatRatio(an.Ratio()), ack))
		}
		sb.WriteString("\n")
	}

	if e.options.IncludeSeries && len(r.Series) > 0 {
		series := r.Series
		if n := e.options.MaxSeriesRows; n > 0 && len(series) > n {
			series = series[len(series)-n:]
		}
		sb.WriteString("## Recent Buckets\n\n")
		sb.WriteString("| Start | Tokens | Cost | Calls |\n|---|---:|---:|---:|\n")
		for _, b := range series {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s |\n",
				formatShortTimestamp(b.Start), util.FormatCount(b.Tokens),
				util.FormatCost(b.Cost), util.FormatCount(b.Calls)))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("---\n\n")
	sb.WriteString(fmt.Sprintf("*Generated by usagepulse on %s*\n",
		r.GeneratedAt.Format("January 2, 2006 at 3:04 PM")))

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for Markdown.
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// MimeType returns the MIME type for Markdown.
func (e *MarkdownExporter) MimeType() string {
	return "text/markdown"
}

// =============================================================================
// FORMATTING HELPERS
// =============================================================================

func (e *MarkdownExporter) formatStatus(s model.ConnectionStatus) string {
	out := util.Title(string(s.Status))
	if s.Status == "" {
		out = "Unknown"
	}
	if s.ErrorMessage != "" {
		out += fmt.Sprintf(" (%s)", s.ErrorMessage)
	}
	if s.LastUpdate != nil {
		out += fmt.Sprintf(", last update %s", formatTimestamp(*s.LastUpdate))
	}
	return out
}

// formatMetricValue renders an anomaly value in its metric's unit.
func formatMetricValue(m model.AnomalyMetric, v float64) string {
	switch m {
	case model.MetricCost:
		return util.FormatCost(v)
	case model.MetricLatency:
		return util.FormatLatency(v)
	default:
		return util.FormatCount(int64(v))
	}
}

// =============================================================================
// ESCAPING HELPERS
// =============================================================================

// escapeMarkdown escapes special Markdown characters in plain text and
// folds line breaks.
func escapeMarkdown(s string) string {
	s = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(s)
	s = strings.ReplaceAll(s, "#", "\\#")
	s = strings.ReplaceAll(s, "*", "\\*")
	s = strings.ReplaceAll(s, "_", "\\_")
	s = strings.ReplaceAll(s, "[", "\\[")
	s = strings.ReplaceAll(s, "]", "\\]")
	return s
}

// escapeCell keeps a value inside one table cell.
func escapeCell(s string) string {
	return escapeMarkdown(strings.ReplaceAll(s, "|", "\\|"))
}

// escapeYAML quotes values that would break frontmatter.
func escapeYAML(s string) string {
	if strings.ContainsAny(s, ":#|>@`\"'[]{}!%&*\n\r\\") || strings.HasPrefix(s, " ") || strings.HasSuffix(s, " ") {
		s = strings.ReplaceAll(s, "\\", "\\\\")
		s = strings.ReplaceAll(s, "\"", "\\\"")
		s = strings.ReplaceAll(s, "\n", "\\n")
		s = strings.ReplaceAll(s, "\r", "\\r")
		return fmt.Sprintf("\"%s\"", s)
	}
	return s
}
