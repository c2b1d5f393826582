// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/jeranaias/usagepulse/internal/util"
)

// =============================================================================
// HTML EXPORTER
// =============================================================================

// HTMLExporter renders reports as a standalone page with embedded CSS.
type HTMLExporter struct {
	options *Options
}

// NewHTMLExporter creates a new HTML exporter.
func NewHTMLExporter(opts *Options) *HTMLExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &HTMLExporter{options: opts}
}

// Export converts the report to HTML.
func (e *HTMLExporter) Export(r *Report) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("report is nil")
	}
	if r.GeneratedAt.IsZero() {
		return nil, fmt.Errorf("report has invalid generation timestamp")
	}

	theme := e.options.Theme
	if theme != "light" {
		theme = "dark"
	}

	var sb strings.Builder
	sb.WriteString("<!DOCTYPE html>\n")
	sb.WriteString("<html lang=\"en\">\n")
	sb.WriteString("<head>\n")
	sb.WriteString("    <meta charset=\"UTF-8\">\n")
	sb.WriteString("    <meta name=\"viewport\" content=\"width=device-width, initial-scale=1.0\">\n")
	sb.WriteString(fmt.Sprintf("    <title>%s</title>\n", html.EscapeString(r.Title)))
	sb.WriteString("    <meta name=\"generator\" content=\"usagepulse\">\n")
	sb.WriteString(fmt.Sprintf("    <meta name=\"date\" content=\"%s\">\n", r.GeneratedAt.Format(time.RFC3339)))
	sb.WriteString(e.getCSS())
	sb.WriteString("</head>\n")
	sb.WriteString(fmt.Sprintf("<body class=\"%s-theme\">\n", theme))
	sb.WriteString("    <div class=\"container\">\n")

	sb.WriteString(e.renderHeader(r))
	sb.WriteString(e.renderCards(r))
	sb.WriteString(e.renderCustomers(r))
	sb.WriteString(e.renderAnomalies(r))

	sb.WriteString("        <footer class=\"footer\">\n")
	sb.WriteString(fmt.Sprintf("            <p>Generated by <strong>usagepulse</strong> on %s</p>\n",
		r.GeneratedAt.Format("January 2, 2006 at 3:04 PM")))
	sb.WriteString("        </footer>\n")
	sb.WriteString("    </div>\n")
	sb.WriteString(e.getScript())
	sb.WriteString("</body>\n")
	sb.WriteString("</html>\n")

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for HTML.
func (e *HTMLExporter) FileExtension() string {
	return ".html"
}

// MimeType returns the MIME type for HTML.
func (e *HTMLExporter) MimeType() string {
	return "text/html"
}

// =============================================================================
// RENDERING FUNCTIONS
// =============================================================================

func (e *HTMLExporter) renderHeader(r *Report) string {
	var sb strings.Builder
	sb.WriteString("        <header class=\"header\">\n")
	sb.WriteString(fmt.Sprintf("            <h1>%s</h1>\n", html.EscapeString(r.Title)))
	if e.options.IncludeMetadata {
		sb.WriteString("            <div class=\"metadata\">\n")
		if r.Source != "" {
			sb.WriteString(fmt.Sprintf("                <span class=\"meta-item\"><strong>Source:</strong> %s</span>\n", html.EscapeString(r.Source)))
		}
		sb.WriteString(fmt.Sprintf("                <span class=\"meta-item\"><strong>Mode:</strong> %s</span>\n", html.EscapeString(r.Mode)))
		sb.WriteString(fmt.Sprintf("                <span class=\"meta-item\"><strong>Status:</strong> %s</span>\n", html.EscapeString(util.Title(string(r.Status.Status)))))
		if !r.StartedAt.IsZero() {
			sb.WriteString(fmt.Sprintf("                <span class=\"meta-item\"><strong>Duration:</strong> %s</span>\n", formatDuration(r.Duration())))
		}
		sb.WriteString("                <button class=\"theme-toggle\" onclick=\"toggleTheme()\" title=\"Toggle theme\">[Theme]</button>\n")
		sb.WriteString("            </div>\n")
	}
	sb.WriteString("        </header>\n")
	return sb.String()
}

func (e *HTMLExporter) renderCards(r *Report) string {
	a := r.Aggregates
	cards := []struct{ label, value string }{
		{"Total Cost", util.FormatCost(a.TotalCost)},
		{"Tokens", util.FormatCompact(a.TotalTokens)},
		{"Calls", util.FormatCount(a.TotalCalls)},
		{"Avg Latency", util.FormatLatency(a.AvgLatency)},
	}

	var sb strings.Builder
	sb.WriteString("        <section class=\"cards\">\n")
	for _, c := range cards {
		sb.WriteString(fmt.Sprintf("            <div class=\"card\"><span class=\"label\">%s</span><span class=\"value\">%s</span></div>\n",
			c.label, html.EscapeString(c.value)))
	}
	sb.WriteString("        </section>\n")
	return sb.String()
}

func (e *HTMLExporter) renderCustomers(r *Report) string {
	var sb strings.Builder
	sb.WriteString("        <section>\n            <h2>Top Customers</h2>\n")
	if len(r.TopCustomers) == 0 {
		sb.WriteString("            <p class=\"empty\">No customer activity.</p>\n")
	} else {
		sb.WriteString("            <table>\n")
		sb.WriteString("                <tr><th>Customer</th><th>Tenant</th><th>Cost</th><th>Tokens</th><th>Calls</th></tr>\n")
		for _, c := range r.TopCustomers {
			sb.WriteString(fmt.Sprintf("                <tr><td>%s</td><td>%s</td><td class=\"num\">%s</td><td class=\"num\">%s</td><td class=\"num\">%s</td></tr>\n",
				html.EscapeString(c.CustomerID), html.EscapeString(c.TenantID),
				util.FormatCost(c.Cost), util.FormatCount(c.Tokens), util.FormatCount(c.Calls)))
		}
		sb.WriteString("            </table>\n")
	}
	sb.WriteString("        </section>\n")
	return sb.String()
}

func (e *HTMLExporter) renderAnomalies(r *Report) string {
	var sb strings.Builder
	sb.WriteString("        <section>\n            <h2>Anomalies</h2>\n")
	if len(r.Anomalies) == 0 {
		sb.WriteString("            <p class=\"empty\">None detected.</p>\n")
	} else {
		sb.WriteString("            <table>\n")
		sb.WriteString("                <tr><th>Time</th><th>Customer</th><th>Metric</th><th>Value</th><th>Ratio</th></tr>\n")
		for _, an := range r.Anomalies {
			class := "anomaly"
			if an.Acknowledged {
				class = "anomaly acknowledged"
			}
			sb.WriteString(fmt.Sprintf("                <tr class=\"%s\"><td>%s</td><td>%s</td><td>%s</td><td class=\"num\">%s</td><td class=\"num\">%s</td></tr>\n",
				class, formatShortTimestamp(an.Timestamp), html.EscapeString(an.CustomerID),
				html.EscapeString(string(an.Metric)), formatMetricValue(an.Metric, an.Value),
				util.FormatRatio(an.Ratio())))
		}
		sb.WriteString("            </table>\n")
	}
	sb.WriteString("        </section>\n")
	return sb.String()
}

// =============================================================================
// EMBEDDED CSS
// =============================================================================

func (e *HTMLExporter) getCSS() string {
	return `    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }

        :root {
            --font-sans: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, "Helvetica Neue", Arial, sans-serif;
            --font-mono: "SF Mono", "Monaco", "Inconsolata", "Fira Code", monospace;
        }

        .dark-theme {
            --bg-primary: #1a1b26;
            --bg-secondary: #24283b;
            --text-primary: #c0caf5;
            --text-muted: #565f89;
            --border-color: #414868;
            --accent-blue: #7aa2f7;
            --accent-red: #f7768e;
        }

        .light-theme {
            --bg-primary: #ffffff;
            --bg-secondary: #f7f8fa;
            --text-primary: #24292e;
            --text-muted: #6a737d;
            --border-color: #e1e4e8;
            --accent-blue: #0366d6;
            --accent-red: #d73a49;
        }

        body {
            font-family: var(--font-sans);
            background: var(--bg-primary);
            color: var(--text-primary);
            line-height: 1.5;
        }

        .container { max-width: 960px; margin: 0 auto; padding: 2rem; }
        .header { border-bottom: 1px solid var(--border-color); padding-bottom: 1rem; margin-bottom: 1.5rem; }
        .metadata { display: flex; flex-wrap: wrap; gap: 1rem; color: var(--text-muted); margin-top: 0.5rem; }
        .theme-toggle { margin-left: auto; background: none; border: 1px solid var(--border-color); color: var(--text-primary); padding: 0 0.5rem; cursor: pointer; }
        .cards { display: grid; grid-template-columns: repeat(4, 1fr); gap: 1rem; margin-bottom: 2rem; }
        .card { background: var(--bg-secondary); border: 1px solid var(--border-color); border-radius: 6px; padding: 1rem; display: flex; flex-direction: column; }
        .card .label { color: var(--text-muted); font-size: 0.85rem; }
        .card .value { color: var(--accent-blue); font-size: 1.5rem; font-family: var(--font-mono); }
        section { margin-bottom: 2rem; }
        h2 { margin-bottom: 0.75rem; }
        table { width: 100%; border-collapse: collapse; }
        th, td { padding: 0.4rem 0.6rem; border-bottom: 1px solid var(--border-color); text-align: left; }
        td.num { text-align: right; font-family: var(--font-mono); }
        tr.anomaly td { color: var(--accent-red); }
        tr.acknowledged td { color: var(--text-muted); }
        .empty { color: var(--text-muted); font-style: italic; }
        .footer { color: var(--text-muted); font-size: 0.85rem; text-align: center; }
    </style>
`
}

// =============================================================================
// EMBEDDED JAVASCRIPT
// =============================================================================

func (e *HTMLExporter) getScript() string {
	return `    <script>
        function toggleTheme() {
            const body = document.body;
            if (body.classList.contains('dark-theme')) {
                body.classList.replace('dark-theme', 'light-theme');
                localStorage.setItem('theme', 'light');
            } else {
                body.classList.replace('light-theme', 'dark-theme');
                localStorage.setItem('theme', 'dark');
            }
        }

        document.addEventListener('DOMContentLoaded', function() {
            const savedTheme = localStorage.getItem('theme');
            if (savedTheme) {
                document.body.classList.remove('dark-theme', 'light-theme');
                document.body.classList.add(savedTheme + '-theme');
            }
        });
    </script>
`
}
