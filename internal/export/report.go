// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/usagepulse/internal/model"
	"github.com/jeranaias/usagepulse/internal/telemetry"
)

// =============================================================================
// REPORT
// =============================================================================

// Report is a point-in-time summary of an ingestion run.
type Report struct {
	Title          string    `json:"title"`
	Source         string    `json:"source"`
	Mode           string    `json:"mode"`
	TransportState string    `json:"transportState"`
	StartedAt      time.Time `json:"startedAt"`
	GeneratedAt    time.Time `json:"generatedAt"`
	DurationSecs   float64   `json:"durationSeconds"`

	Aggregates model.Aggregates       `json:"aggregates"`
	AvgCost    float64                `json:"avgCost"`
	AvgTokens  float64                `json:"avgTokens"`
	Status     model.ConnectionStatus `json:"status"`
	Buffered   int                    `json:"buffered"`
	BufferCap  int                    `json:"bufferCap"`

	TopCustomers   []model.CustomerUsage `json:"topCustomers"`
	Anomalies      []model.Anomaly       `json:"anomalies"`
	Unacknowledged int                   `json:"unacknowledged"`
	Series         []model.TimeBucket    `json:"series"`
}

// Meta describes the run a report covers.
type Meta struct {
	Title          string
	Source         string
	TransportState string
	StartedAt      time.Time
	GeneratedAt    time.Time
}

// NewReport builds a report from a store snapshot.
func NewReport(snap telemetry.Snapshot, meta Meta) *Report {
	if meta.Title == "" {
		meta.Title = "Usage Report"
	}
	if meta.GeneratedAt.IsZero() {
		meta.GeneratedAt = time.Now()
	}

	r := &Report{
		Title:          meta.Title,
		Source:         meta.Source,
		Mode:           snap.Config.Mode(),
		TransportState: meta.TransportState,
		StartedAt:      meta.StartedAt,
		GeneratedAt:    meta.GeneratedAt,
		Aggregates:     snap.Aggregates,
		AvgCost:        snap.Aggregates.AvgCost(),
		AvgTokens:      snap.Aggregates.AvgTokens(),
		Status:         snap.Status.Clone(),
		Buffered:       snap.BufferLen,
		BufferCap:      snap.BufferCap,
		TopCustomers:   append([]model.CustomerUsage{}, snap.TopCustomers...),
		Anomalies:      append([]model.Anomaly{}, snap.Anomalies...),
		Unacknowledged: snap.Unacknowledged,
		Series:         append([]model.TimeBucket{}, snap.Series...),
	}
	if !meta.StartedAt.IsZero() {
		r.DurationSecs = meta.GeneratedAt.Sub(meta.StartedAt).Seconds()
	}
	return r
}

// Duration returns the covered run length.
func (r *Report) Duration() time.Duration {
	return time.Duration(r.DurationSecs * float64(time.Second))
}

// =============================================================================
// FORMATS
// =============================================================================

// Supported format names.
const (
	FormatMarkdown = "markdown"
	FormatJSON     = "json"
	FormatHTML     = "html"
)

// ForFormat returns the exporter for a format name. "md" and "htm" are
// accepted as aliases.
func ForFormat(format string, opts *Options) (Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case FormatMarkdown, "md":
		return NewMarkdownExporter(opts), nil
	case FormatJSON:
		return NewJSONExporter(opts), nil
	case FormatHTML, "htm":
		return NewHTMLExporter(opts), nil
	default:
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}
}
