// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// report.go - Report command implementation for usagepulse.
//
// Command: report [--duration d] [--format markdown|json|html] [--out path]
// Short:   Collect for a while, then export a report

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	chromaStyles "github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/glamour"
	"go.uber.org/zap"

	"github.com/jeranaias/usagepulse/internal/export"
)

// DefaultReportDuration is how long report collects when --duration is
// not given.
const DefaultReportDuration = 30 * time.Second

// HandleReport collects events for a fixed duration, then renders a report.
//
//	usagepulse report [--duration 30s] [--format markdown|json|html] [--out file|dir/] [--title T] [--open]
func HandleReport(ctx context.Context, args Args) error {
	p := NewArgParser(args.Raw, append(sourceBools, "open", "plain")...)
	duration, err := p.FlagDuration("duration", DefaultReportDuration)
	if err != nil {
		return err
	}
	if duration <= 0 {
		return ErrInvalidFlag("duration", p.Flag("duration"), "a positive duration")
	}

	format := p.Flag("format")
	if format == "" {
		format = export.FormatMarkdown
		if args.JSON {
			format = export.FormatJSON
		}
	}
	exportOpts := export.DefaultOptions()
	exportOpts.OpenAfterExport = p.BoolFlag("open")
	exporter, err := export.ForFormat(format, exportOpts)
	if err != nil {
		return &UsageError{Message: err.Error(), Usage: "--format markdown|json|html"}
	}

	s, err := openSession(args, p, sessionOptions{})
	if err != nil {
		return err
	}
	defer s.close()

	startedAt := time.Now()
	if err := s.engine.Start(ctx); err != nil {
		return &CommandError{Command: "report", Action: "start", Err: err}
	}
	if !args.Quiet {
		fmt.Fprintf(args.errOut(), "collecting from %s for %s...\n", s.cfg.Source.BaseURL, duration)
	}

	// An interrupt ends collection early; the report covers what arrived.
	timer := time.NewTimer(duration)
	select {
	case <-ctx.Done():
		s.logger.Info("collection interrupted", zap.Duration("elapsed", time.Since(startedAt)))
	case <-timer.C:
	}
	timer.Stop()

	report := export.NewReport(s.engine.Snapshot(), export.Meta{
		Title:          p.Flag("title"),
		Source:         s.cfg.Source.BaseURL,
		TransportState: s.engine.TransportState().String(),
		StartedAt:      startedAt,
		GeneratedAt:    time.Now(),
	})
	s.engine.Close()

	return writeReport(args, p, report, exporter, exportOpts)
}

// writeReport sends the rendered report to --out, or to stdout.
func writeReport(args Args, p *ArgParser, report *export.Report, exporter export.Exporter, opts *export.Options) error {
	out := p.Flag("out")
	if out != "" {
		if isDirTarget(out) {
			opts.OutputDir = out
			path, err := export.ExportToFile(report, exporter, opts)
			if err != nil {
				return &CommandError{Command: "report", Action: "write", Err: err}
			}
			fmt.Fprintln(args.errOut(), "wrote "+path)
			return nil
		}

		content, err := exporter.Export(report)
		if err != nil {
			return &CommandError{Command: "report", Action: "render", Err: err}
		}
		if err := export.WriteFile(out, content); err != nil {
			return &CommandError{Command: "report", Action: "write", Err: err}
		}
		if !args.Quiet {
			fmt.Fprintln(args.errOut(), "wrote "+out)
		}
		return nil
	}

	content, err := exporter.Export(report)
	if err != nil {
		return &CommandError{Command: "report", Action: "render", Err: err}
	}
	tty := IsTerminalWriter(args.out()) && ColorsEnabled() && !p.BoolFlag("plain")
	return renderReport(args.out(), exporter.FileExtension(), content, tty)
}

// isDirTarget reports whether --out names a directory.
func isDirTarget(path string) bool {
	if strings.HasSuffix(path, "/") || strings.HasSuffix(path, string(os.PathSeparator)) {
		return true
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// =============================================================================
// TERMINAL RENDERING
// =============================================================================

// renderReport writes content, styled for a terminal when tty is set:
// markdown through glamour, JSON through chroma. Anything else is written
// as is.
func renderReport(w io.Writer, ext string, content []byte, tty bool) error {
	if tty {
		switch ext {
		case ".md":
			if rendered, err := renderMarkdown(string(content), GetTerminalWidth()); err == nil {
				_, err = io.WriteString(w, rendered)
				return err
			}
		case ".json":
			_, err := io.WriteString(w, highlight(string(content), "json"))
			return err
		}
	}
	_, err := w.Write(content)
	return err
}

// renderMarkdown renders markdown for the terminal.
func renderMarkdown(md string, width int) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", err
	}
	return r.Render(md)
}

// highlight applies terminal syntax highlighting. On any failure the source
// is returned unchanged.
func highlight(source, language string) string {
	lexer := lexers.Get(language)
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	style := chromaStyles.Get("monokai")
	if style == nil {
		style = chromaStyles.Fallback
	}
	formatter := formatters.Get("terminal256")
	if formatter == nil {
		formatter = formatters.Fallback
	}

	iterator, err := lexer.Tokenise(nil, source)
	if err != nil {
		return source
	}
	var buf strings.Builder
	if err := formatter.Format(&buf, style, iterator); err != nil {
		return source
	}
	return buf.String()
}
