// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - CLI parsing and command dispatch for usagepulse.
//
// CLI: global flags are parsed here, subcommands parse their own.

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdDashboard Command = iota
	CmdConsole
	CmdWatch
	CmdReport
	CmdServe
	CmdConfig
	CmdVersion
	CmdHelp
	CmdUnknown
)

// String returns the command name.
func (c Command) String() string {
	switch c {
	case CmdDashboard:
		return "dashboard"
	case CmdConsole:
		return "console"
	case CmdWatch:
		return "watch"
	case CmdReport:
		return "report"
	case CmdServe:
		return "serve"
	case CmdConfig:
		return "config"
	case CmdVersion:
		return "version"
	case CmdHelp:
		return "help"
	default:
		return "unknown"
	}
}

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	ConfigPath string // --config: explicit config file
	URL        string // --url: event source override
	Verbose    bool
	Quiet      bool
	JSON       bool

	// Name is the command word as typed; Raw holds everything after it.
	Name string
	Raw  []string

	Stdout io.Writer
	Stderr io.Writer
}

// out returns the command's stdout.
func (a Args) out() io.Writer {
	if a.Stdout == nil {
		return os.Stdout
	}
	return a.Stdout
}

// errOut returns the command's stderr.
func (a Args) errOut() io.Writer {
	if a.Stderr == nil {
		return os.Stderr
	}
	return a.Stderr
}

// =============================================================================
// PARSING
// =============================================================================

// Parse splits argv (without the program name) into a command and its
// arguments. Global flags may appear anywhere before the command word.
func Parse(argv []string) (Command, Args) {
	remaining, args := parseGlobalFlags(argv)
	if len(remaining) == 0 {
		return CmdDashboard, args
	}

	args.Name = strings.ToLower(remaining[0])
	args.Raw = remaining[1:]

	switch args.Name {
	case "dashboard", "dash", "ui":
		return CmdDashboard, args
	case "console", "repl":
		return CmdConsole, args
	case "watch":
		return CmdWatch, args
	case "report":
		return CmdReport, args
	case "serve", "server":
		return CmdServe, args
	case "config":
		return CmdConfig, args
	case "version", "--version", "-V":
		return CmdVersion, args
	case "help", "--help", "-h":
		return CmdHelp, args
	default:
		return CmdUnknown, args
	}
}

// parseGlobalFlags extracts flags shared by every command.
func parseGlobalFlags(argv []string) ([]string, Args) {
	var remaining []string
	var args Args

	for i := 0; i < len(argv); i++ {
		arg := argv[i]
		switch arg {
		case "-v", "--verbose":
			args.Verbose = true
		case "-q", "--quiet":
			args.Quiet = true
		case "--json":
			args.JSON = true
		case "--config", "--url":
			if i+1 < len(argv) {
				i++
				if arg == "--config" {
					args.ConfigPath = argv[i]
				} else {
					args.URL = argv[i]
				}
			}
		default:
			switch {
			case strings.HasPrefix(arg, "--config="):
				args.ConfigPath = strings.TrimPrefix(arg, "--config=")
			case strings.HasPrefix(arg, "--url="):
				args.URL = strings.TrimPrefix(arg, "--url=")
			default:
				remaining = append(remaining, arg)
			}
		}
	}
	return remaining, args
}

// =============================================================================
// DISPATCH
// =============================================================================

// Run executes cmd. Errors are returned for the caller to display.
func Run(ctx context.Context, cmd Command, args Args) error {
	switch cmd {
	case CmdDashboard:
		return HandleDashboard(ctx, args)
	case CmdConsole:
		return HandleConsole(ctx, args)
	case CmdWatch:
		return HandleWatch(ctx, args)
	case CmdReport:
		return HandleReport(ctx, args)
	case CmdServe:
		return HandleServe(ctx, args)
	case CmdConfig:
		return HandleConfig(args)
	case CmdVersion:
		return HandleVersion(args)
	case CmdHelp:
		fmt.Fprint(args.out(), Usage())
		return nil
	default:
		return &UsageError{Message: fmt.Sprintf("unknown command %q", args.Name), Usage: "usagepulse help"}
	}
}

// HandleVersion prints build information.
func HandleVersion(args Args) error {
	if args.JSON {
		return writeJSON(args.out(), map[string]string{
			"version":    Version,
			"git_commit": GitCommit,
			"build_date": BuildDate,
			"go_version": runtime.Version(),
			"platform":   runtime.GOOS + "/" + runtime.GOARCH,
		})
	}
	fmt.Fprintf(args.out(), "usagepulse %s (%s, built %s, %s %s/%s)\n",
		Version, GitCommit, BuildDate, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	return nil
}

// Usage returns the top-level help text.
func Usage() string {
	return `usagepulse - live AI usage and cost monitor

Usage:
  usagepulse [global flags] [command] [flags]

Commands:
  dashboard            Live terminal dashboard (default)
  console              Interactive command console
  watch                Headless monitor that logs a summary per interval
  report               Collect for a while, then render a report
  serve                Run the synthetic event source
  config               Show or edit configuration
  version              Print version information
  help                 Show this help

Global flags:
  --config <path>      Config file (default ~/.usagepulse/config.toml)
  --url <url>          Event source base URL
  -v, --verbose        Debug logging
  -q, --quiet          Less output
  --json               JSON output where supported

Source flags (dashboard, console, watch, report):
  --stream             Start in streaming mode
  --protocol sse|websocket
  --interval <dur>     Polling interval (e.g. 500ms, 2s)

Examples:
  usagepulse serve
  usagepulse --url http://localhost:3001 dashboard --stream
  usagepulse watch --interval 1s --metrics-addr :9090
  usagepulse report --duration 30s --format json --out usage.json
  usagepulse config set polling.interval_ms 1000
`
}
