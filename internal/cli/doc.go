// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides command-line parsing and the command handlers for
// usagepulse.
//
// # Usage
//
//	cmd, args := cli.Parse(os.Args[1:])
//	if err := cli.Run(ctx, cmd, args); err != nil {
//	    cli.DisplayError(os.Stderr, err, args.JSON)
//	    os.Exit(cli.GetExitCode(err))
//	}
//
// # Commands
//
//   - dashboard: full-screen live dashboard (default)
//   - console: line-oriented command console with history
//   - watch: headless monitor, optional Prometheus endpoint
//   - report: collect for a duration, then render markdown, JSON or HTML
//   - serve: synthetic event source for local use
//   - config: show, get, set, keys, path, init
//   - version
//
// Engine-backed commands share the source flags --stream, --protocol,
// --interval and --paused, and hot-apply edits to the [polling] section of
// the config file while running (disable with --no-watch).
//
// Output honors NO_COLOR and FORCE_COLOR; colors are off when stdout is not
// a terminal.
package cli
