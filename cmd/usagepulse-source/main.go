// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package main runs the synthetic usage event source on its own, for
// deployments where the dashboard and the source live on different hosts.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jeranaias/usagepulse/internal/cli"
)

const version = "0.1.0"

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "--help" || arg == "-h" {
			printHelp()
			return
		}
		if arg == "--version" || arg == "-V" {
			fmt.Printf("usagepulse-source v%s\n", version)
			return
		}
	}

	// Global flags (--config, -v, -q, --json) are shared with usagepulse.
	_, args := cli.Parse(append([]string{"serve"}, os.Args[1:]...))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.Run(ctx, cli.CmdServe, args)
	stop()

	if err != nil {
		cli.DisplayError(os.Stderr, err, args.JSON)
		os.Exit(cli.GetExitCode(err))
	}
}

func printHelp() {
	fmt.Println(`usagepulse-source v` + version + `

Usage: usagepulse-source [OPTIONS]

Options:
  --addr <addr>           Listen address (default :3001)
  --error-rate <p>        Probability a poll returns HTTP 500
  --malformed-rate <p>    Probability a stream frame is malformed
  --max-latency <dur>     Upper bound on injected response latency
  --history-db <path>     SQLite file for history (default in-memory)
  --seed <n>              Generator seed
  --no-faults             Disable all fault injection
  --config <path>         Config file ([server] section)
  --help, -h              Show this help
  --version, -V           Show version`)
}
