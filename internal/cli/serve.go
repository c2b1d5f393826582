// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// serve.go - Runs the built-in demo usage source.

package cli

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/jeranaias/usagepulse/internal/server"
)

// HandleServe runs the synthetic event source until ctx ends.
//
//	usagepulse serve [--addr :3001] [--error-rate 0.02] [--max-latency 200ms]
//	                 [--malformed-rate 0] [--history-db path] [--seed n] [--no-faults]
func HandleServe(ctx context.Context, args Args) error {
	p := NewArgParser(args.Raw, "no-faults")
	cfg, _, err := loadConfig(args)
	if err != nil {
		return err
	}

	opts := server.OptionsFromConfig(cfg)
	if err := applyServeFlags(p, &opts); err != nil {
		return err
	}

	logger, closeLog, err := newLogger(cfg, args, false)
	if err != nil {
		return &CommandError{Command: "serve", Action: "open log", Err: err}
	}
	defer closeLog()
	opts.Logger = logger

	srv, err := server.NewServer(opts)
	if err != nil {
		return &CommandError{Command: "serve", Action: "start", Err: err}
	}
	if !args.Quiet {
		fmt.Fprintf(args.errOut(), "serving synthetic usage events on %s (Ctrl+C to stop)\n", opts.Addr)
	}
	if err := srv.ListenAndServe(ctx); err != nil {
		return &CommandError{Command: "serve", Err: err}
	}
	logger.Info("event source stopped", zap.String("addr", opts.Addr))
	return nil
}

// applyServeFlags layers command-line overrides over the configured options.
func applyServeFlags(p *ArgParser, opts *server.Options) error {
	if addr := p.Flag("addr"); addr != "" {
		opts.Addr = addr
	}
	if db := p.Flag("history-db"); db != "" {
		opts.HistoryPath = db
	}

	rate := func(name string, dst *float64) error {
		v := p.Flag(name)
		if v == "" {
			return nil
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 1 {
			return ErrInvalidFlag(name, v, "a rate between 0 and 1")
		}
		*dst = f
		return nil
	}
	if err := rate("error-rate", &opts.ErrorRate); err != nil {
		return err
	}
	if err := rate("malformed-rate", &opts.MalformedRate); err != nil {
		return err
	}

	if p.Flag("max-latency") != "" {
		d, err := p.FlagDuration("max-latency", 0)
		if err != nil {
			return err
		}
		opts.MaxLatency = d
	}
	if v := p.Flag("seed"); v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return ErrInvalidFlag("seed", v, "an integer")
		}
		opts.Seed = seed
	}
	if p.BoolFlag("no-faults") {
		opts.ErrorRate = 0
		opts.MaxLatency = 0
		opts.MalformedRate = 0
	}
	return nil
}
