// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// session.go - Builds a running engine from config and flags.
//
// Every command that needs live data goes through openSession so that
// config loading, logging and the config file watcher behave the same.

package cli

import (
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/jeranaias/usagepulse/internal/config"
	"github.com/jeranaias/usagepulse/internal/engine"
	"github.com/jeranaias/usagepulse/internal/logging"
	"github.com/jeranaias/usagepulse/internal/model"
)

// sourceBools are the boolean flags shared by the engine-backed commands.
var sourceBools = []string{"stream", "paused", "no-watch"}

// =============================================================================
// CONFIG
// =============================================================================

// loadConfig loads the config named by --config, or the default file, and
// applies --url. The returned path is the file to watch for changes.
func loadConfig(args Args) (*config.Config, string, error) {
	if args.ConfigPath != "" {
		cfg, err := config.LoadFromPath(args.ConfigPath)
		if err != nil {
			return nil, "", &ConfigError{Path: args.ConfigPath, Err: err}
		}
		applyURL(cfg, args)
		return cfg, args.ConfigPath, nil
	}

	path, _ := config.ConfigPathTOML()
	cfg, err := config.Load()
	if cfg == nil {
		return nil, "", &ConfigError{Path: path, Err: err}
	}
	if err != nil {
		// Defaults are usable; say why they are in effect.
		fmt.Fprintf(args.errOut(), "%s %v (using defaults)\n", WarningStyle.Render("[WARN]"), err)
	}
	applyURL(cfg, args)
	return cfg, path, nil
}

func applyURL(cfg *config.Config, args Args) {
	if args.URL != "" {
		cfg.Source.BaseURL = args.URL
	}
}

// applySourceFlags layers --stream, --paused, --protocol and --interval over
// cfg and revalidates.
func applySourceFlags(p *ArgParser, cfg *config.Config) error {
	if p.HasFlag("stream") {
		cfg.Polling.UseStreaming = p.BoolFlag("stream")
	}
	if p.HasFlag("paused") {
		cfg.Polling.Paused = p.BoolFlag("paused")
	}
	if proto := p.Flag("protocol"); proto != "" {
		cfg.Source.StreamProtocol = proto
	}
	if p.Flag("interval") != "" {
		d, err := p.FlagDuration("interval", 0)
		if err != nil {
			return err
		}
		cfg.Polling.IntervalMs = int(d.Milliseconds())
	}
	if err := cfg.Validate(); err != nil {
		return &ConfigError{Err: err}
	}
	return nil
}

// =============================================================================
// LOGGING
// =============================================================================

// newLogger builds the command logger. Full-screen commands log to a file so
// the terminal stays clean; headless commands log to stderr.
func newLogger(cfg *config.Config, args Args, toFile bool) (*zap.Logger, func() error, error) {
	level := cfg.Log.Level
	if args.Verbose {
		level = "debug"
	}
	if toFile {
		return logging.NewFile(level, cfg.Log.File)
	}
	logger, err := logging.New(level, args.errOut())
	if err != nil {
		return nil, nil, err
	}
	return logger, func() error { logging.Flush(logger); return nil }, nil
}

// =============================================================================
// SESSION
// =============================================================================

// session bundles the engine and its supporting pieces for one command run.
type session struct {
	cfg      *config.Config
	cfgPath  string
	engine   *engine.Engine
	logger   *zap.Logger
	closeLog func() error
	watcher  *config.Watcher
}

// sessionOptions controls openSession.
type sessionOptions struct {
	LogToFile  bool
	Watch      bool
	Registerer prometheus.Registerer
}

// openSession loads config, applies source flags, and builds an engine.
// Nothing is fetched until the caller starts the engine.
func openSession(args Args, p *ArgParser, opts sessionOptions) (*session, error) {
	cfg, path, err := loadConfig(args)
	if err != nil {
		return nil, err
	}
	if err := applySourceFlags(p, cfg); err != nil {
		return nil, err
	}

	logger, closeLog, err := newLogger(cfg, args, opts.LogToFile)
	if err != nil {
		return nil, &CommandError{Command: args.Name, Action: "open log", Err: err}
	}

	engOpts := engine.OptionsFromConfig(cfg)
	engOpts.Logger = logger
	engOpts.Registerer = opts.Registerer
	eng, err := engine.New(engOpts)
	if err != nil {
		closeLog()
		return nil, &ConfigError{Path: path, Err: err}
	}

	s := &session{
		cfg:      cfg,
		cfgPath:  path,
		engine:   eng,
		logger:   logger,
		closeLog: closeLog,
	}
	if opts.Watch && !p.BoolFlag("no-watch") {
		s.watchConfig()
	}
	return s, nil
}

// watchConfig hot-applies [polling] edits to the running engine. A missing
// config file is not watched.
func (s *session) watchConfig() {
	if s.cfgPath == "" {
		return
	}
	if _, err := os.Stat(s.cfgPath); err != nil {
		return
	}
	w, err := config.NewWatcher(s.cfgPath, func(cfg *config.Config) {
		if err := applyPolling(s.engine, cfg); err != nil {
			s.logger.Warn("polling config not applied", zap.Error(err))
		}
	}, s.logger.Named("config"))
	if err != nil {
		s.logger.Warn("config watcher unavailable", zap.Error(err))
		return
	}
	if err := w.Watch(); err != nil {
		w.Close()
		s.logger.Warn("config watcher unavailable", zap.Error(err))
		return
	}
	s.watcher = w
}

// close stops the watcher and engine and flushes the log.
func (s *session) close() {
	if s.watcher != nil {
		s.watcher.Close()
	}
	if err := s.engine.Close(); err != nil {
		s.logger.Debug("engine close", zap.Error(err))
	}
	if s.closeLog != nil {
		s.closeLog()
	}
}

// pollingSetter is the part of the engine the config watcher drives.
type pollingSetter interface {
	SetPollingConfig(patch model.ConfigPatch) error
}

// applyPolling pushes the [polling] section of cfg onto eng. The engine
// only rebuilds its transport if something actually changed.
func applyPolling(eng pollingSetter, cfg *config.Config) error {
	pc := cfg.Polling.ToModel()
	return eng.SetPollingConfig(model.ConfigPatch{
		Interval:     &pc.Interval,
		IsPaused:     &pc.IsPaused,
		UseStreaming: &pc.UseStreaming,
	})
}
