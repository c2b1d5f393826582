// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging builds the zap loggers used across usagepulse.
//
// Headless commands log JSON to stderr. The dashboard and console own the
// terminal, so they log to a file under the config directory instead.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jeranaias/usagepulse/internal/config"
)

// DefaultLogFileName is the interactive-mode log file inside the config dir.
const DefaultLogFileName = "usagepulse.log"

// New creates a JSON logger writing to w at the given level.
// Accepted levels (case-insensitive): "debug", "info", "warn", "error".
func New(level string, w io.Writer) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encCfg),
		zapcore.Lock(zapcore.AddSync(w)),
		zapLevel,
	)
	return zap.New(core, zap.AddCaller()), nil
}

// NewStderr creates a logger for headless commands.
func NewStderr(level string) (*zap.Logger, error) {
	return New(level, os.Stderr)
}

// NewFile creates a logger appending to path. An empty path selects
// DefaultLogPath. The returned closer flushes and closes the file.
func NewFile(level, path string) (*zap.Logger, func() error, error) {
	if path == "" {
		p, err := DefaultLogPath()
		if err != nil {
			return nil, nil, err
		}
		path = p
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}

	logger, err := New(level, f)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	closer := func() error {
		Flush(logger)
		return f.Close()
	}
	return logger, closer, nil
}

// DefaultLogPath returns ~/.usagepulse/usagepulse.log.
func DefaultLogPath() (string, error) {
	dir, err := config.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultLogFileName), nil
}

// =============================================================================
// CONTEXT HELPERS
// =============================================================================

type loggerKey struct{}

// WithContext returns a context carrying l.
func WithContext(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// FromContext returns the logger stored in ctx, or fallback. A nil fallback
// yields a no-op logger.
func FromContext(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	if fallback == nil {
		return zap.NewNop()
	}
	return fallback
}

// WithRequestID returns a copy of l with a request id field.
func WithRequestID(l *zap.Logger, reqID string) *zap.Logger {
	return l.With(zap.String("req_id", reqID))
}

// Flush writes any buffered entries. Sync errors on terminals are ignored.
func Flush(l *zap.Logger) {
	if l != nil {
		_ = l.Sync()
	}
}
