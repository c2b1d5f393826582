// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// dashboard.go - Launches the full-screen dashboard.

package cli

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/usagepulse/internal/ui/dashboard"
	"github.com/jeranaias/usagepulse/internal/ui/styles"
)

// HandleDashboard runs the full-screen dashboard until the user quits or
// ctx ends.
//
//	usagepulse dashboard [--stream] [--protocol sse|websocket] [--interval 1s] [--paused] [--no-watch]
func HandleDashboard(ctx context.Context, args Args) error {
	if !IsTTY() || !IsStdoutTTY() {
		return &UsageError{
			Message: "the dashboard needs an interactive terminal",
			Usage:   "usagepulse watch (headless) or usagepulse console",
		}
	}

	p := NewArgParser(args.Raw, sourceBools...)
	s, err := openSession(args, p, sessionOptions{LogToFile: true, Watch: true})
	if err != nil {
		return err
	}
	defer s.close()

	if err := s.engine.Start(ctx); err != nil {
		return &CommandError{Command: "dashboard", Action: "start", Err: err}
	}

	model := dashboard.New(s.engine, styles.NewThemeFor(s.cfg.UI.Theme)).WithCompact(s.cfg.UI.Compact)
	prog := tea.NewProgram(model,
		tea.WithAltScreen(),
		tea.WithReportFocus(),
		tea.WithContext(ctx),
	)
	if _, err := prog.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return &CommandError{Command: "dashboard", Err: err}
	}
	return nil
}
