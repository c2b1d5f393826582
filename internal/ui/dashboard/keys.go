// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package dashboard

import (
	"time"

	"github.com/charmbracelet/bubbles/key"
)

// IntervalPresets are the polling intervals bound to keys 1 through 4.
var IntervalPresets = []time.Duration{
	500 * time.Millisecond,
	time.Second,
	2 * time.Second,
	5 * time.Second,
}

// =============================================================================
// KEY MAP DEFINITION
// =============================================================================

// KeyMap defines all keyboard bindings for the dashboard.
type KeyMap struct {
	Pause    key.Binding
	Stream   key.Binding
	Interval key.Binding
	Clear    key.Binding
	Up       key.Binding
	Down     key.Binding
	Ack      key.Binding
	Help     key.Binding
	Quit     key.Binding
}

// DefaultKeyMap returns the default key bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Pause: key.NewBinding(
			key.WithKeys("p", " "),
			key.WithHelp("p", "pause/resume"),
		),
		Stream: key.NewBinding(
			key.WithKeys("s"),
			key.WithHelp("s", "toggle streaming"),
		),
		Interval: key.NewBinding(
			key.WithKeys("1", "2", "3", "4"),
			key.WithHelp("1-4", "interval 0.5s/1s/2s/5s"),
		),
		Clear: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "clear metrics"),
		),
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("up/k", "previous anomaly"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("down/j", "next anomaly"),
		),
		Ack: key.NewBinding(
			key.WithKeys("a", "enter"),
			key.WithHelp("a/Enter", "acknowledge"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "toggle help"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q/C-c", "quit"),
		),
	}
}

// ShortHelp returns the bindings shown in the collapsed help line.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Pause, k.Stream, k.Interval, k.Ack, k.Help, k.Quit}
}

// FullHelp returns the bindings shown in the expanded help view.
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Pause, k.Stream, k.Interval},
		{k.Up, k.Down, k.Ack},
		{k.Clear, k.Help, k.Quit},
	}
}

// presetFor returns the interval preset for a digit key.
func presetFor(s string) (time.Duration, bool) {
	if len(s) != 1 || s[0] < '1' || int(s[0]-'1') >= len(IntervalPresets) {
		return 0, false
	}
	return IntervalPresets[s[0]-'1'], true
}
