// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package dashboard

import (
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/usagepulse/internal/model"
	"github.com/jeranaias/usagepulse/internal/telemetry"
	"github.com/jeranaias/usagepulse/internal/transport"
	"github.com/jeranaias/usagepulse/internal/ui/styles"
	"github.com/jeranaias/usagepulse/internal/util"
)

const (
	refreshInterval = time.Second
	flashDuration   = 3 * time.Second
	defaultWidth    = 100
	maxAnomalyRows  = 8
)

// Source is the read and command surface the dashboard drives.
type Source interface {
	Snapshot() telemetry.Snapshot
	TransportState() transport.State
	Pause() error
	Resume() error
	SetStreaming(on bool) error
	SetInterval(d time.Duration) error
	AcknowledgeAnomaly(id string) bool
	ClearMetrics()
	SetVisible(visible bool)
	Subscribe() (<-chan struct{}, func())
}

// =============================================================================
// MESSAGES
// =============================================================================

// changedMsg is sent when the source signals a state change.
type changedMsg struct{}

// tickMsg refreshes relative times and the transport state.
type tickMsg time.Time

// actionMsg reports the outcome of a command run against the source.
type actionMsg struct {
	text string
	err  error
}

// =============================================================================
// MODEL
// =============================================================================

// Model is the bubbletea model for the dashboard.
type Model struct {
	source Source
	theme  *styles.Theme
	keys   KeyMap
	help   help.Model

	spinner   spinner.Model
	customers table.Model

	updates     <-chan struct{}
	unsubscribe func()

	snap  telemetry.Snapshot
	state transport.State

	selected int
	flash    string
	flashAt  time.Time

	width   int
	height  int
	visible bool
	compact bool
	now     func() time.Time
}

// New creates a dashboard over source. The model subscribes to the source
// immediately; quitting releases the subscription.
func New(source Source, theme *styles.Theme) Model {
	if theme == nil {
		theme = styles.NewTheme()
	}
	updates, unsubscribe := source.Subscribe()

	sp := spinner.New(spinner.WithSpinner(spinner.Dot))
	sp.Style = theme.StatusConnecting

	m := Model{
		source:      source,
		theme:       theme,
		keys:        DefaultKeyMap(),
		help:        help.New(),
		spinner:     sp,
		customers:   newCustomerTable(),
		updates:     updates,
		unsubscribe: unsubscribe,
		width:       defaultWidth,
		visible:     true,
		now:         time.Now,
	}
	m.refresh()
	return m
}

// WithCompact hides the top customers panel.
func (m Model) WithCompact(on bool) Model {
	m.compact = on
	return m
}

// Init starts the change listener, the refresh tick and the spinner.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		waitForChange(m.updates),
		tick(),
		m.spinner.Tick,
	)
}

// Update handles a message.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.resizeTable()
		return m, nil

	case tea.FocusMsg:
		m.visible = true
		m.source.SetVisible(true)
		return m, nil

	case tea.BlurMsg:
		m.visible = false
		m.source.SetVisible(false)
		return m, nil

	case changedMsg:
		m.refresh()
		return m, waitForChange(m.updates)

	case tickMsg:
		m.refresh()
		if m.flash != "" && m.now().Sub(m.flashAt) >= flashDuration {
			m.flash = ""
		}
		return m, tick()

	case actionMsg:
		if msg.err != nil {
			m.setFlash("error: " + msg.err.Error())
		} else if msg.text != "" {
			m.setFlash(msg.text)
		}
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

// handleKey dispatches key presses.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.Close()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil

	case key.Matches(msg, m.keys.Pause):
		if m.snap.Config.IsPaused {
			return m, m.run("resumed", m.source.Resume)
		}
		return m, m.run("paused", m.source.Pause)

	case key.Matches(msg, m.keys.Stream):
		on := !m.snap.Config.UseStreaming
		text := "streaming off"
		if on {
			text = "streaming on"
		}
		return m, m.run(text, func() error { return m.source.SetStreaming(on) })

	case key.Matches(msg, m.keys.Interval):
		d, ok := presetFor(msg.String())
		if !ok {
			return m, nil
		}
		return m, m.run("interval "+d.String(), func() error { return m.source.SetInterval(d) })

	case key.Matches(msg, m.keys.Clear):
		m.source.ClearMetrics()
		m.selected = 0
		m.setFlash("metrics cleared")
		m.refresh()
		return m, nil

	case key.Matches(msg, m.keys.Up):
		if m.selected > 0 {
			m.selected--
		}
		return m, nil

	case key.Matches(msg, m.keys.Down):
		if m.selected < len(m.snap.Anomalies)-1 {
			m.selected++
		}
		return m, nil

	case key.Matches(msg, m.keys.Ack):
		a, ok := m.selectedAnomaly()
		if !ok {
			return m, nil
		}
		if m.source.AcknowledgeAnomaly(a.ID) {
			m.setFlash("acknowledged " + a.ID)
		}
		m.refresh()
		return m, nil
	}
	return m, nil
}

// Close releases the source subscription. Safe to call more than once.
func (m *Model) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
}

// run executes a source command off the update loop, since reconfiguring
// the transport waits for in-flight work to stop.
func (m Model) run(text string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		if err := fn(); err != nil {
			return actionMsg{err: err}
		}
		return actionMsg{text: text}
	}
}

// refresh pulls a new snapshot and rebuilds derived widgets.
func (m *Model) refresh() {
	m.snap = m.source.Snapshot()
	m.state = m.source.TransportState()
	if m.selected >= len(m.snap.Anomalies) {
		m.selected = max(len(m.snap.Anomalies)-1, 0)
	}
	m.customers.SetRows(customerRows(m.snap.TopCustomers))
}

func (m *Model) setFlash(text string) {
	m.flash = text
	m.flashAt = m.now()
}

// selectedAnomaly returns the highlighted anomaly. The list is shown newest
// first, so display row i is the i-th record from the end.
func (m Model) selectedAnomaly() (model.Anomaly, bool) {
	n := len(m.snap.Anomalies)
	if n == 0 || m.selected >= n {
		return model.Anomaly{}, false
	}
	return m.snap.Anomalies[n-1-m.selected], true
}

// =============================================================================
// COMMANDS
// =============================================================================

// waitForChange blocks until the source signals. A closed channel ends the
// listener.
func waitForChange(ch <-chan struct{}) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return changedMsg{}
	}
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// =============================================================================
// CUSTOMER TABLE
// =============================================================================

func newCustomerTable() table.Model {
	t := table.New(
		table.WithColumns(customerColumns(defaultWidth/2)),
		table.WithHeight(6),
		table.WithFocused(false),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.Bold(true).Foreground(styles.Purple)
	s.Selected = s.Cell
	t.SetStyles(s)
	return t
}

func customerColumns(width int) []table.Column {
	name := max(width-40, 12)
	return []table.Column{
		{Title: "Customer", Width: name},
		{Title: "Calls", Width: 8},
		{Title: "Tokens", Width: 9},
		{Title: "Cost", Width: 10},
	}
}

func customerRows(top []model.CustomerUsage) []table.Row {
	rows := make([]table.Row, 0, len(top))
	for _, c := range top {
		rows = append(rows, table.Row{
			c.CustomerID,
			util.FormatCount(c.Calls),
			util.FormatCompact(c.Tokens),
			util.FormatCost(c.Cost),
		})
	}
	return rows
}

func (m *Model) resizeTable() {
	m.customers.SetColumns(customerColumns(m.width / 2))
}
