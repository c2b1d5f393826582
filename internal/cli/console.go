// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// console.go - Interactive console over a live session.

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/peterh/liner"

	"github.com/jeranaias/usagepulse/internal/config"
	"github.com/jeranaias/usagepulse/internal/model"
	"github.com/jeranaias/usagepulse/internal/telemetry"
	"github.com/jeranaias/usagepulse/internal/transport"
	"github.com/jeranaias/usagepulse/internal/ui/styles"
	"github.com/jeranaias/usagepulse/internal/util"
)

// consoleHistoryFile is kept in the config directory.
const consoleHistoryFile = "console_history"

// controller is the engine surface the console drives.
type controller interface {
	Snapshot() telemetry.Snapshot
	Events() []model.MetricEvent
	TransportState() transport.State
	Pause() error
	Resume() error
	SetStreaming(on bool) error
	SetInterval(d time.Duration) error
	AcknowledgeAnomaly(id string) bool
	ClearMetrics()
}

// consoleCommands lists command words for completion and help.
var consoleCommands = []struct{ name, args, desc string }{
	{"status", "", "connection status and mode"},
	{"stats", "", "window totals and token sparkline"},
	{"anomalies", "[n]", "recent anomalies, newest first"},
	{"top", "", "top customers by cost"},
	{"events", "[n]", "most recent buffered events"},
	{"pause", "", "stop acquiring"},
	{"resume", "", "resume acquiring"},
	{"stream", "on|off", "switch between streaming and polling"},
	{"interval", "<dur>", "set the polling interval (e.g. 500ms, 2s)"},
	{"ack", "<id>|all", "acknowledge an anomaly"},
	{"clear", "", "clear buffered metrics and anomalies"},
	{"help", "", "show this help"},
	{"quit", "", "exit the console"},
}

// =============================================================================
// CONSOLE
// =============================================================================

// Console executes console command lines against a controller.
type Console struct {
	ctl controller
	out io.Writer
	now func() time.Time
}

// NewConsole creates a console writing to out.
func NewConsole(ctl controller, out io.Writer) *Console {
	return &Console{ctl: ctl, out: out, now: time.Now}
}

// Exec runs one command line. It reports whether the console should exit.
func (c *Console) Exec(line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	cmd, rest := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "quit", "exit", "q":
		return true, nil
	case "help", "?":
		c.printHelp()
	case "status":
		c.printStatus()
	case "stats":
		c.printStats()
	case "anomalies", "anom":
		n, err := optionalCount(rest, 10)
		if err != nil {
			return false, err
		}
		c.printAnomalies(n)
	case "top":
		c.printTop()
	case "events":
		n, err := optionalCount(rest, 10)
		if err != nil {
			return false, err
		}
		c.printEvents(n)
	case "pause":
		return false, c.report("paused", c.ctl.Pause())
	case "resume":
		return false, c.report("resumed", c.ctl.Resume())
	case "stream":
		if len(rest) != 1 {
			return false, ErrMissingArgument("on|off", "stream on|off")
		}
		on, err := ParseBoolString(rest[0])
		if err != nil {
			return false, &UsageError{Message: err.Error(), Usage: "stream on|off"}
		}
		return false, c.report("streaming "+onOff(on), c.ctl.SetStreaming(on))
	case "interval":
		if len(rest) != 1 {
			return false, ErrMissingArgument("duration", "interval <dur>")
		}
		d, err := ParseDuration(rest[0])
		if err != nil {
			return false, &UsageError{Message: fmt.Sprintf("invalid duration %q", rest[0]), Usage: "interval <dur>"}
		}
		return false, c.report("interval "+d.String(), c.ctl.SetInterval(d))
	case "ack":
		if len(rest) != 1 {
			return false, ErrMissingArgument("id", "ack <id>|all")
		}
		return false, c.acknowledge(rest[0])
	case "clear":
		c.ctl.ClearMetrics()
		fmt.Fprintln(c.out, SuccessStyle.Render("metrics cleared"))
	default:
		return false, &UsageError{Message: fmt.Sprintf("unknown command %q (try help)", cmd)}
	}
	return false, nil
}

// report prints text on success and passes err through.
func (c *Console) report(text string, err error) error {
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, SuccessStyle.Render(text))
	return nil
}

func (c *Console) acknowledge(id string) error {
	if id != "all" {
		if !c.ctl.AcknowledgeAnomaly(id) {
			return fmt.Errorf("no anomaly with id %q", id)
		}
		fmt.Fprintln(c.out, SuccessStyle.Render("acknowledged "+id))
		return nil
	}

	n := 0
	for _, a := range c.ctl.Snapshot().Anomalies {
		if !a.Acknowledged && c.ctl.AcknowledgeAnomaly(a.ID) {
			n++
		}
	}
	fmt.Fprintln(c.out, SuccessStyle.Render(fmt.Sprintf("acknowledged %d anomalies", n)))
	return nil
}

// =============================================================================
// OUTPUT
// =============================================================================

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, TitleStyle.Render("Commands"))
	for _, cmd := range consoleCommands {
		usage := strings.TrimSpace(cmd.name + " " + cmd.args)
		fmt.Fprintf(c.out, "  %s %s\n", util.PadRight(usage, 18), DimStyle.Render(cmd.desc))
	}
}

func (c *Console) printStatus() {
	snap := c.ctl.Snapshot()
	st := snap.Status
	fmt.Fprintln(c.out, RenderField("Connection", RenderConnection(string(st.Status))))
	fmt.Fprintln(c.out, RenderField("Mode", snap.Config.Mode()))
	fmt.Fprintln(c.out, RenderField("Transport", c.ctl.TransportState().String()))
	last := "never"
	if st.LastUpdate != nil {
		last = util.RelativeTime(*st.LastUpdate, c.now())
	}
	fmt.Fprintln(c.out, RenderField("Last update", last))
	if st.ErrorMessage != "" {
		fmt.Fprintln(c.out, RenderField("Error", ErrorStyle.Render(st.ErrorMessage)))
	}
	fmt.Fprintln(c.out, RenderField("Buffer", fmt.Sprintf("%d/%d events", snap.BufferLen, snap.BufferCap)))
}

func (c *Console) printStats() {
	snap := c.ctl.Snapshot()
	agg := snap.Aggregates
	fmt.Fprintln(c.out, SectionStyle.Render("Last 5 minutes"))
	fmt.Fprintln(c.out, RenderField("Cost", util.FormatCost(agg.TotalCost)+DimStyle.Render("  avg "+util.FormatCost(agg.AvgCost()))))
	fmt.Fprintln(c.out, RenderField("Tokens", util.FormatCount(agg.TotalTokens)+DimStyle.Render(fmt.Sprintf("  avg %.0f", agg.AvgTokens()))))
	fmt.Fprintln(c.out, RenderField("Calls", util.FormatCount(agg.TotalCalls)))
	fmt.Fprintln(c.out, RenderField("Avg latency", util.FormatLatency(agg.AvgLatency)))
	fmt.Fprintln(c.out, RenderField("Events", strconv.Itoa(agg.EventCount)))

	values := make([]float64, len(snap.Series))
	for i, b := range snap.Series {
		values[i] = float64(b.Tokens)
	}
	fmt.Fprintln(c.out, RenderField("Tokens/5s", styles.Sparkline(values, 40)))
}

func (c *Console) printAnomalies(n int) {
	snap := c.ctl.Snapshot()
	fmt.Fprintln(c.out, SectionStyle.Render(fmt.Sprintf("Anomalies (%d open, %d total)", snap.Unacknowledged, len(snap.Anomalies))))
	if len(snap.Anomalies) == 0 {
		fmt.Fprintln(c.out, DimStyle.Render("  none flagged"))
		return
	}
	now := c.now()
	shown := 0
	for i := len(snap.Anomalies) - 1; i >= 0 && shown < n; i-- {
		a := snap.Anomalies[i]
		mark := WarningStyle.Render(styles.StatusIndicators.Warning)
		if a.Acknowledged {
			mark = DimStyle.Render(styles.StatusIndicators.Success)
		}
		fmt.Fprintf(c.out, "  %s %s  %s %s %s  %s\n",
			mark,
			a.ID,
			a.CustomerID,
			a.Metric,
			util.FormatRatio(a.Ratio()),
			DimStyle.Render(util.RelativeTime(a.Timestamp, now)),
		)
		shown++
	}
}

func (c *Console) printTop() {
	snap := c.ctl.Snapshot()
	fmt.Fprintln(c.out, SectionStyle.Render("Top customers"))
	if len(snap.TopCustomers) == 0 {
		fmt.Fprintln(c.out, DimStyle.Render("  no usage yet"))
		return
	}
	var total float64
	for _, cu := range snap.TopCustomers {
		total += cu.Cost
	}
	for _, cu := range snap.TopCustomers {
		share := 0.0
		if total > 0 {
			share = cu.Cost / total * 100
		}
		fmt.Fprintf(c.out, "  %s %s %s %s  %s\n",
			util.PadRight(util.TruncateWidth(cu.CustomerID, 16), 16),
			util.PadLeft(util.FormatCost(cu.Cost), 10),
			util.PadLeft(util.FormatCompact(cu.Tokens), 8),
			styles.RenderBar(20, share),
			DimStyle.Render(fmt.Sprintf("%.0f%%", share)),
		)
	}
}

func (c *Console) printEvents(n int) {
	events := c.ctl.Events()
	if len(events) > n {
		events = events[len(events)-n:]
	}
	fmt.Fprintln(c.out, SectionStyle.Render(fmt.Sprintf("Last %d events", len(events))))
	for _, ev := range events {
		fmt.Fprintf(c.out, "  %s  %s %s  %s tokens  %s  %s\n",
			DimStyle.Render(ev.Timestamp.Format("15:04:05.000")),
			ev.TenantID,
			ev.CustomerID,
			util.FormatCount(ev.Metrics.TotalTokens),
			util.FormatCost(ev.Metrics.TotalCost),
			util.FormatLatency(ev.Metrics.AvgLatencyMs),
		)
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func optionalCount(rest []string, def int) (int, error) {
	if len(rest) == 0 {
		return def, nil
	}
	n, err := strconv.Atoi(rest[0])
	if err != nil || n <= 0 {
		return 0, &UsageError{Message: fmt.Sprintf("invalid count %q", rest[0])}
	}
	return n, nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// completeConsole completes the command word.
func completeConsole(line string) []string {
	var out []string
	for _, cmd := range consoleCommands {
		if strings.HasPrefix(cmd.name, strings.ToLower(line)) {
			out = append(out, cmd.name)
		}
	}
	sort.Strings(out)
	return out
}

// =============================================================================
// REPL
// =============================================================================

// HandleConsole runs the interactive console.
//
//	usagepulse console [--stream] [--protocol sse|websocket] [--interval 1s] [--paused] [--no-watch]
func HandleConsole(ctx context.Context, args Args) error {
	p := NewArgParser(args.Raw, sourceBools...)
	s, err := openSession(args, p, sessionOptions{LogToFile: true, Watch: true})
	if err != nil {
		return err
	}
	defer s.close()

	if err := s.engine.Start(ctx); err != nil {
		return &CommandError{Command: "console", Action: "start", Err: err}
	}

	out := args.out()
	console := NewConsole(s.engine, out)
	if !args.Quiet {
		fmt.Fprintln(out, TitleStyle.Render("usagepulse console"))
		fmt.Fprintln(out, DimStyle.Render(fmt.Sprintf("source %s, %s. Type help for commands.", s.cfg.Source.BaseURL, s.cfg.Polling.ToModel().Mode())))
	}

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	line.SetCompleter(completeConsole)

	historyPath := ""
	if dir, err := config.ConfigDir(); err == nil {
		historyPath = filepath.Join(dir, consoleHistoryFile)
		if f, err := os.Open(historyPath); err == nil {
			line.ReadHistory(f)
			f.Close()
		}
	}
	defer func() {
		if historyPath == "" {
			return
		}
		if err := config.EnsureConfigDir(); err != nil {
			return
		}
		if f, err := os.Create(historyPath); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}()

	for ctx.Err() == nil {
		input, err := line.Prompt("usagepulse> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Fprintln(out)
				return nil
			}
			return &CommandError{Command: "console", Action: "read", Err: err}
		}
		if strings.TrimSpace(input) != "" {
			line.AppendHistory(input)
		}
		quit, err := console.Exec(input)
		if err != nil {
			DisplayError(out, err, false)
		}
		if quit {
			return nil
		}
	}
	return nil
}
