// Package console implements the periodic stdout monitor: a one-way
// ticker printer (not an interactive TUI) that renders the current phase
// and a rolling metrics line, styled with the teacher's lipgloss palette
// convention (§5 "one dedicated task for periodic console/stdout updates").
package console

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/blackcoderx/loadgen/internal/loadmodel"
	"github.com/blackcoderx/loadgen/internal/metrics"
)

var (
	dimColor     = lipgloss.Color("#6c6c6c")
	accentColor  = lipgloss.Color("#7aa2f7")
	successColor = lipgloss.Color("#73daca")
	errorColor   = lipgloss.Color("#f7768e")
	warningColor = lipgloss.Color("#e0af68")

	phaseStyle   = lipgloss.NewStyle().Foreground(accentColor).Bold(true)
	labelStyle   = lipgloss.NewStyle().Foreground(dimColor)
	okStyle      = lipgloss.NewStyle().Foreground(successColor)
	failStyle    = lipgloss.NewStyle().Foreground(errorColor)
	warnStyle    = lipgloss.NewStyle().Foreground(warningColor)
)

// Monitor prints a styled one-line summary to out at a fixed interval.
// PhaseName/Target/Active are pushed in by the scheduler's OnTick callback;
// the monitor itself never blocks on the scheduler.
type Monitor struct {
	out      io.Writer
	agg      *metrics.Aggregator
	interval time.Duration

	phase  string
	target int
	active int
}

// New builds a Monitor. intervalMs <= 0 falls back to a one-second
// interval; a caller that wants no periodic output does not call Run.
func New(out io.Writer, agg *metrics.Aggregator, intervalMs int) *Monitor {
	interval := time.Duration(intervalMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	return &Monitor{out: out, agg: agg, interval: interval}
}

// Tick updates the phase/target/active fields the next print will show.
// The caller (cmd/loadgen, wiring scheduler.Scheduler.OnTick) passes the
// phase's String() form directly.
func (m *Monitor) Tick(phase string, target, active int) {
	m.phase = phase
	m.target = target
	m.active = active
}

// Run prints one line every interval until ctx-like done channel fires.
// Accepts a plain channel rather than context.Context so it has no import
// dependency beyond what it actually uses.
func (m *Monitor) Run(done <-chan struct{}) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			m.print()
		}
	}
}

func (m *Monitor) print() {
	snap := m.agg.Snapshot()
	p50 := metrics.Percentile(snap.AllSamples, 50)
	p95 := metrics.Percentile(snap.AllSamples, 95)

	errRate := 0.0
	if snap.Total > 0 {
		errRate = float64(snap.Failed) / float64(snap.Total) * 100
	}

	errStyle := okStyle
	if errRate > 0 {
		errStyle = warnStyle
	}
	if errRate > 10 {
		errStyle = failStyle
	}

	fmt.Fprintf(m.out, "%s vus=%d/%d %s total=%d %s p50=%v p95=%v %s tps=%.1f\n",
		phaseStyle.Render(padPhase(m.phase)),
		m.active, m.target,
		labelStyle.Render("|"),
		snap.Total,
		labelStyle.Render("|"),
		p50, p95,
		errStyle.Render(fmt.Sprintf("| err=%.1f%%", errRate)),
		snap.CurrentTPS,
	)
}

func padPhase(phase string) string {
	const width = 10
	if len(phase) >= width {
		return phase
	}
	return phase + strings.Repeat(" ", width-len(phase))
}

// FinalSummary renders the terminal pass/fail line after the run completes.
func FinalSummary(out io.Writer, snapshot loadmodel.MetricsSnapshot, pass bool, reasons []string) {
	status := okStyle.Render("PASS")
	if !pass {
		status = failStyle.Render("FAIL")
	}
	fmt.Fprintf(out, "\n%s  total=%d succeeded=%d failed=%d\n", status, snapshot.Total, snapshot.Succeeded, snapshot.Failed)
	for _, r := range reasons {
		fmt.Fprintf(out, "  - %s\n", failStyle.Render(r))
	}
}
