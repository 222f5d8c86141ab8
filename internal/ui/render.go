package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/san-kum/fieldreplay/internal/logsink"
	"github.com/san-kum/fieldreplay/internal/metrics"
	"github.com/san-kum/fieldreplay/internal/state"
)

// StepLine is the per-iteration echo shown to the operator.
func StepLine(r logsink.Record) string {
	mark := Ok.Render("✓")
	if !r.Success {
		mark = Fail.Render("✗")
	}
	line := fmt.Sprintf("[%s] output B(nT)=(%.1f, %.1f, %.1f) → V=(%.4f, %.4f, %.4f) %s",
		r.LocalTime.Format("2006-01-02T15:04:05"),
		r.Field[0], r.Field[1], r.Field[2],
		r.Volts[0], r.Volts[1], r.Volts[2],
		mark)
	if len(r.Readback) > 0 {
		parts := make([]string, len(r.Readback))
		for i, v := range r.Readback {
			parts[i] = fmt.Sprintf("%.4f", v)
		}
		line += Subtle.Render(" readback=(" + strings.Join(parts, ", ") + ")")
	}
	return line
}

type AxisModel struct {
	Samples   int
	Slope     float64
	Intercept float64
	Fitted    bool
}

type StatusView struct {
	State   state.Snapshot
	Rows    int
	Pending int
	LogPath string
	Axes    []AxisModel
	Metrics []metrics.Value
}

func (v StatusView) Progress() float64 {
	if v.Rows == 0 {
		return 0
	}
	return float64(v.State.CurrentIndex) / float64(v.Rows)
}

func (v StatusView) Render() string {
	var b strings.Builder

	status := StatusRunning.Render("running")
	switch {
	case v.State.Stopped:
		status = StatusStopped.Render("stopped")
	case v.State.Paused:
		status = StatusPaused.Render("paused")
	}

	row := func(label, value string) {
		b.WriteString(MetricLabel.Render(fmt.Sprintf("%-16s", label)))
		b.WriteString(MetricValue.Render(value))
		b.WriteString("\n")
	}

	b.WriteString(Title.Render("replay status") + "\n")
	row("state", status)
	row("progress", fmt.Sprintf("%d/%d (%.1f%%)", v.State.CurrentIndex, v.Rows, v.Progress()*100))
	b.WriteString(ProgressBar(v.Progress(), 30) + "\n")
	row("interval", fmt.Sprintf("%g s", v.State.Interval.Seconds()))
	row("voltage limit", fmt.Sprintf("±%g V", v.State.VoltageLimit))
	row("device", map[bool]string{true: "active", false: "idle"}[v.State.TaskActive])
	if v.State.HasJump {
		row("pending jump", fmt.Sprintf("%d", v.State.PendingJump))
	}
	row("log buffered", fmt.Sprintf("%d", v.Pending))
	if v.LogPath != "" {
		row("log file", v.LogPath)
	}

	if len(v.Axes) > 0 || len(v.Metrics) > 0 {
		b.WriteString(Separator(30) + "\n")
	}
	for i, ax := range v.Axes {
		name := fmt.Sprintf("cal %c", 'x'+i)
		if !ax.Fitted {
			row(name, fmt.Sprintf("%d samples, not fitted", ax.Samples))
			continue
		}
		row(name, fmt.Sprintf("%d samples, m=%.2fc%+.4f", ax.Samples, ax.Slope, ax.Intercept))
	}
	for _, m := range v.Metrics {
		row(m.Name, fmt.Sprintf("%.4f", m.Value))
	}

	return Panel.Render(strings.TrimRight(b.String(), "\n"))
}

// Elapsed formats a duration the way status lines show it.
func Elapsed(d time.Duration) string {
	return d.Truncate(time.Second).String()
}
