package main

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/adamwoolhether/httptask/progress"
	"github.com/adamwoolhether/httptask/task"
)

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))             // green
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))             // red
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))            // yellow
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))            // blue
	detailStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))           // grey
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69")) // purple
)

var symbols = map[task.State]string{
	task.StateQueued:  "◉",
	task.StateRunning: "→",
	task.StateDone:    "✓",
	task.StateError:   "✗",
	task.StateAborted: "!",
}

func stateStyle(s task.State) lipgloss.Style {
	switch s {
	case task.StateDone:
		return successStyle
	case task.StateError:
		return errorStyle
	case task.StateAborted:
		return warningStyle
	default:
		return pendingStyle
	}
}

// printResult writes one status line for t.
func printResult(w io.Writer, t *task.Task) {
	s := t.State()
	line := fmt.Sprintf("%s %-7s %s", symbols[s], s, t.URL())

	detail := humanBytes(t.Progress().Snapshot().Downloaded)
	if t.Dest() != "" {
		detail += " → " + t.Dest()
	}
	if err := t.Err(); err != nil {
		detail = err.Error()
	}

	fmt.Fprintln(w, stateStyle(s).Render(line), detailStyle.Render(detail))
}

func printHeader(w io.Writer, text string) {
	fmt.Fprintln(w, headerStyle.Render(text))
}

// progressLine renders a single overwriting progress line.
func progressLine(s progress.Snapshot) string {
	if s.Total <= 0 {
		return pendingStyle.Render(fmt.Sprintf("\r%s %s", symbols[task.StateRunning], humanBytes(s.Downloaded)))
	}
	return pendingStyle.Render(fmt.Sprintf("\r%s %3d%% %s / %s", symbols[task.StateRunning], s.Percent, humanBytes(s.Downloaded), humanBytes(s.Total)))
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}

	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
