package watch

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/docqueue/docq/internal/history"
)

// renderRuns shows the most recent ledger rows, newest first.
func renderRuns(recent []history.Entry, theme Theme, width int) string {
	innerWidth := width - 4

	lines := []string{theme.Title.Render("Recent runs")}
	if len(recent) == 0 {
		lines = append(lines, theme.Dim.Render(" no completed runs"))
	}
	for _, e := range recent {
		style := theme.StatusOK
		switch e.Status {
		case history.StatusFailed:
			style = theme.StatusFailed
		case history.StatusTimedOut:
			style = theme.StatusQueued
		}
		line := fmt.Sprintf(" %s  %-9s %-5s %s",
			e.CompletedAt.Local().Format("15:04:05"),
			style.Render(string(e.Status)),
			string(e.Mode),
			e.Target)
		if e.LastError != nil {
			line += theme.Dim.Render("  " + truncate(*e.LastError, innerWidth/3))
		}
		lines = append(lines, truncate(line, innerWidth))
	}

	return theme.Border.Width(innerWidth).Render(
		lipgloss.JoinVertical(lipgloss.Left, lines...),
	)
}

func truncate(s string, max int) string {
	if max < 4 || len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
