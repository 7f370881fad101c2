package watch

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/docqueue/docq/internal/history"
	"github.com/docqueue/docq/internal/queue"
)

func renderHeader(w WorkerInfo, stats queue.Stats, counts map[history.Status]int, theme Theme, width int) string {
	innerWidth := width - 4

	workerText := theme.StatusDead.Render("STOPPED")
	if w.Running {
		workerText = theme.StatusOK.Render(fmt.Sprintf("RUNNING pid %d up %s",
			w.PID, formatDuration(time.Since(w.StartedAt))))
	}

	clock := theme.Dim.Render(time.Now().Format("15:04:05"))
	titleText := " DOCQ WATCH"
	pad := innerWidth - lipgloss.Width(titleText) - lipgloss.Width(clock) - 4
	if pad < 1 {
		pad = 1
	}
	titleLine := titleText + strings.Repeat(" ", pad) + clock + " "

	oldest := "-"
	if stats.Oldest != nil {
		oldest = formatDuration(time.Since(*stats.Oldest)) + " old"
	}
	statsLine := fmt.Sprintf(" Worker: %s  Queue: %d (%s)  Oldest: %s",
		workerText, stats.Count, formatBytes(stats.SizeBytes), oldest)

	extLine := " By type: " + formatExtensions(stats.ByExtension, theme)
	totalsLine := " Runs: " + formatCounts(counts, theme)

	content := lipgloss.JoinVertical(lipgloss.Left, titleLine, statsLine, extLine, totalsLine)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatExtensions(byExt map[string]int, theme Theme) string {
	if len(byExt) == 0 {
		return theme.Dim.Render("none")
	}
	exts := make([]string, 0, len(byExt))
	for ext := range byExt {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	parts := make([]string, 0, len(exts))
	for _, ext := range exts {
		parts = append(parts, fmt.Sprintf("%s %d", ext, byExt[ext]))
	}
	return strings.Join(parts, "  ")
}

func formatCounts(counts map[history.Status]int, theme Theme) string {
	if len(counts) == 0 {
		return theme.Dim.Render("none yet")
	}
	return fmt.Sprintf("%s %d  %s %d  %s %d",
		theme.StatusOK.Render("ok"), counts[history.StatusSucceeded],
		theme.StatusFailed.Render("failed"), counts[history.StatusFailed],
		theme.StatusQueued.Render("timed out"), counts[history.StatusTimedOut])
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

func formatBytes(n int64) string {
	if n < 1024 {
		return fmt.Sprintf("%d B", n)
	}
	return fmt.Sprintf("%.1f KiB", float64(n)/1024)
}
