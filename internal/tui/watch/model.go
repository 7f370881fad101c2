package watch

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/docqueue/docq/internal/config"
	"github.com/docqueue/docq/internal/history"
	"github.com/docqueue/docq/internal/queue"
	"github.com/docqueue/docq/internal/worker"
)

const (
	refreshInterval = time.Second
	recentRuns      = 8
	maxTableRows    = 50
)

// WorkerInfo is the display view of the worker marker.
type WorkerInfo struct {
	Running   bool
	PID       int
	StartedAt time.Time
}

type tickMsg time.Time

type snapshotMsg struct {
	worker WorkerInfo
	stats  queue.Stats
	items  []queue.Item
	recent []history.Entry
	counts map[history.Status]int
	err    error
}

// Model is the main BubbleTea model for the watch TUI.
type Model struct {
	cfg    *config.Config
	store  *queue.Store
	ledger *history.Ledger
	prober worker.Prober

	width  int
	height int

	worker    WorkerInfo
	stats     queue.Stats
	recent    []history.Entry
	counts    map[history.Status]int
	itemTable table.Model

	theme     Theme
	lastError string
}

// New creates a watch model. The ledger may be nil when the history database
// cannot be opened; the runs panel then shows a placeholder.
func New(cfg *config.Config, store *queue.Store, ledger *history.Ledger) *Model {
	t := table.New(
		table.WithColumns(itemColumns(80)),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	return &Model{
		cfg:       cfg,
		store:     store,
		ledger:    ledger,
		prober:    worker.SignalProber{},
		itemTable: t,
		theme:     NewDefaultTheme(),
	}
}

func itemColumns(width int) []table.Column {
	target := width - 36
	if target < 20 {
		target = 20
	}
	return []table.Column{
		{Title: "Target", Width: target},
		{Title: "Revision", Width: 12},
		{Title: "Queued", Width: 16},
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.refresh(),
		tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

// refresh reads every data source once. All reads are local and cheap; the
// queue snapshot takes the shared lock briefly and never mutates.
func (m Model) refresh() tea.Cmd {
	store, ledger, cfg, prober := m.store, m.ledger, m.cfg, m.prober
	return func() tea.Msg {
		var msg snapshotMsg

		pid, started, alive := worker.InspectMarker(cfg.Worker.MarkerPath, prober)
		msg.worker = WorkerInfo{Running: alive, PID: pid, StartedAt: started}

		stats, err := store.Stats()
		if err != nil {
			msg.err = fmt.Errorf("queue stats: %w", err)
			return msg
		}
		msg.stats = stats

		items, err := store.Snapshot(maxTableRows)
		if err != nil {
			msg.err = fmt.Errorf("queue snapshot: %w", err)
			return msg
		}
		msg.items = items

		if ledger != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if recent, err := ledger.Recent(ctx, recentRuns); err == nil {
				msg.recent = recent
			}
			if counts, err := ledger.CountByStatus(ctx); err == nil {
				msg.counts = counts
			}
		}
		return msg
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.refresh()
		}
		var cmd tea.Cmd
		m.itemTable, cmd = m.itemTable.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.itemTable.SetColumns(itemColumns(m.width - 8))
		return m, nil

	case tickMsg:
		return m, tea.Batch(
			m.refresh(),
			tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) }),
		)

	case snapshotMsg:
		if msg.err != nil {
			m.lastError = msg.err.Error()
			return m, nil
		}
		m.lastError = ""
		m.worker = msg.worker
		m.stats = msg.stats
		m.recent = msg.recent
		if msg.counts != nil {
			m.counts = msg.counts
		}
		rows := make([]table.Row, 0, len(msg.items))
		for _, it := range msg.items {
			rows = append(rows, table.Row{
				it.Target,
				shortRevision(it.Revision),
				it.EnqueuedAt.Local().Format("Jan 02 15:04:05"),
			})
		}
		m.itemTable.SetRows(rows)
		return m, nil
	}

	return m, nil
}

func (m Model) View() string {
	if m.width == 0 {
		return "Starting docq watch..."
	}

	header := renderHeader(m.worker, m.stats, m.counts, m.theme, m.width)
	items := m.theme.Border.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			m.theme.Title.Render("Pending"),
			m.itemTable.View(),
		),
	)
	runs := renderRuns(m.recent, m.theme, m.width)

	var errBar string
	if m.lastError != "" {
		errBar = m.theme.StatusFailed.Render(fmt.Sprintf(" ! %s", m.lastError))
	}

	help := m.theme.Dim.Render(" [q] Quit  [r] Refresh  [up/down] Scroll")

	parts := []string{header, items, runs}
	if errBar != "" {
		parts = append(parts, errBar)
	}
	parts = append(parts, help)

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}

func shortRevision(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}
