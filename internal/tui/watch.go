package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jfoltran/cdcingester/internal/daemon"
	"github.com/jfoltran/cdcingester/internal/metrics"
	"github.com/jfoltran/cdcingester/internal/tui/components"
)

const watchPollInterval = time.Second

// watchTickMsg drives the poll loop.
type watchTickMsg time.Time

// watchResultMsg carries a polled snapshot (or error) into the update loop.
type watchResultMsg struct {
	snapshot metrics.Snapshot
	logs     []metrics.LogEntry
	err      error
}

// WatchModel is a read-only TUI that polls a running serve instance's HTTP
// API instead of subscribing to an in-process Collector.
type WatchModel struct {
	client     *daemon.Client
	snapshot   metrics.Snapshot
	logs       []metrics.LogEntry
	lagHistory *components.LagHistory
	lastErr    error

	width  int
	height int
	ready  bool
}

// NewWatchModel creates a TUI model that polls the given client.
func NewWatchModel(client *daemon.Client) WatchModel {
	return WatchModel{
		client:     client,
		lagHistory: components.NewLagHistory(60),
	}
}

func (m WatchModel) Init() tea.Cmd {
	return tea.Batch(pollOnce(m.client), tickEvery(watchPollInterval))
}

func pollOnce(client *daemon.Client) tea.Cmd {
	return func() tea.Msg {
		snap, err := client.Status()
		if err != nil {
			return watchResultMsg{err: err}
		}
		logs, err := client.Logs()
		if err != nil {
			return watchResultMsg{snapshot: *snap, err: err}
		}
		return watchResultMsg{snapshot: *snap, logs: logs}
	}
}

func tickEvery(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg { return watchTickMsg(t) })
}

func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true

	case watchTickMsg:
		return m, tea.Batch(pollOnce(m.client), tickEvery(watchPollInterval))

	case watchResultMsg:
		m.lastErr = msg.err
		if msg.err == nil {
			m.snapshot = msg.snapshot
			m.logs = msg.logs
		}
	}

	return m, nil
}

func (m WatchModel) View() string {
	if !m.ready {
		return "Initializing..."
	}

	w := m.width
	snap := m.snapshot

	var sections []string

	title := titleBarStyle(w).Render(" cdcingester (remote)")
	sections = append(sections, title)

	if m.lastErr != nil {
		errBox := boxStyle.Width(w - 2).Render(fmt.Sprintf("  connection error: %s", m.lastErr))
		sections = append(sections, errBox)
	}

	headerBox := boxStyle.Width(w - 2).Render(components.RenderHeader(snap, w-4))
	sections = append(sections, headerBox)

	lagBox := boxStyle.Width(w - 2).Render(components.RenderLag(snap, m.lagHistory, w-4))
	sections = append(sections, lagBox)

	tpBox := boxStyle.Width(w - 2).Render(components.RenderThroughput(snap, w-4))
	sections = append(sections, tpBox)

	logLines := m.height - 12
	if logLines < 3 {
		logLines = 3
	}
	logBox := boxStyle.Width(w - 2).Render(components.RenderLogs(m.logs, logLines))
	sections = append(sections, logBox)

	help := helpStyle.Render("  q: quit")
	sections = append(sections, help)

	return strings.Join(sections, "\n")
}

// RunWatch starts the remote-polling TUI in fullscreen mode.
func RunWatch(client *daemon.Client) error {
	model := NewWatchModel(client)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	if err != nil {
		return fmt.Errorf("tui: %w", err)
	}
	return nil
}
