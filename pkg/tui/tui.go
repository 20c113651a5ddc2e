// Copyright 2025 topfuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package tui renders the live fuzzing dashboard: global counters, one row
// per worker, and the tail of the log cache. It reads the metric registry
// and worker statuses on a timer and never touches the knowledge store.
package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/topfuzz/topfuzz/pkg/fuzzer"
	"github.com/topfuzz/topfuzz/pkg/log"
	"github.com/topfuzz/topfuzz/pkg/stat"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99"))
	statStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

const logTailLines = 8

type tickMsg time.Time

// Model is the bubbletea model of the dashboard.
type Model struct {
	pool    *fuzzer.Pool
	refresh time.Duration
	start   time.Time
	quit    func()
	width   int
}

// New builds the dashboard. quit is invoked when the user asks to leave,
// before the program itself exits; it should cancel the run context.
func New(pool *fuzzer.Pool, refresh time.Duration, quit func()) Model {
	return Model{
		pool:    pool,
		refresh: refresh,
		start:   time.Now(),
		quit:    quit,
		width:   100,
	}
}

func (m Model) Init() tea.Cmd {
	return m.tick()
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quit()
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case tickMsg:
		return m, m.tick()
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder
	uptime := time.Since(m.start).Truncate(time.Second)
	b.WriteString(titleStyle.Render("topfuzz"))
	b.WriteString(dimStyle.Render(fmt.Sprintf("  up %v  (q to quit)", uptime)))
	b.WriteString("\n\n")

	b.WriteString(headerStyle.Render("totals"))
	b.WriteString("\n")
	for _, ui := range stat.Collect(stat.Simple) {
		b.WriteString(statStyle.Render(fmt.Sprintf("  %-16s %s", ui.Name, ui.Value)))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	b.WriteString(headerStyle.Render("workers"))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(fmt.Sprintf("  %3s %-13s %10s %8s %8s  %s",
		"id", "state", "execs", "crashes", "uniques", "last error")))
	b.WriteString("\n")
	for id, st := range m.pool.Statuses() {
		line := fmt.Sprintf("  %3d %-13s %10d %8d %8d  %s",
			id, st.State, st.Executions, st.Crashes, st.Uniques, st.LastErr)
		if st.State == fuzzer.StateFailed {
			b.WriteString(errStyle.Render(line))
		} else {
			b.WriteString(statStyle.Render(line))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")

	b.WriteString(headerStyle.Render("log"))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(logTail()))
	return b.String()
}

func logTail() string {
	lines := strings.Split(strings.TrimRight(log.CachedLogOutput(), "\n"), "\n")
	if len(lines) > logTailLines {
		lines = lines[len(lines)-logTailLines:]
	}
	for i, line := range lines {
		lines[i] = "  " + line
	}
	return strings.Join(lines, "\n")
}
