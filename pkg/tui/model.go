// Package tui provides the live dataref monitor for xpcctl. It is built on
// the bubbletea/lipgloss stack and redraws a table of subscribed datarefs
// each time a stream packet arrives.
package tui

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nasa/XPlaneConnect/pkg/dataref"
	"github.com/nasa/XPlaneConnect/pkg/transport"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("25")).
			Padding(0, 1)

	headerCellStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			PaddingRight(1)

	rowStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			PaddingRight(1)

	// altRowStyle stripes even rows.
	altRowStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Background(lipgloss.Color("236")).
			PaddingRight(1)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Italic(true)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			PaddingLeft(1)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("1")).
			Bold(true).
			PaddingLeft(1)
)

// Source is what the monitor reads from. *client.Client implements it.
type Source interface {
	Poll(ctx context.Context) (map[string]float32, error)
	Subscriptions() []dataref.Subscription
}

// sortMode orders the table.
type sortMode int

const (
	byIndex sortMode = iota
	byName
)

// dataMsg carries the state after one poll.
type dataMsg struct {
	subs []dataref.Subscription
	at   time.Time
}

// idleMsg reports a poll that timed out with nothing received.
type idleMsg struct{}

type errMsg error

// Row is one line of the monitor table.
type Row struct {
	Index int
	Name  string
	Freq  int
	Value string
}

// Model is the bubbletea model for the monitor.
type Model struct {
	src      Source
	target   string
	subs     []dataref.Subscription
	sort     sortMode
	packets  int
	lastData time.Time
	idle     bool
	err      error
	width    int
	height   int
}

// New returns a monitor reading src. target labels the status bar.
func New(src Source, target string) Model {
	return Model{src: src, target: target}
}

// Init issues the first poll.
func (m Model) Init() tea.Cmd {
	return poll(m.src)
}

func poll(src Source) tea.Cmd {
	return func() tea.Msg {
		_, err := src.Poll(context.Background())
		switch {
		case errors.Is(err, transport.ErrTimeout):
			return idleMsg{}
		case err != nil:
			return errMsg(err)
		}
		return dataMsg{subs: src.Subscriptions(), at: time.Now()}
	}
}

// Update processes messages and returns an updated model plus any commands.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "s":
			m.sort = (m.sort + 1) % 2
		}
		return m, nil

	case dataMsg:
		m.subs = msg.subs
		m.lastData = msg.at
		m.packets++
		m.idle = false
		m.err = nil
		return m, poll(m.src)

	case idleMsg:
		m.idle = true
		return m, poll(m.src)

	case errMsg:
		// Keep polling; a bad packet should not end the session.
		m.err = msg
		return m, poll(m.src)
	}
	return m, nil
}

// Rows returns the table contents in the current sort order.
func (m Model) Rows() []Row {
	rows := make([]Row, 0, len(m.subs))
	for _, s := range m.subs {
		value := "-"
		if s.HasValue {
			value = fmt.Sprintf("%.6g", s.Value)
		}
		rows = append(rows, Row{Index: s.Index, Name: s.Name, Freq: s.Freq, Value: value})
	}
	if m.sort == byName {
		sort.Slice(rows, func(i, j int) bool { return rows[i].Name < rows[j].Name })
	}
	return rows
}

// View renders the monitor.
func (m Model) View() string {
	if m.width == 0 {
		return "Loading…"
	}
	var sb strings.Builder
	sb.WriteString(titleStyle.Render("  X-Plane Connect Monitor  "))
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("─", m.width))
	sb.WriteString("\n")
	sb.WriteString(m.renderTable())
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("─", m.width))
	sb.WriteString("\n")
	sb.WriteString(m.renderStatus())
	return sb.String()
}

func (m Model) renderTable() string {
	rows := m.Rows()
	if len(rows) == 0 {
		return dimStyle.Render("  no datarefs subscribed")
	}
	nameWidth := len("DATAREF")
	for _, r := range rows {
		if len(r.Name) > nameWidth {
			nameWidth = len(r.Name)
		}
	}
	var sb strings.Builder
	header := fmt.Sprintf("%-5s %-*s %5s %14s", "IDX", nameWidth, "DATAREF", "HZ", "VALUE")
	sb.WriteString(headerCellStyle.Render(header))
	for i, r := range rows {
		style := rowStyle
		if i%2 == 1 {
			style = altRowStyle
		}
		line := fmt.Sprintf("%-5d %-*s %5d %14s", r.Index, nameWidth, r.Name, r.Freq, r.Value)
		sb.WriteString("\n")
		sb.WriteString(style.Render(line))
	}
	return sb.String()
}

func (m Model) renderStatus() string {
	if m.err != nil {
		return errorStyle.Render(fmt.Sprintf("Error: %v", m.err))
	}
	parts := []string{fmt.Sprintf("target: %s", m.target), fmt.Sprintf("packets: %d", m.packets)}
	if !m.lastData.IsZero() {
		parts = append(parts, fmt.Sprintf("last: %s", m.lastData.Format("15:04:05")))
	}
	if m.idle {
		parts = append(parts, "waiting for data…")
	}
	parts = append(parts, "q: quit  s: sort")
	return statusBarStyle.Render(strings.Join(parts, "  |  "))
}
