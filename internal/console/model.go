// Package console is the local operator view: a live table of connected
// nodes with a key to disconnect the selected one.
package console

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/stlalpha/doornode/internal/types"
)

const refreshInterval = time.Second

// Source is the session registry as seen by the console.
type Source interface {
	Nodes() []types.NodeInfo
	DisconnectNode(node int) bool
}

type tickMsg time.Time

var keys = struct {
	Disconnect key.Binding
	Quit       key.Binding
}{
	Disconnect: key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "disconnect")),
	Quit:       key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("2"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	messageStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
)

// Model is the BubbleTea model for the node console.
type Model struct {
	source  Source
	table   table.Model
	nodes   []types.NodeInfo
	message string
}

// New creates a console over src with its first snapshot loaded.
func New(src Source) Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Node", Width: 5},
			{Title: "IP", Width: 15},
			{Title: "Username", Width: 20},
			{Title: "Module", Width: 15},
			{Title: "Terminal", Width: 10},
		}),
		table.WithFocused(true),
		table.WithHeight(15),
	)
	m := Model{source: src, table: t}
	m.refresh()
	return m
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(tea.SetWindowTitle("DoorNode Console"), tick())
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.refresh()
		return m, tick()

	case tea.WindowSizeMsg:
		if h := msg.Height - 6; h > 3 {
			m.table.SetHeight(h)
		}
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, keys.Disconnect):
			m.disconnectSelected()
			m.refresh()
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *Model) refresh() {
	m.nodes = m.source.Nodes()
	rows := make([]table.Row, 0, len(m.nodes))
	for _, n := range m.nodes {
		rows = append(rows, table.Row{
			strconv.Itoa(n.NodeID),
			strings.TrimPrefix(n.RemoteAddr, "::ffff:"),
			n.User.Name,
			n.User.Module,
			n.User.Terminal,
		})
	}
	m.table.SetRows(rows)
	if c := m.table.Cursor(); c >= len(rows) && len(rows) > 0 {
		m.table.SetCursor(len(rows) - 1)
	}
}

func (m *Model) disconnectSelected() {
	row := m.table.SelectedRow()
	if row == nil {
		m.message = "No node selected"
		return
	}
	node, err := strconv.Atoi(row[0])
	if err != nil {
		return
	}
	if m.source.DisconnectNode(node) {
		m.message = fmt.Sprintf("Node %d disconnected", node)
	} else {
		m.message = fmt.Sprintf("Node %d not found", node)
	}
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("DoorNode: %d active connection(s)", len(m.nodes))))
	b.WriteString("\n\n")
	b.WriteString(m.table.View())
	b.WriteString("\n\n")
	if m.message != "" {
		b.WriteString(messageStyle.Render(m.message) + "\n")
	}
	b.WriteString(helpStyle.Render(keys.Disconnect.Help().Key + " " + keys.Disconnect.Help().Desc + " | " +
		keys.Quit.Help().Key + " " + keys.Quit.Help().Desc))
	return b.String()
}

// Run shows the console on the controlling terminal until the user quits
// or ctx is cancelled.
func Run(ctx context.Context, src Source) error {
	p := tea.NewProgram(New(src), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
