package console

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stlalpha/doornode/internal/types"
)

type fakeSource struct {
	nodes        []types.NodeInfo
	disconnected []int
}

func (f *fakeSource) Nodes() []types.NodeInfo { return append([]types.NodeInfo(nil), f.nodes...) }

func (f *fakeSource) DisconnectNode(node int) bool {
	for i, n := range f.nodes {
		if n.NodeID == node {
			f.disconnected = append(f.disconnected, node)
			f.nodes = append(f.nodes[:i], f.nodes[i+1:]...)
			return true
		}
	}
	return false
}

func twoNodes() *fakeSource {
	return &fakeSource{nodes: []types.NodeInfo{
		{NodeID: 1, RemoteAddr: "::ffff:10.0.0.5", User: types.UserProfile{Name: "DebugUser", Module: "Debug", Terminal: "ansi"}},
		{NodeID: 2, RemoteAddr: "192.168.1.20", User: types.UserProfile{Name: "Player", Module: "LORD", Terminal: "xterm"}},
	}}
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	model, ok := next.(Model)
	require.True(t, ok)
	return model, cmd
}

func TestNewLoadsRows(t *testing.T) {
	m := New(twoNodes())

	rows := m.table.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, "10.0.0.5", rows[0][1])
	assert.Equal(t, "LORD", rows[1][3])
	assert.Contains(t, m.View(), "2 active connection(s)")
}

func TestTickRefreshes(t *testing.T) {
	src := twoNodes()
	m := New(src)
	src.nodes = src.nodes[:1]

	m, cmd := update(t, m, tickMsg{})
	assert.NotNil(t, cmd, "tick reschedules itself")
	assert.Len(t, m.table.Rows(), 1)
}

func TestDisconnectSelected(t *testing.T) {
	src := twoNodes()
	m := New(src)

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyDown})
	m, _ = update(t, m, runes("d"))

	assert.Equal(t, []int{2}, src.disconnected)
	assert.Len(t, m.table.Rows(), 1)
	assert.Contains(t, m.View(), "Node 2 disconnected")
}

func TestDisconnectWithNoNodes(t *testing.T) {
	src := &fakeSource{}
	m := New(src)

	m, _ = update(t, m, runes("d"))
	assert.Empty(t, src.disconnected)
	assert.Contains(t, m.View(), "No node selected")
}

func TestQuit(t *testing.T) {
	m := New(twoNodes())

	_, cmd := update(t, m, runes("q"))
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}
