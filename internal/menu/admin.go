// Package menu implements the debug menu: an operator module for renaming
// the session user, launching catalog doors and monitoring live nodes.
package menu

import (
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/stlalpha/doornode/internal/config"
	"github.com/stlalpha/doornode/internal/types"
)

// Host is the session the menu drives.
type Host interface {
	Write(p []byte)
	ClearScreen()
	UserName() string
	SetUserName(name string)
	SetInputMode(mode types.InputMode)
	RunDoor(entry config.DoorConfig) error
	Disconnect()
	Connections() []types.NodeInfo
	DisconnectNode(node int) bool
}

// Catalog supplies the doors offered under Run Door.
type Catalog interface {
	Doors() []config.DoorConfig
}

// Mode is the menu's top-level state.
type Mode int

const (
	ModeMain Mode = iota
	ModeRun
	ModeSetUser
	ModeMonitor
)

// MonitorMode is the sub-state of the connection monitor.
type MonitorMode int

const (
	MonitorCommand MonitorMode = iota
	MonitorDisconnect
)

const (
	minNameLen = 3
	maxNameLen = 30
)

// Monitor column widths: node, ip, username, module, terminal.
var monitorColumns = [5]int{5, 15, 20, 15, 15}

// Styles are rendered with a fixed ANSI profile since the output goes to a
// remote terminal, not the server's own.
var renderer = func() *lipgloss.Renderer {
	r := lipgloss.NewRenderer(io.Discard, termenv.WithProfile(termenv.ANSI))
	r.SetColorProfile(termenv.ANSI)
	return r
}()

var (
	titleStyle   = renderer.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	subtleStyle  = renderer.NewStyle().Foreground(lipgloss.Color("2"))
	userStyle    = renderer.NewStyle().Foreground(lipgloss.Color("5"))
	userBold     = userStyle.Bold(true)
	optionStyle  = renderer.NewStyle().Foreground(lipgloss.Color("6"))
	optionKey    = optionStyle.Bold(true)
	errorStyle   = renderer.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	headerStyle  = renderer.NewStyle().Foreground(lipgloss.Color("5")).Bold(true)
	rowStyle     = renderer.NewStyle().Foreground(lipgloss.Color("7")).Bold(true)
	promptSuffix = "\x1b[1;36m"
)

const crlf = "\r\n"

// notice is a message shown on the next render.
type notice struct {
	text    string
	isError bool
}

// Admin is the debug menu module.
type Admin struct {
	host    Host
	catalog Catalog

	mode     Mode
	monitor  MonitorMode
	category string
	notice   notice
}

// New returns a menu at the main screen. A non-empty message is shown once,
// e.g. after returning from a door.
func New(host Host, catalog Catalog, message string) *Admin {
	a := &Admin{host: host, catalog: catalog}
	if message != "" {
		a.notice = notice{text: message}
	}
	return a
}

// Mode returns the current top-level state.
func (a *Admin) Mode() Mode { return a.mode }

// MonitorMode returns the monitor sub-state.
func (a *Admin) MonitorMode() MonitorMode { return a.monitor }

// Category returns the selected category under Run Door, or "".
func (a *Admin) Category() string { return a.category }

// Destroy has nothing to release.
func (a *Admin) Destroy() {}

// Render draws the current state. It does not change menu state.
func (a *Admin) Render() {
	var b strings.Builder
	switch a.mode {
	case ModeMain:
		a.host.ClearScreen()
		a.renderMain(&b)
	case ModeRun:
		a.host.ClearScreen()
		a.renderRun(&b)
	case ModeSetUser:
		b.WriteString(crlf + crlf)
		a.writeNotice(&b)
		b.WriteString(userStyle.Render("Set username to: ") + "\x1b[1;35m")
	case ModeMonitor:
		a.host.ClearScreen()
		a.renderMonitor(&b)
	}
	a.host.Write([]byte(b.String()))
}

func (a *Admin) renderMain(b *strings.Builder) {
	b.WriteString(crlf + titleStyle.Render("DoorNode") + " " + subtleStyle.Render("debug interface") + crlf)
	b.WriteString(userStyle.Render("Username: ") + userBold.Render(a.host.UserName()) + crlf + crlf)
	for _, opt := range []struct{ key, rest string }{
		{"M", "onitor Connections"},
		{"R", "un Door"},
		{"S", "et Username"},
		{"D", "isconnect"},
	} {
		b.WriteString(option(opt.key, opt.rest) + crlf)
	}
	b.WriteString(crlf)
	a.writeNotice(b)
	b.WriteString("Command: " + promptSuffix)
}

func option(key, rest string) string {
	return optionStyle.Render("[") + optionKey.Render(key) + optionStyle.Render("]"+rest)
}

func (a *Admin) renderRun(b *strings.Builder) {
	doors := a.catalog.Doors()
	b.WriteString(crlf)
	if a.category == "" {
		b.WriteString(optionStyle.Render("Select a Category or Exit:") + crlf)
		for i, cat := range config.Categories(doors) {
			b.WriteString(optionKey.Render("["+strconv.Itoa(i+1)+"] ") + optionStyle.Render(cat) + crlf)
		}
		b.WriteString(optionKey.Render("[X] Exit to Debug Menu") + crlf + crlf)
		a.writeNotice(b)
		b.WriteString("Enter a number to select a category: " + promptSuffix)
		return
	}

	b.WriteString(optionStyle.Render("Doors in Category: ") + optionKey.Render(a.category) + crlf)
	for i, d := range config.InCategory(doors, a.category) {
		b.WriteString(optionKey.Render("["+strconv.Itoa(i+1)+"] ") + optionStyle.Render(d.Title()+" ("+d.Code+")") + crlf)
	}
	b.WriteString(optionKey.Render("[B] Back to Categories") + crlf + crlf)
	a.writeNotice(b)
	b.WriteString("Enter a number to run a door: " + promptSuffix)
}

func (a *Admin) renderMonitor(b *strings.Builder) {
	b.WriteString("Connection Monitor" + crlf + crlf)
	b.WriteString(headerStyle.Render(monitorRow("Node", "IP", "Username", "Module", "Terminal")) + crlf)
	for _, n := range a.host.Connections() {
		b.WriteString(rowStyle.Render(monitorRow(
			strconv.Itoa(n.NodeID),
			strings.TrimPrefix(n.RemoteAddr, "::ffff:"),
			n.User.Name,
			n.User.Module,
			n.User.Terminal,
		)) + crlf)
	}
	b.WriteString(optionStyle.Render("E[") + optionKey.Render("X") + optionStyle.Render("]it ") +
		option("D", "isconnect ") + option("R", "efresh") + crlf + crlf)
	a.writeNotice(b)
	if a.monitor == MonitorDisconnect {
		b.WriteString("Disconnect node: " + promptSuffix)
		return
	}
	b.WriteString("Command: " + promptSuffix)
}

func monitorRow(cols ...string) string {
	cells := make([]string, len(cols))
	for i, c := range cols {
		cells[i] = padOrTruncate(c, monitorColumns[i])
	}
	return strings.Join(cells, " | ")
}

func padOrTruncate(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		return string(r[:n])
	}
	return s + strings.Repeat(" ", n-len(r))
}

func (a *Admin) writeNotice(b *strings.Builder) {
	if a.notice.text == "" {
		return
	}
	style := optionKey
	if a.notice.isError {
		style = errorStyle
	}
	b.WriteString(style.Render(a.notice.text) + crlf + crlf)
}

func (a *Admin) fail(msg string) {
	a.notice = notice{text: msg, isError: true}
}

func (a *Admin) inform(msg string) {
	a.notice = notice{text: msg}
}

// Input handles one key (character mode) or one line (line mode).
func (a *Admin) Input(data []byte) {
	cmd := strings.TrimSpace(string(data))
	a.notice = notice{}

	switch a.mode {
	case ModeMain:
		if a.inputMain(strings.ToUpper(cmd)) {
			return
		}
	case ModeRun:
		if a.inputRun(cmd) {
			return
		}
	case ModeSetUser:
		a.inputSetUser(cmd)
	case ModeMonitor:
		a.inputMonitor(cmd)
	}
	a.Render()
}

// inputMain reports true when the session has gone away.
func (a *Admin) inputMain(cmd string) bool {
	switch cmd {
	case "R":
		a.mode = ModeRun
		a.category = ""
		a.host.SetInputMode(types.LineMode)
	case "S":
		a.mode = ModeSetUser
		a.host.SetInputMode(types.LineMode)
	case "M":
		a.mode = ModeMonitor
		a.monitor = MonitorCommand
	case "D":
		a.host.Write([]byte(crlf + crlf + errorStyle.Render("Goodbye...") + crlf + crlf))
		a.host.Disconnect()
		return true
	default:
		a.fail("Invalid command")
	}
	return false
}

// inputRun reports true when a door took over the session.
func (a *Admin) inputRun(cmd string) bool {
	doors := a.catalog.Doors()
	if a.category == "" {
		if strings.EqualFold(cmd, "X") {
			a.mode = ModeMain
			a.host.SetInputMode(types.CharMode)
			return false
		}
		cats := config.Categories(doors)
		if i, ok := pick(cmd, len(cats)); ok {
			a.category = cats[i]
		} else {
			a.fail("Invalid category")
		}
		return false
	}

	if strings.EqualFold(cmd, "B") {
		a.category = ""
		return false
	}
	inCat := config.InCategory(doors, a.category)
	i, ok := pick(cmd, len(inCat))
	if !ok {
		a.fail("Invalid door")
		return false
	}
	if err := a.host.RunDoor(inCat[i]); err != nil {
		a.fail("Unable to run " + inCat[i].Title() + ": invalid door configuration")
		return false
	}
	return true
}

// pick parses a 1-based menu number into an index below n.
func pick(cmd string, n int) (int, bool) {
	v, err := strconv.Atoi(cmd)
	if err != nil || v < 1 || v > n {
		return 0, false
	}
	return v - 1, true
}

func (a *Admin) inputSetUser(name string) {
	if l := len([]rune(name)); l < minNameLen || l > maxNameLen {
		a.fail("Invalid name")
		return
	}
	a.host.SetUserName(name)
	a.inform("Name set to " + name)
	a.mode = ModeMain
	a.host.SetInputMode(types.CharMode)
}

func (a *Admin) inputMonitor(cmd string) {
	if a.monitor == MonitorDisconnect {
		a.monitor = MonitorCommand
		a.host.SetInputMode(types.CharMode)
		node, err := strconv.Atoi(cmd)
		switch {
		case err != nil:
			a.fail("Invalid node")
		case a.host.DisconnectNode(node):
			a.inform("Node " + cmd + " disconnected")
		default:
			a.fail("Node " + cmd + " not found")
		}
		return
	}

	switch strings.ToUpper(cmd) {
	case "X":
		a.mode = ModeMain
	case "D":
		a.monitor = MonitorDisconnect
		a.host.SetInputMode(types.LineMode)
	case "R":
	default:
		a.fail("Invalid command")
	}
}
