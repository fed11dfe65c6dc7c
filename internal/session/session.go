package session

import (
	"errors"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stlalpha/doornode/internal/config"
	"github.com/stlalpha/doornode/internal/door"
	"github.com/stlalpha/doornode/internal/logging"
	"github.com/stlalpha/doornode/internal/menu"
	"github.com/stlalpha/doornode/internal/types"
)

// ErrClosed is returned when an operation needs a session that has ended.
var ErrClosed = errors.New("session closed")

// Telnet sequences sent when entering the debug menu: IAC DO LINEMODE asks
// for character-at-a-time input, IAC WILL ECHO stops the client echoing.
var (
	seqDoLinemode = []byte{255, 253, 34}
	seqWillEcho   = []byte{255, 251, 1}
)

const (
	seqEraseDisplay = "\x1b[2J"
	seqCursorHome   = "\x1b[1;1H"
)

// Module is the component currently driving a session: the debug menu or a
// door runner.
type Module interface {
	Render()
	Input(data []byte)
	Destroy()
}

// Transport is the user-facing byte stream.
type Transport interface {
	io.ReadWriteCloser
	RemoteAddr() net.Addr
}

// commandSender is implemented by transports that carry telnet commands
// outside their normal IAC-escaped data path.
type commandSender interface {
	SendCommand(cmd []byte) error
}

// Origin records how a session was accepted.
type Origin int

const (
	// Direct sessions come from the rlogin port and launch one door.
	Direct Origin = iota
	// Administrative sessions start in the debug menu and return to it.
	Administrative
)

func (o Origin) String() string {
	if o == Administrative {
		return "admin"
	}
	return "direct"
}

// Session is one live connection.
type Session struct {
	id         string
	node       int
	origin     Origin
	transport  Transport
	remoteAddr string
	started    time.Time
	registry   *Registry

	writeMu sync.Mutex

	mu      sync.Mutex
	module  Module
	profile types.UserProfile
	mode    types.InputMode
	closed  bool

	// Owned by the event loop.
	line   []byte
	lastCR bool

	events    chan func()
	done      chan struct{}
	closeOnce sync.Once
}

func newSession(node int, t Transport, reg *Registry, opts Options) *Session {
	return &Session{
		id:         uuid.NewString(),
		node:       node,
		origin:     opts.Origin,
		transport:  t,
		remoteAddr: hostOnly(t.RemoteAddr()),
		started:    time.Now(),
		registry:   reg,
		profile:    opts.Profile,
		mode:       types.CharMode,
		events:     make(chan func(), 16),
		done:       make(chan struct{}),
	}
}

func hostOnly(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// ID is the session's unique identifier.
func (s *Session) ID() string { return s.id }

// NodeID is the node number assigned at registration.
func (s *Session) NodeID() int { return s.node }

// Origin reports how the session was accepted.
func (s *Session) Origin() Origin { return s.origin }

// RemoteAddr is the peer address without the port.
func (s *Session) RemoteAddr() string { return s.remoteAddr }

// Done is closed once the session has been closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Profile returns a copy of the user profile.
func (s *Session) Profile() types.UserProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}

// UserName returns the display name.
func (s *Session) UserName() string {
	return s.Profile().Name
}

// SetUserName changes the display name.
func (s *Session) SetUserName(name string) {
	s.mu.Lock()
	s.profile.Name = name
	s.mu.Unlock()
}

func (s *Session) setModuleLabel(label string) {
	s.mu.Lock()
	s.profile.Module = label
	s.mu.Unlock()
}

// InputMode returns how input is currently delivered.
func (s *Session) InputMode() types.InputMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetInputMode changes how input is delivered and drops any partial line.
func (s *Session) SetInputMode(mode types.InputMode) {
	s.mu.Lock()
	s.mode = mode
	s.mu.Unlock()
	s.line = s.line[:0]
	s.lastCR = false
}

// Info returns a point-in-time view of the session.
func (s *Session) Info() types.NodeInfo {
	return types.NodeInfo{
		NodeID:     s.node,
		SessionID:  s.id,
		RemoteAddr: s.remoteAddr,
		User:       s.Profile(),
	}
}

// Module returns the active module, or nil.
func (s *Session) Module() Module {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.module
}

func (s *Session) current() (Module, types.InputMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.module, s.mode
}

// SwitchModule destroys the active module and then installs next, which may
// be nil. It reports false, destroying next, if the session has closed.
func (s *Session) SwitchModule(next Module) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		if next != nil {
			next.Destroy()
		}
		return false
	}
	prev := s.module
	s.module = nil
	s.mu.Unlock()

	if prev != nil {
		prev.Destroy()
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		if next != nil {
			next.Destroy()
		}
		return false
	}
	s.module = next
	s.mu.Unlock()
	return true
}

// Write sends raw bytes to the user. Failures are logged, never returned.
func (s *Session) Write(p []byte) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		logging.Debug("Node %d: dropped %d byte(s) written after close", s.node, len(p))
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.transport.Write(p); err != nil {
		log.Printf("WARN: Node %d: Write failed: %v", s.node, err)
	}
}

// WriteString is Write for text.
func (s *Session) WriteString(str string) {
	s.Write([]byte(str))
}

// ClearScreen erases the display and homes the cursor.
func (s *Session) ClearScreen() {
	s.WriteString(seqEraseDisplay)
	s.MoveCursorHome()
}

// MoveCursorHome positions the cursor at row 1, column 1.
func (s *Session) MoveCursorHome() {
	s.WriteString(seqCursorHome)
}

// EnterCharacterMode asks a telnet client for character-at-a-time input
// with server-side echo.
func (s *Session) EnterCharacterMode() {
	for _, seq := range [][]byte{seqDoLinemode, seqWillEcho} {
		if cs, ok := s.transport.(commandSender); ok {
			s.writeMu.Lock()
			err := cs.SendCommand(seq)
			s.writeMu.Unlock()
			if err != nil {
				log.Printf("WARN: Node %d: Telnet negotiation failed: %v", s.node, err)
			}
			continue
		}
		s.Write(seq)
	}
}

// ShowAdminMenu installs a fresh debug menu, optionally showing notice.
func (s *Session) ShowAdminMenu(notice string) {
	m := menu.New(menuHost{s}, s.registry.services.Catalog, notice)
	if !s.SwitchModule(m) {
		return
	}
	s.setModuleLabel(s.registry.services.MenuLabel)
	s.SetInputMode(types.CharMode)
	s.EnterCharacterMode()
	m.Render()
}

// RunDoor replaces the active module with a runner for entry and starts it.
func (s *Session) RunDoor(entry config.DoorConfig) error {
	r, err := door.NewRunner(entry, doorHost{s}, s.registry.services.Doors)
	if err != nil {
		log.Printf("ERROR: Node %d: %v", s.node, err)
		return err
	}
	if !s.SwitchModule(r) {
		return ErrClosed
	}
	s.setModuleLabel(entry.Code)
	s.SetInputMode(types.RawMode)
	log.Printf("INFO: Node %d: User %s launching door %s (%s)", s.node, s.UserName(), entry.Code, r.Strategy())
	r.Render()
	return nil
}

// StartDoor launches the catalog door code for a direct session. An unknown
// or unlaunchable door ends the connection.
func (s *Session) StartDoor(code string) {
	entry, ok := s.registry.services.Catalog.Find(code)
	if !ok {
		log.Printf("WARN: Node %d: No door config found with code=%s", s.node, code)
		s.WriteString("Unknown door: " + code + "\r\n")
		s.EndTransport()
		return
	}
	if err := s.RunDoor(entry); err != nil {
		s.WriteString("Door " + code + " is not available.\r\n")
		s.EndTransport()
	}
}

// doorFinished runs on the event loop when runner r reports completion.
func (s *Session) doorFinished(r *door.Runner) {
	if s.Module() != Module(r) {
		logging.Debug("Node %d: ignoring completion from replaced door %s", s.node, r.Entry().Code)
		return
	}
	entry := r.Entry()
	if s.origin == Administrative {
		log.Printf("INFO: Node %d: Door %s finished, restoring debug menu", s.node, entry.Code)
		s.ShowAdminMenu("Exited " + entry.Title() + " (" + entry.Code + "). Returning to Debug Menu.")
		return
	}
	log.Printf("INFO: Node %d: Door %s finished, closing connection", s.node, entry.Code)
	s.EndTransport()
}

// EndTransport closes the connection. The serving loop notices and
// unregisters the session.
func (s *Session) EndTransport() {
	if err := s.transport.Close(); err != nil {
		logging.Debug("Node %d: transport close: %v", s.node, err)
	}
}

// Close destroys the active module and closes the transport. Only the
// first call has any effect.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		m := s.module
		s.module = nil
		s.mu.Unlock()

		if m != nil {
			m.Destroy()
		}
		s.EndTransport()
		close(s.done)
	})
}

// Post queues fn to run on the session's event loop.
func (s *Session) Post(fn func()) {
	select {
	case s.events <- fn:
	case <-s.done:
	}
}

// Serve runs the session until its transport closes or it is closed, then
// unregisters it. It is the only place a session's end is handled.
func (s *Session) Serve() {
	defer s.registry.Unregister(s)

	input := make(chan []byte)
	go s.readLoop(input)

	for {
		select {
		case fn := <-s.events:
			s.safely(fn)
		case data, ok := <-input:
			if !ok {
				return
			}
			s.safely(func() { s.route(data) })
		case <-s.done:
			return
		}
	}
}

func (s *Session) readLoop(input chan<- []byte) {
	defer close(input)
	buf := make([]byte, 4096)
	for {
		n, err := s.transport.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case input <- data:
			case <-s.done:
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				logging.Debug("Node %d: read ended: %v", s.node, err)
			}
			return
		}
	}
}

func (s *Session) safely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: Node %d: Panic in session handler: %v", s.node, r)
			s.registry.Unregister(s)
		}
	}()
	fn()
}
