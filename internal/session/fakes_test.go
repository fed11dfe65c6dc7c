package session

import (
	"bytes"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/stlalpha/doornode/internal/config"
)

type fakeTransport struct {
	mu         sync.Mutex
	out        bytes.Buffer
	failWrites bool
	closes     int

	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:     make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) Read(p []byte) (int, error) {
	select {
	case b := <-f.in:
		return copy(p, b), nil
	case <-f.closed:
		return 0, io.EOF
	}
}

func (f *fakeTransport) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites {
		return 0, errors.New("broken pipe")
	}
	return f.out.Write(p)
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(192, 168, 1, 20), Port: 50123}
}

func (f *fakeTransport) send(s string) {
	f.in <- []byte(s)
}

func (f *fakeTransport) output() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.out.String()
}

func (f *fakeTransport) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// telnetTransport records telnet commands separately from data.
type telnetTransport struct {
	*fakeTransport
	cmds [][]byte
}

func (t *telnetTransport) SendCommand(cmd []byte) error {
	t.cmds = append(t.cmds, cmd)
	return nil
}

// recordingModule logs lifecycle calls to a shared journal.
type recordingModule struct {
	name    string
	journal *journal

	mu       sync.Mutex
	inputs   []string
	destroys int
}

func newRecordingModule(name string, j *journal) *recordingModule {
	return &recordingModule{name: name, journal: j}
}

func (m *recordingModule) Render() { m.journal.add(m.name + ".render") }

func (m *recordingModule) Input(data []byte) {
	m.mu.Lock()
	m.inputs = append(m.inputs, string(data))
	m.mu.Unlock()
}

func (m *recordingModule) Destroy() {
	m.mu.Lock()
	m.destroys++
	m.mu.Unlock()
	m.journal.add(m.name + ".destroy")
}

func (m *recordingModule) destroyCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.destroys
}

func (m *recordingModule) got() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.inputs...)
}

type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(e string) {
	if j == nil {
		return
	}
	j.mu.Lock()
	j.entries = append(j.entries, e)
	j.mu.Unlock()
}

func (j *journal) String() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return strings.Join(j.entries, ",")
}

func newTestRegistry(doors ...config.DoorConfig) *Registry {
	return NewRegistry(Services{Catalog: config.NewCatalog(doors)})
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}
