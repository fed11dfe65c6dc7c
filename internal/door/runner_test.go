package door

import (
	"bytes"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stlalpha/doornode/internal/config"
	"github.com/stlalpha/doornode/internal/retry"
)

type fakeHost struct {
	node int
	name string

	mu     sync.Mutex
	out    bytes.Buffer
	clears int

	finished chan *Runner
	aborted  chan *Runner
}

func newFakeHost(node int) *fakeHost {
	return &fakeHost{
		node:     node,
		name:     "Tester",
		finished: make(chan *Runner, 4),
		aborted:  make(chan *Runner, 4),
	}
}

func (h *fakeHost) NodeID() int { return h.node }

func (h *fakeHost) UserName() string { return h.name }

func (h *fakeHost) DoorFinished(r *Runner) { h.finished <- r }

func (h *fakeHost) DoorAborted(r *Runner) { h.aborted <- r }

func (h *fakeHost) Write(p []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.out.Write(p)
}

func (h *fakeHost) ClearScreen() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clears++
}

func (h *fakeHost) output() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.out.String()
}

type fakeAudit struct {
	mu      sync.Mutex
	records []string
}

func (a *fakeAudit) Record(user, title, code string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, user+"|"+title+"|"+code)
	return nil
}

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755))
	return path
}

// testEnv lays out a drive and config directory with an emulator stand-in.
func testEnv(t *testing.T, emulatorBody string) Environment {
	t.Helper()
	root := t.TempDir()
	confDir := filepath.Join(root, "dosbox")
	drive := filepath.Join(confDir, "drive")
	require.NoError(t, os.MkdirAll(filepath.Join(drive, "bin"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(confDir, "dosbox.conf"), []byte(templateConf), 0644))
	return Environment{
		EmulatorPath: writeScript(t, root, "dosbox-bin", emulatorBody),
		ConfigPath:   confDir,
		DrivePath:    drive,
		BasePort:     10000,
		Headless:     true,
		Retry:        retry.Poll{Interval: 10 * time.Millisecond, MaxAttempts: 3},
		Audit:        &fakeAudit{},
	}
}

func lordEntry() config.DoorConfig {
	return config.DoorConfig{
		Code:           "LORD",
		DoorCmd:        "lord.bat",
		DropFileFormat: "DoorSys",
		MultiNode:      true,
		GameTitle:      "Legend of the Red Dragon",
		Category:       "RPG",
		Description:    "Slay the dragon",
	}
}

// freePort returns a loopback port with nothing listening on it.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func waitFor[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
	var zero T
	return zero
}

func TestNewRunnerValidation(t *testing.T) {
	env := testEnv(t, "exit 0")
	tests := []struct {
		name   string
		mutate func(e *config.DoorConfig)
	}{
		{"missing command", func(e *config.DoorConfig) { e.DoorCmd = "" }},
		{"missing format", func(e *config.DoorConfig) { e.DropFileFormat = "" }},
		{"unknown format", func(e *config.DoorConfig) { e.DropFileFormat = "Chain" }},
		{"no directory", func(e *config.DoorConfig) { e.MultiNode = false; e.DropFileDir = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := lordEntry()
			tt.mutate(&entry)
			r, err := NewRunner(entry, newFakeHost(1), env)
			assert.Nil(t, r)
			assert.True(t, errors.Is(err, ErrInvalidDoorConfig), "got %v", err)
		})
	}
}

func TestNewRunnerResolvesDropDir(t *testing.T) {
	env := testEnv(t, "exit 0")

	r, err := NewRunner(lordEntry(), newFakeHost(3), env)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(env.DrivePath, "nodes", "node3"), r.DropDir())
	assert.DirExists(t, r.DropDir())

	entry := lordEntry()
	entry.MultiNode = false
	entry.DropFileDir = "/BRE"
	r, err = NewRunner(entry, newFakeHost(3), env)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(env.DrivePath, "BRE"), r.DropDir())
}

func TestNewRunnerRemovesLockFile(t *testing.T) {
	env := testEnv(t, "exit 0")
	lock := filepath.Join(env.DrivePath, "LORD.LCK")
	require.NoError(t, os.WriteFile(lock, []byte("x"), 0644))

	entry := lordEntry()
	entry.RemoveLockFile = "/LORD.LCK"
	_, err := NewRunner(entry, newFakeHost(1), env)
	require.NoError(t, err)
	assert.NoFileExists(t, lock)

	_, err = NewRunner(entry, newFakeHost(1), env)
	assert.NoError(t, err, "absent lock file is fine")
}

func TestEmulatedAbortsWhenBridgeNeverConnects(t *testing.T) {
	env := testEnv(t, "sleep 10")
	host := newFakeHost(1)
	env.BasePort = freePort(t) - host.node

	r, err := NewRunner(lordEntry(), host, env)
	require.NoError(t, err)
	r.Render()

	assert.FileExists(t, filepath.Join(r.DropDir(), "DOOR.SYS"))
	assert.FileExists(t, filepath.Join(env.ConfigPath, "dosbox1.conf"))

	aborted := waitFor(t, host.aborted, "abort")
	assert.Same(t, r, aborted)
	r.Destroy()
	assert.NoFileExists(t, filepath.Join(r.DropDir(), "DOOR.SYS"), "destroy removes the drop file")

	assert.False(t, r.active.Load(), "forwarding never started")
	r.Input([]byte("ignored"))
	assert.Empty(t, host.output())
	assert.Equal(t, []string{"Tester|Legend of the Red Dragon|LORD"}, env.Audit.(*fakeAudit).records)
}

func TestEmulatedBridgeForwardsBothWays(t *testing.T) {
	env := testEnv(t, "sleep 10")
	env.Retry = retry.Poll{Interval: 20 * time.Millisecond, MaxAttempts: 100}
	host := newFakeHost(2)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	env.BasePort = ln.Addr().(*net.TCPAddr).Port - host.node

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	r, err := NewRunner(lordEntry(), host, env)
	require.NoError(t, err)
	r.Render()
	defer r.Destroy()

	conn := waitFor(t, accepted, "bridge connection")
	_, err = conn.Write([]byte("WELCOME\xff\x00\xdb"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return host.output() == "WELCOME\xff\x00\xdb"
	}, 5*time.Second, 10*time.Millisecond, "bridge output is 8-bit transparent")

	require.Eventually(t, r.active.Load, 5*time.Second, 10*time.Millisecond)
	r.Input([]byte("n\r"))
	buf := make([]byte, 2)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, "n\r", string(buf))

	dropPath := filepath.Join(r.DropDir(), "DOOR.SYS")
	assert.FileExists(t, dropPath)
	require.NoError(t, conn.Close())

	waitFor(t, host.finished, "finish after bridge close")
	assert.NoFileExists(t, dropPath)
	assert.Empty(t, host.aborted)
}

func TestEmulatedProcessExitFinishes(t *testing.T) {
	env := testEnv(t, "exit 3")
	env.Retry = retry.Poll{Interval: 50 * time.Millisecond, MaxAttempts: 1000}
	host := newFakeHost(1)
	env.BasePort = freePort(t) - host.node

	r, err := NewRunner(lordEntry(), host, env)
	require.NoError(t, err)
	r.Render()

	waitFor(t, host.finished, "finish on process exit")
	assert.NoFileExists(t, filepath.Join(r.DropDir(), "DOOR.SYS"))
	r.Destroy()
	r.Destroy()
	assert.Empty(t, host.aborted, "destroy stops the retry poll")
}

func TestEmulatedSpawnFailureFinishes(t *testing.T) {
	env := testEnv(t, "exit 0")
	env.EmulatorPath = filepath.Join(t.TempDir(), "missing-dosbox")
	host := newFakeHost(1)

	r, err := NewRunner(lordEntry(), host, env)
	require.NoError(t, err)
	r.Render()

	waitFor(t, host.finished, "finish on spawn failure")
	assert.NoFileExists(t, filepath.Join(r.DropDir(), "DOOR.SYS"))
}

func nativeEntry(cmd string) config.DoorConfig {
	e := lordEntry()
	e.Code = "NATIVE"
	e.DoorCmd = cmd
	e.IsNative = true
	e.DropFileFormat = "DoorFileSR"
	return e
}

func TestNativeTranscodesOutputAndFinishes(t *testing.T) {
	env := testEnv(t, "exit 0")
	script := writeScript(t, t.TempDir(), "door", `printf 'node %s \342\226\210\n' "$1"; touch ran-here; sleep 1`)
	host := newFakeHost(4)

	r, err := NewRunner(nativeEntry(script), host, env)
	require.NoError(t, err)
	r.Render()
	assert.Equal(t, 1, host.clears)

	waitFor(t, host.finished, "native door exit")
	out := host.output()
	assert.Contains(t, out, "node 4 \xdb", "U+2588 maps to CP437 0xDB")
	assert.FileExists(t, filepath.Join(r.DropDir(), "ran-here"), "runs in the drop file directory")
	assert.NoFileExists(t, filepath.Join(r.DropDir(), "DOORFILE.SR"))

	before := host.output()
	r.Input([]byte("late input"))
	r.forwardOutput([]byte("late output"))
	assert.Equal(t, before, host.output(), "I/O after exit is dropped")

	r.Destroy()
	r.Destroy()
}

func TestNativeKeepsOutputWrittenJustBeforeExit(t *testing.T) {
	env := testEnv(t, "exit 0")
	script := writeScript(t, t.TempDir(), "door", `printf 'GOODBYE-FROM-DOOR'`)

	for i := 0; i < 20; i++ {
		host := newFakeHost(1)
		r, err := NewRunner(nativeEntry(script), host, env)
		require.NoError(t, err)
		r.Render()

		waitFor(t, host.finished, "native door exit")
		assert.Contains(t, host.output(), "GOODBYE-FROM-DOOR", "run %d", i)
		r.Destroy()
	}
}

func TestDestroyRemovesDropFileInFixedDir(t *testing.T) {
	env := testEnv(t, "sleep 10")
	host := newFakeHost(1)
	env.BasePort = freePort(t) - host.node
	env.Retry = retry.Poll{Interval: 50 * time.Millisecond, MaxAttempts: 1000}

	entry := lordEntry()
	entry.MultiNode = false
	entry.DropFileDir = "/BRE"
	require.NoError(t, os.MkdirAll(filepath.Join(env.DrivePath, "BRE"), 0755))
	r, err := NewRunner(entry, host, env)
	require.NoError(t, err)
	r.Render()

	dropPath := filepath.Join(r.DropDir(), "DOOR.SYS")
	assert.FileExists(t, dropPath)
	r.Destroy()
	assert.NoFileExists(t, dropPath)
}

func TestNativeInputReachesProcess(t *testing.T) {
	env := testEnv(t, "exit 0")
	script := writeScript(t, t.TempDir(), "door", `read line; printf 'got:%s\n' "$line"; sleep 1`)
	host := newFakeHost(1)

	r, err := NewRunner(nativeEntry(script), host, env)
	require.NoError(t, err)
	r.Render()
	defer r.Destroy()

	require.Eventually(t, r.active.Load, 5*time.Second, 10*time.Millisecond)
	r.Input([]byte("hello\n"))

	waitFor(t, host.finished, "native door exit")
	assert.Contains(t, host.output(), "got:hello")
}

func TestDestroyKillsRunningNativeDoor(t *testing.T) {
	env := testEnv(t, "exit 0")
	script := writeScript(t, t.TempDir(), "door", "sleep 30")
	host := newFakeHost(1)

	r, err := NewRunner(nativeEntry(script), host, env)
	require.NoError(t, err)
	r.Render()

	r.Destroy()
	r.Destroy()

	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.exited
	}, 5*time.Second, 10*time.Millisecond)
	assert.Empty(t, host.finished, "a destroyed runner does not report completion")
}

func TestNativeWrapperPrefixesCommand(t *testing.T) {
	env := testEnv(t, "exit 0")
	env.NativeWrapper = writeScript(t, t.TempDir(), "wrap", `printf 'wrapped:%s:%s\n' "$(basename "$1")" "$2"; sleep 1`)
	host := newFakeHost(5)

	r, err := NewRunner(nativeEntry("/opt/doors/usurper"), host, env)
	require.NoError(t, err)
	r.Render()
	defer r.Destroy()

	waitFor(t, host.finished, "wrapped door exit")
	assert.Contains(t, host.output(), "wrapped:usurper:5")
}
