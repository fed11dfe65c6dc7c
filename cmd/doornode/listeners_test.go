package main

import (
	"bufio"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stlalpha/doornode/internal/config"
	"github.com/stlalpha/doornode/internal/session"
)

func readUntil(t *testing.T, r *bufio.Reader, conn net.Conn, want string) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var b strings.Builder
	for !strings.Contains(b.String(), want) {
		c, err := r.ReadByte()
		require.NoError(t, err, "waiting for %q, got %q", want, b.String())
		b.WriteByte(c)
	}
	return b.String()
}

func TestRloginUnknownDoor(t *testing.T) {
	registry := session.NewRegistry(session.Services{})
	server, client := net.Pipe()
	defer client.Close()

	done := make(chan struct{})
	go func() {
		handleRlogin(registry, server)
		close(done)
	}()

	go client.Write([]byte("\x00Player\x00xtrn=NOPE\x00ansi/38400\x00"))
	r := bufio.NewReader(client)
	ack := readUntil(t, r, client, "\x00")
	assert.Equal(t, "\x00", ack)
	readUntil(t, r, client, "Unknown door: NOPE")

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("handler did not return")
	}
	assert.Zero(t, registry.Count())
}

func TestRloginBadHandshake(t *testing.T) {
	registry := session.NewRegistry(session.Services{})
	server, client := net.Pipe()
	defer client.Close()

	done := make(chan struct{})
	go func() {
		handleRlogin(registry, server)
		close(done)
	}()
	go client.Write([]byte("GET / HTTP/1.0\r\n"))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("handler did not return")
	}
	assert.Zero(t, registry.Count())
}

func TestDebugPortOpensMenu(t *testing.T) {
	registry := session.NewRegistry(session.Services{})
	server, client := net.Pipe()
	defer client.Close()

	user := config.DebugUserConfig{Name: "DebugUser", Module: "Debug", Terminal: "ansi"}
	go handleDebug(registry, user, server)

	r := bufio.NewReader(client)
	readUntil(t, r, client, "Command: ")

	s := registry.Lookup(1)
	require.NotNil(t, s)
	assert.Equal(t, "DebugUser", s.UserName())
	assert.Equal(t, session.Administrative, s.Origin())

	go client.Write([]byte("d"))
	readUntil(t, r, client, "Goodbye...")
	require.Eventually(t, func() bool { return registry.Count() == 0 }, 5*time.Second, 20*time.Millisecond)

	_, err := io.ReadAll(r)
	assert.NoError(t, err)
}
