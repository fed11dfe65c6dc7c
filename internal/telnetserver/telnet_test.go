package telnetserver

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipe returns a TelnetConn and the client end of its connection.
func pipe(t *testing.T) (*TelnetConn, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	return NewTelnetConn(server), client
}

func writeAsync(c net.Conn, data []byte) {
	go c.Write(data)
}

func readN(t *testing.T, r io.Reader, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	_, err := io.ReadFull(r, buf)
	require.NoError(t, err)
	return buf
}

func TestReadStripsCommands(t *testing.T) {
	tc, client := pipe(t)
	writeAsync(client, []byte{
		'a', IAC, WILL, OptNAWS,
		'b', IAC, SB, OptNAWS, 0, 132, 0, 50, IAC, SE,
		IAC, IAC, // literal 0xFF
		IAC, 241, // NOP
		'c',
	})

	got := readN(t, tc, 4)
	assert.Equal(t, []byte{'a', 'b', 0xFF, 'c'}, got)

	w, h := tc.WindowSize()
	assert.Equal(t, 132, w)
	assert.Equal(t, 50, h)
}

func TestReadStateSurvivesSplitCommands(t *testing.T) {
	tc, client := pipe(t)
	go func() {
		client.Write([]byte{'x', IAC})
		client.Write([]byte{DO})
		client.Write([]byte{OptEcho, 'y'})
	}()

	got := readN(t, tc, 2)
	assert.Equal(t, "xy", string(got))
}

func TestTermTypeSubnegotiation(t *testing.T) {
	tc, client := pipe(t)
	assert.Equal(t, "ansi", tc.TermType())

	data := append([]byte{IAC, SB, OptTermType, TermTypeIs}, "XTERM-256color"...)
	data = append(data, IAC, SE, 'z')
	writeAsync(client, data)

	readN(t, tc, 1)
	assert.Equal(t, "xterm-256color", tc.TermType())
}

func TestWriteEscapesIAC(t *testing.T) {
	tc, client := pipe(t)

	done := make(chan []byte)
	go func() {
		buf := make([]byte, 6)
		io.ReadFull(client, buf)
		done <- buf
	}()

	n, err := tc.Write([]byte{'a', 0xFF, 'b', 0xFF})
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []byte{'a', IAC, IAC, 'b', IAC, IAC}, <-done)
}

func TestSendCommandIsNotEscaped(t *testing.T) {
	tc, client := pipe(t)

	done := make(chan []byte)
	go func() { done <- readN(t, client, 3) }()

	require.NoError(t, tc.SendCommand([]byte{IAC, WILL, OptEcho}))
	assert.Equal(t, []byte{IAC, WILL, OptEcho}, <-done)
}

func TestNegotiateCollectsTermTypeAndKeepsData(t *testing.T) {
	tc, client := pipe(t)

	go func() {
		readN(t, client, 6)
		client.Write([]byte{
			IAC, WILL, OptNAWS, IAC, SB, OptNAWS, 0, 80, 0, 24, IAC, SE,
			IAC, WILL, OptTermType, 'k',
		})
		readN(t, client, 6)
		reply := append([]byte{IAC, SB, OptTermType, TermTypeIs}, "ANSI-BBS"...)
		client.Write(append(reply, IAC, SE))
	}()

	start := time.Now()
	require.NoError(t, tc.Negotiate())
	assert.Less(t, time.Since(start), 3*time.Second)

	assert.Equal(t, "ansi-bbs", tc.TermType())
	w, h := tc.WindowSize()
	assert.Equal(t, 80, w)
	assert.Equal(t, 24, h)
	assert.Equal(t, "k", string(readN(t, tc, 1)), "data typed during negotiation is kept")
}

func TestNegotiateSilentClientKeepsDefaults(t *testing.T) {
	tc, client := pipe(t)
	go readN(t, client, 6)

	require.NoError(t, tc.Negotiate())
	assert.Equal(t, "ansi", tc.TermType())
	w, h := tc.WindowSize()
	assert.Equal(t, 80, w)
	assert.Equal(t, 25, h)
}

func TestCloseIsIdempotent(t *testing.T) {
	tc, _ := pipe(t)
	require.NoError(t, tc.Close())
	assert.NoError(t, tc.Close())
}
