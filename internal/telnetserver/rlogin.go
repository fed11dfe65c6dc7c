package telnetserver

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

// maxHandshakeField bounds each NUL-terminated handshake field.
const maxHandshakeField = 256

// Handshake is the client's rlogin connection preamble (RFC 1282):
// NUL, client user, NUL, server user, NUL, terminal/speed, NUL.
type Handshake struct {
	ClientUser string
	ServerUser string
	Terminal   string
	Speed      string
}

// DoorCode returns the door requested in the server user field, accepting
// either "CODE" or "xtrn=CODE".
func (h Handshake) DoorCode() string {
	code := strings.TrimSpace(h.ServerUser)
	if len(code) >= 5 && strings.EqualFold(code[:5], "xtrn=") {
		code = code[5:]
	}
	return strings.TrimSpace(code)
}

// ReadHandshake parses the rlogin preamble from r.
func ReadHandshake(r *bufio.Reader) (Handshake, error) {
	var h Handshake
	lead, err := r.ReadByte()
	if err != nil {
		return h, fmt.Errorf("rlogin handshake: %w", err)
	}
	if lead != 0 {
		return h, fmt.Errorf("rlogin handshake: expected NUL, got 0x%02x", lead)
	}

	fields := make([]string, 3)
	for i := range fields {
		if fields[i], err = readField(r); err != nil {
			return h, fmt.Errorf("rlogin handshake field %d: %w", i+1, err)
		}
	}
	h.ClientUser = fields[0]
	h.ServerUser = fields[1]
	h.Terminal, h.Speed, _ = strings.Cut(fields[2], "/")
	return h, nil
}

func readField(r *bufio.Reader) (string, error) {
	var b strings.Builder
	for {
		c, err := r.ReadByte()
		if err != nil {
			if err == io.EOF {
				return "", io.ErrUnexpectedEOF
			}
			return "", err
		}
		if c == 0 {
			return b.String(), nil
		}
		if b.Len() >= maxHandshakeField {
			return "", fmt.Errorf("field exceeds %d bytes", maxHandshakeField)
		}
		b.WriteByte(c)
	}
}

// RloginConn is an accepted rlogin connection past its handshake. Reads
// continue from the buffered reader so no client bytes are lost.
type RloginConn struct {
	net.Conn
	reader    *bufio.Reader
	Handshake Handshake
}

// AcceptRlogin reads the handshake from conn within timeout and
// acknowledges it with a single NUL byte.
func AcceptRlogin(conn net.Conn, timeout time.Duration) (*RloginConn, error) {
	reader := bufio.NewReader(conn)
	if timeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, err
		}
	}
	h, err := ReadHandshake(reader)
	if err != nil {
		return nil, err
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return nil, err
	}
	if _, err := conn.Write([]byte{0}); err != nil {
		return nil, fmt.Errorf("rlogin handshake reply: %w", err)
	}
	return &RloginConn{Conn: conn, reader: reader, Handshake: h}, nil
}

func (c *RloginConn) Read(p []byte) (int, error) {
	return c.reader.Read(p)
}
