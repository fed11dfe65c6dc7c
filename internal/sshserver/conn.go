package sshserver

import (
	"net"

	"github.com/gliderlabs/ssh"
)

// Conn presents an SSH session as a plain byte stream.
type Conn struct {
	session ssh.Session
}

func newConn(s ssh.Session) *Conn {
	return &Conn{session: s}
}

// User is the SSH login name.
func (c *Conn) User() string { return c.session.User() }

// TermType returns the pty terminal type, or "ansi" without a pty.
func (c *Conn) TermType() string {
	if pty, _, ok := c.session.Pty(); ok && pty.Term != "" {
		return pty.Term
	}
	return "ansi"
}

func (c *Conn) Read(p []byte) (int, error) { return c.session.Read(p) }
func (c *Conn) Write(p []byte) (int, error) { return c.session.Write(p) }
func (c *Conn) RemoteAddr() net.Addr { return c.session.RemoteAddr() }

// Close ends the session with exit status 0.
func (c *Conn) Close() error {
	return c.session.Exit(0)
}

// SendCommand discards telnet negotiation; SSH has no equivalent.
func (c *Conn) SendCommand(cmd []byte) error {
	return nil
}
