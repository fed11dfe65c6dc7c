package main

import (
	"log"
	"net"
	"time"

	"github.com/stlalpha/doornode/internal/config"
	"github.com/stlalpha/doornode/internal/session"
	"github.com/stlalpha/doornode/internal/sshserver"
	"github.com/stlalpha/doornode/internal/telnetserver"
	"github.com/stlalpha/doornode/internal/types"
)

const handshakeTimeout = 30 * time.Second

// handleRlogin serves the main port: the handshake names the user and the
// door, and the session ends with the door.
func handleRlogin(registry *session.Registry, conn net.Conn) {
	rc, err := telnetserver.AcceptRlogin(conn, handshakeTimeout)
	if err != nil {
		log.Printf("WARN: Rlogin handshake from %s failed: %v", conn.RemoteAddr(), err)
		return
	}
	h := rc.Handshake
	profile := types.UserProfile{Name: h.ClientUser, Terminal: h.Terminal}
	if profile.Name == "" {
		profile.Name = "Unknown"
	}
	if profile.Terminal == "" {
		profile.Terminal = "ansi"
	}
	registry.Handle(rc, session.Options{Origin: session.Direct, Profile: profile}, h.DoorCode())
}

// handleDebug serves the debug telnet port with the configured debug user.
func handleDebug(registry *session.Registry, user config.DebugUserConfig, conn net.Conn) {
	tc := telnetserver.NewTelnetConn(conn)
	if err := tc.Negotiate(); err != nil {
		log.Printf("WARN: Telnet negotiation with %s failed: %v", conn.RemoteAddr(), err)
		return
	}
	profile := types.UserProfile{Name: user.Name, Module: user.Module, Terminal: user.Terminal}
	if t := tc.TermType(); t != "ansi" {
		profile.Terminal = t
	}
	registry.Handle(tc, session.Options{Origin: session.Administrative, Profile: profile}, "")
}

// handleSSH serves an authenticated SSH session as an administrative one.
func handleSSH(registry *session.Registry, user config.DebugUserConfig, c *sshserver.Conn) {
	profile := types.UserProfile{Name: c.User(), Module: user.Module, Terminal: c.TermType()}
	registry.Handle(c, session.Options{Origin: session.Administrative, Profile: profile}, "")
}
