// Package sshserver accepts administrative sessions over SSH. It wraps
// gliderlabs/ssh (which itself wraps golang.org/x/crypto/ssh), checks a
// shared password and optionally offers the older algorithms retro
// terminal clients (SyncTERM, NetRunner) still need.
package sshserver

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/subtle"
	"encoding/pem"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gliderlabs/ssh"
	gossh "golang.org/x/crypto/ssh"
)

// Config holds SSH server configuration.
type Config struct {
	HostKeyPath         string
	Host                string
	Port                int
	Password            string
	LegacySSHAlgorithms bool
	SessionHandler      func(*Conn)
	Version             string // SSH server banner version (default: "DoorNode")
}

// Server wraps a gliderlabs/ssh server.
type Server struct {
	inner *ssh.Server
}

// NewServer creates and configures a new SSH server. The host key is
// generated and saved if HostKeyPath does not exist yet.
func NewServer(cfg Config) (*Server, error) {
	if cfg.SessionHandler == nil {
		return nil, fmt.Errorf("session handler is required")
	}
	if cfg.Password == "" {
		return nil, fmt.Errorf("password is required")
	}
	signer, err := LoadOrCreateHostKey(cfg.HostKeyPath)
	if err != nil {
		return nil, err
	}
	if cfg.Version == "" {
		cfg.Version = "DoorNode"
	}

	password := []byte(cfg.Password)
	handler := cfg.SessionHandler
	srv := &ssh.Server{
		Addr:        net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		HostSigners: []ssh.Signer{signer},
		Version:     cfg.Version,
		Handler: func(s ssh.Session) {
			handler(newConn(s))
		},
		PasswordHandler: func(ctx ssh.Context, pass string) bool {
			ok := subtle.ConstantTimeCompare([]byte(pass), password) == 1
			if !ok {
				log.Printf("WARN: SSH password rejected for user %q from %s", ctx.User(), ctx.RemoteAddr())
			}
			return ok
		},
		PtyCallback: func(ctx ssh.Context, pty ssh.Pty) bool {
			return true
		},
		ConnectionFailedCallback: func(conn net.Conn, err error) {
			log.Printf("WARN: SSH connection failed from %s: %v", conn.RemoteAddr(), err)
		},
	}

	legacy := cfg.LegacySSHAlgorithms
	srv.ServerConfigCallback = func(ctx ssh.Context) *gossh.ServerConfig {
		sc := &gossh.ServerConfig{}
		if legacy {
			sc.Config.KeyExchanges = legacyKeyExchanges
			sc.Config.Ciphers = legacyCiphers
			sc.Config.MACs = legacyMACs
		}
		return sc
	}

	return &Server{inner: srv}, nil
}

// Algorithm suites including diffie-hellman-group1-sha1, 3des-cbc and
// hmac-sha1 for older clients.
var (
	legacyKeyExchanges = []string{
		"curve25519-sha256",
		"curve25519-sha256@libssh.org",
		"ecdh-sha2-nistp256",
		"ecdh-sha2-nistp384",
		"ecdh-sha2-nistp521",
		"diffie-hellman-group14-sha256",
		"diffie-hellman-group14-sha1",
		"diffie-hellman-group1-sha1",
	}
	legacyCiphers = []string{
		"chacha20-poly1305@openssh.com",
		"aes128-gcm@openssh.com",
		"aes256-gcm@openssh.com",
		"aes128-ctr",
		"aes192-ctr",
		"aes256-ctr",
		"aes128-cbc",
		"3des-cbc",
	}
	legacyMACs = []string{
		"hmac-sha2-256-etm@openssh.com",
		"hmac-sha2-512-etm@openssh.com",
		"hmac-sha2-256",
		"hmac-sha2-512",
		"hmac-sha1",
	}
)

// LoadOrCreateHostKey reads a PEM private key from path, writing a fresh
// ed25519 key there first if the file does not exist.
func LoadOrCreateHostKey(path string) (ssh.Signer, error) {
	keyBytes, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		keyBytes, err = generateHostKey(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read host key %s: %w", path, err)
	}
	signer, err := gossh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("parse host key %s: %w", path, err)
	}
	return signer, nil
}

func generateHostKey(path string) ([]byte, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	block, err := gossh.MarshalPrivateKey(priv, "doornode host key")
	if err != nil {
		return nil, err
	}
	keyBytes := pem.EncodeToMemory(block)
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, err
		}
	}
	if err := os.WriteFile(path, keyBytes, 0600); err != nil {
		return nil, err
	}
	log.Printf("INFO: Generated SSH host key %s", path)
	return keyBytes, nil
}

// ListenAndServe binds to the configured address and serves SSH connections.
// It blocks until the server is closed.
func (s *Server) ListenAndServe() error {
	log.Printf("INFO: SSH server listening on %s", s.inner.Addr)
	return s.inner.ListenAndServe()
}

// Serve starts serving on an existing listener. Blocks until closed.
func (s *Server) Serve(l net.Listener) error {
	return s.inner.Serve(l)
}

// Close shuts down the server and all active connections.
func (s *Server) Close() error {
	return s.inner.Close()
}
