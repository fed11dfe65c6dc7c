package telnetserver

import (
	"fmt"
	"log"
	"net"
	"strconv"
	"sync"
)

// ConnHandler is called in its own goroutine for every accepted connection.
// The server closes the connection when the handler returns.
type ConnHandler func(net.Conn)

// Config holds listener configuration.
type Config struct {
	Name    string // Used in log lines, e.g. "Rlogin" or "Debug"
	Host    string
	Port    int // 0 picks a free port
	Handler ConnHandler
}

// Server accepts TCP connections and hands each one to the handler.
type Server struct {
	listener net.Listener
	config   Config
	mu       sync.Mutex
	wg       sync.WaitGroup
}

// NewServer creates a new server instance.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Handler == nil {
		return nil, fmt.Errorf("connection handler is required")
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.Name == "" {
		cfg.Name = "TCP"
	}
	return &Server{config: cfg}, nil
}

// Listen binds the listening socket.
func (s *Server) Listen() error {
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	log.Printf("INFO: %s server listening on %s", s.config.Name, listener.Addr())
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until Close is called.
func (s *Server) Serve() error {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener == nil {
		return fmt.Errorf("%s server is not listening", s.config.Name)
	}

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.listener == nil
			s.mu.Unlock()
			if closed {
				return nil
			}
			log.Printf("ERROR: %s accept error: %v", s.config.Name, err)
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// ListenAndServe binds and then serves, blocking until Close.
func (s *Server) ListenAndServe() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	remoteAddr := conn.RemoteAddr().String()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: %s panic handling %s: %v", s.config.Name, remoteAddr, r)
		}
		conn.Close()
	}()

	s.config.Handler(conn)
}

// Close stops accepting. Live connections are left to their handlers.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		err := s.listener.Close()
		s.listener = nil
		return err
	}
	return nil
}

// Wait blocks until every handler has returned.
func (s *Server) Wait() {
	s.wg.Wait()
}
