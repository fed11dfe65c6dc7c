package session

import (
	"log"
	"sync"

	"github.com/stlalpha/doornode/internal/config"
	"github.com/stlalpha/doornode/internal/door"
	"github.com/stlalpha/doornode/internal/metrics"
	"github.com/stlalpha/doornode/internal/types"
)

// Services are the shared collaborators every session uses.
type Services struct {
	Catalog   *config.Catalog
	Doors     door.Environment
	MenuLabel string // Module label shown while in the debug menu
}

// Options describe a connection being registered.
type Options struct {
	Origin  Origin
	Profile types.UserProfile
}

// Registry tracks all live sessions in node assignment order.
type Registry struct {
	mu       sync.RWMutex
	sessions []*Session
	services Services
	onCount  []func(n int)
}

// NewRegistry returns an empty registry sharing svc with its sessions.
func NewRegistry(svc Services) *Registry {
	if svc.Catalog == nil {
		svc.Catalog = config.NewCatalog(nil)
	}
	if svc.MenuLabel == "" {
		svc.MenuLabel = "Debug"
	}
	return &Registry{services: svc}
}

// OnCountChanged adds a callback run after every register and unregister.
func (r *Registry) OnCountChanged(fn func(n int)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onCount = append(r.onCount, fn)
}

// Register creates a session for t. Its node id is the live count plus one,
// moved up past any id still held by a live session.
func (r *Registry) Register(t Transport, opts Options) *Session {
	r.mu.Lock()
	node := len(r.sessions) + 1
	for r.nodeTaken(node) {
		node++
	}
	s := newSession(node, t, r, opts)
	r.sessions = append(r.sessions, s)
	n := len(r.sessions)
	callbacks := r.onCount
	r.mu.Unlock()

	log.Printf("INFO: Node %d: New connection from %s, %d active connections (%s)", node, s.remoteAddr, n, opts.Origin)
	r.countChanged(n, callbacks)
	return s
}

func (r *Registry) nodeTaken(node int) bool {
	for _, s := range r.sessions {
		if s.node == node {
			return true
		}
	}
	return false
}

// Unregister removes s, destroying its module and closing its transport.
// Unknown or already removed sessions are ignored.
func (r *Registry) Unregister(s *Session) {
	r.mu.Lock()
	idx := -1
	for i, cur := range r.sessions {
		if cur == s {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.mu.Unlock()
		return
	}
	r.sessions = append(r.sessions[:idx], r.sessions[idx+1:]...)
	n := len(r.sessions)
	callbacks := r.onCount
	r.mu.Unlock()

	s.Close()
	log.Printf("INFO: Node %d: Connection from %s closed, %d active connections", s.node, s.remoteAddr, n)
	r.countChanged(n, callbacks)
}

func (r *Registry) countChanged(n int, callbacks []func(int)) {
	metrics.ActiveSessions.Set(float64(n))
	for _, fn := range callbacks {
		fn(n)
	}
}

// Sessions returns a snapshot of live sessions in registration order.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Session, len(r.sessions))
	copy(result, r.sessions)
	return result
}

// Nodes returns a snapshot of every live session's details.
func (r *Registry) Nodes() []types.NodeInfo {
	sessions := r.Sessions()
	nodes := make([]types.NodeInfo, 0, len(sessions))
	for _, s := range sessions {
		nodes = append(nodes, s.Info())
	}
	return nodes
}

// Lookup finds the live session holding node, or nil.
func (r *Registry) Lookup(node int) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		if s.node == node {
			return s
		}
	}
	return nil
}

// DisconnectNode unregisters the session on node and reports whether one
// was found.
func (r *Registry) DisconnectNode(node int) bool {
	s := r.Lookup(node)
	if s == nil {
		return false
	}
	log.Printf("INFO: Node %d: Disconnected by operator", node)
	r.Unregister(s)
	return true
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll unregisters every session, used at shutdown.
func (r *Registry) CloseAll() {
	for _, s := range r.Sessions() {
		r.Unregister(s)
	}
}
