package session

import (
	"github.com/stlalpha/doornode/internal/config"
	"github.com/stlalpha/doornode/internal/door"
	"github.com/stlalpha/doornode/internal/types"
)

// menuHost exposes the session to the debug menu.
type menuHost struct{ s *Session }

func (h menuHost) Write(p []byte) { h.s.Write(p) }
func (h menuHost) ClearScreen() { h.s.ClearScreen() }
func (h menuHost) UserName() string { return h.s.UserName() }
func (h menuHost) SetUserName(name string) { h.s.SetUserName(name) }
func (h menuHost) SetInputMode(mode types.InputMode) { h.s.SetInputMode(mode) }
func (h menuHost) RunDoor(entry config.DoorConfig) error { return h.s.RunDoor(entry) }
func (h menuHost) Connections() []types.NodeInfo { return h.s.registry.Nodes() }
func (h menuHost) DisconnectNode(node int) bool { return h.s.registry.DisconnectNode(node) }

func (h menuHost) Disconnect() {
	h.s.registry.Unregister(h.s)
}

// doorHost exposes the session to a door runner. Completion is handed to
// the event loop; an abort unregisters straight away.
type doorHost struct{ s *Session }

func (h doorHost) NodeID() int { return h.s.node }
func (h doorHost) UserName() string { return h.s.UserName() }
func (h doorHost) Write(p []byte) { h.s.Write(p) }
func (h doorHost) ClearScreen() { h.s.ClearScreen() }

func (h doorHost) DoorFinished(r *door.Runner) {
	h.s.Post(func() { h.s.doorFinished(r) })
}

func (h doorHost) DoorAborted(r *door.Runner) {
	h.s.registry.Unregister(h.s)
}
