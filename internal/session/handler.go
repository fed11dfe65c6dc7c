package session

import "log"

// Handle registers t and serves it until the connection ends. Administrative
// sessions open on the debug menu; direct sessions launch doorCode.
func (r *Registry) Handle(t Transport, opts Options, doorCode string) {
	s := r.Register(t, opts)
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("ERROR: Node %d: Panic in connection handler: %v", s.node, rec)
			r.Unregister(s)
		}
	}()

	if opts.Origin == Administrative {
		s.Post(func() { s.ShowAdminMenu("") })
	} else {
		s.Post(func() { s.StartDoor(doorCode) })
	}
	s.Serve()
}
