package types

// InputMode selects how the session's input router delivers bytes to the
// active module.
type InputMode int

const (
	// CharMode dispatches each keystroke on its own.
	CharMode InputMode = iota
	// LineMode buffers and echoes until CR or LF.
	LineMode
	// RawMode forwards bytes untouched; used while a door is running.
	RawMode
)

func (m InputMode) String() string {
	switch m {
	case CharMode:
		return "char"
	case LineMode:
		return "line"
	case RawMode:
		return "raw"
	}
	return "unknown"
}

// UserProfile is the per-session user record shown in the monitor and
// written into drop files.
type UserProfile struct {
	Name     string
	Module   string // Label of the active module, e.g. "Debug" or a door code
	Terminal string
}

// NodeInfo is a point-in-time view of one live session.
type NodeInfo struct {
	NodeID     int
	SessionID  string
	RemoteAddr string
	User       UserProfile
}
