package session

import "github.com/stlalpha/doornode/internal/types"

// route delivers a chunk of user input to the active module according to
// the input mode. The mode is re-read per byte since a dispatched key can
// switch it.
func (s *Session) route(data []byte) {
	for i := 0; i < len(data); i++ {
		m, mode := s.current()
		if m == nil {
			return
		}
		if mode == types.RawMode {
			m.Input(data[i:])
			return
		}
		if mode == types.LineMode {
			s.lineInput(m, data[i])
		} else {
			s.charInput(m, data[i])
		}
	}
}

func (s *Session) charInput(m Module, b byte) {
	if b != '\r' && (b < 0x20 || b == 0x7f) {
		return
	}
	m.Input([]byte{b})
}

func (s *Session) lineInput(m Module, b byte) {
	wasCR := s.lastCR
	s.lastCR = false

	switch {
	case b == '\r' || b == '\n':
		if b == '\n' && wasCR {
			return
		}
		s.lastCR = b == '\r'
		line := string(s.line)
		s.line = s.line[:0]
		s.WriteString("\r\n")
		m.Input([]byte(line))
	case b == 0x08 || b == 0x7f:
		if len(s.line) > 0 {
			s.line = s.line[:len(s.line)-1]
			s.WriteString("\b \b")
		}
	case b < 0x20:
		// NUL after CR and other controls are ignored.
		if b == 0 {
			s.lastCR = wasCR
		}
	default:
		s.line = append(s.line, b)
		s.Write([]byte{b})
	}
}
