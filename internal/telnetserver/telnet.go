package telnetserver

import (
	"bufio"
	"bytes"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stlalpha/doornode/internal/logging"
)

// Telnet protocol constants
const (
	IAC  byte = 255 // Interpret As Command
	DONT byte = 254
	DO   byte = 253
	WONT byte = 252
	WILL byte = 251
	SB   byte = 250 // Subnegotiation Begin
	SE   byte = 240 // Subnegotiation End

	OptEcho     byte = 1
	OptSGA      byte = 3
	OptTermType byte = 24 // RFC 1091
	OptNAWS     byte = 31
	OptLinemode byte = 34

	TermTypeIs   byte = 0
	TermTypeSend byte = 1
)

const (
	maxSubnegotiation = 256
	negotiateWait     = 500 * time.Millisecond
)

type telnetState int

const (
	stateData telnetState = iota
	stateIAC
	stateOption // WILL/WONT/DO/DONT seen, option byte next
	stateSB
	stateSBData
	stateSBIAC
)

// TelnetConn wraps a net.Conn with telnet protocol awareness. Read strips
// IAC commands; Write escapes 0xFF. SendCommand writes a negotiation
// sequence as-is.
type TelnetConn struct {
	conn    net.Conn
	reader  *bufio.Reader
	writeMu sync.Mutex

	// IAC state machine, persists across reads.
	state    telnetState
	verb     byte
	sbOption byte
	sbData   []byte
	pending  []byte // data bytes seen while negotiating

	mu           sync.RWMutex
	width        int
	height       int
	termType     string
	willTermType bool

	closed int32
}

// NewTelnetConn wraps conn with telnet protocol handling.
func NewTelnetConn(conn net.Conn) *TelnetConn {
	return &TelnetConn{
		conn:   conn,
		reader: bufio.NewReaderSize(conn, 256),
		width:  80,
		height: 25,
	}
}

// Negotiate asks the client for its window size and terminal type and
// collects the answers for a short while. A client that ignores the
// requests keeps the 80x25 "ansi" defaults.
func (tc *TelnetConn) Negotiate() error {
	if err := tc.SendCommand([]byte{IAC, DO, OptNAWS, IAC, DO, OptTermType}); err != nil {
		return fmt.Errorf("failed to send telnet negotiations: %w", err)
	}
	tc.drain(negotiateWait)

	tc.mu.RLock()
	askType := tc.willTermType
	tc.mu.RUnlock()
	if askType {
		if err := tc.SendCommand([]byte{IAC, SB, OptTermType, TermTypeSend, IAC, SE}); err != nil {
			return fmt.Errorf("failed to send TERM_TYPE request: %w", err)
		}
		tc.drain(negotiateWait)
	}
	return nil
}

// drain consumes client bytes until the wait expires. Data bytes are kept
// for the next Read.
func (tc *TelnetConn) drain(wait time.Duration) {
	if err := tc.conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
		return
	}
	defer tc.conn.SetReadDeadline(time.Time{})

	buf := make([]byte, 64)
	for {
		n, err := tc.reader.Read(buf)
		for _, b := range buf[:n] {
			if d, ok := tc.feed(b); ok {
				tc.pending = append(tc.pending, d)
			}
		}
		if err != nil || (tc.reader.Buffered() == 0 && tc.negotiated()) {
			return
		}
	}
}

// negotiated reports whether every answer the client promised has arrived.
func (tc *TelnetConn) negotiated() bool {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.state == stateData && (!tc.willTermType || tc.termType != "")
}

// feed advances the IAC state machine by one byte and returns the data byte
// it carries, if any.
func (tc *TelnetConn) feed(b byte) (byte, bool) {
	switch tc.state {
	case stateData:
		if b == IAC {
			tc.state = stateIAC
			return 0, false
		}
		return b, true

	case stateIAC:
		switch b {
		case IAC:
			tc.state = stateData
			return IAC, true
		case WILL, WONT, DO, DONT:
			tc.verb = b
			tc.state = stateOption
		case SB:
			tc.state = stateSB
		default:
			// NOP, AYT, BRK and friends carry no option byte.
			tc.state = stateData
		}

	case stateOption:
		logging.Debug("Telnet negotiation from %s: cmd=%d option=%d", tc.conn.RemoteAddr(), tc.verb, b)
		if tc.verb == WILL && b == OptTermType {
			tc.mu.Lock()
			tc.willTermType = true
			tc.mu.Unlock()
		}
		tc.state = stateData

	case stateSB:
		tc.sbOption = b
		tc.sbData = tc.sbData[:0]
		tc.state = stateSBData

	case stateSBData:
		if b == IAC {
			tc.state = stateSBIAC
		} else if len(tc.sbData) < maxSubnegotiation {
			tc.sbData = append(tc.sbData, b)
		}

	case stateSBIAC:
		switch b {
		case SE:
			tc.subnegotiation()
			tc.state = stateData
		case IAC:
			if len(tc.sbData) < maxSubnegotiation {
				tc.sbData = append(tc.sbData, IAC)
			}
			tc.state = stateSBData
		default:
			tc.state = stateData
		}
	}
	return 0, false
}

func (tc *TelnetConn) subnegotiation() {
	switch tc.sbOption {
	case OptNAWS:
		if len(tc.sbData) < 4 {
			return
		}
		width := int(tc.sbData[0])<<8 | int(tc.sbData[1])
		height := int(tc.sbData[2])<<8 | int(tc.sbData[3])
		if width <= 0 || height <= 0 {
			return
		}
		tc.mu.Lock()
		tc.width, tc.height = width, height
		tc.mu.Unlock()
		logging.Debug("Telnet NAWS from %s: %dx%d", tc.conn.RemoteAddr(), width, height)

	case OptTermType:
		if len(tc.sbData) < 1 || tc.sbData[0] != TermTypeIs {
			return
		}
		t := strings.ToLower(strings.TrimSpace(string(tc.sbData[1:])))
		if t == "" {
			return
		}
		tc.mu.Lock()
		tc.termType = t
		tc.mu.Unlock()
		logging.Debug("Telnet TERM_TYPE from %s: %s", tc.conn.RemoteAddr(), t)
	}
}

// TermType returns the negotiated terminal type, or "ansi".
func (tc *TelnetConn) TermType() string {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	if tc.termType == "" {
		return "ansi"
	}
	return tc.termType
}

// WindowSize returns the last size reported over NAWS, or 80x25.
func (tc *TelnetConn) WindowSize() (width, height int) {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.width, tc.height
}

// Read returns client data with telnet commands removed. It blocks until
// at least one data byte is available.
func (tc *TelnetConn) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if len(tc.pending) > 0 {
		n := copy(p, tc.pending)
		tc.pending = tc.pending[n:]
		return n, nil
	}

	buf := make([]byte, len(p))
	for {
		n, err := tc.reader.Read(buf)
		written := 0
		for _, b := range buf[:n] {
			if d, ok := tc.feed(b); ok {
				p[written] = d
				written++
			}
		}
		if written > 0 {
			return written, nil
		}
		if err != nil {
			return 0, err
		}
	}
}

// Write sends data, doubling any 0xFF byte. It reports the unescaped count.
func (tc *TelnetConn) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	out := p
	if bytes.IndexByte(p, IAC) >= 0 {
		out = bytes.ReplaceAll(p, []byte{IAC}, []byte{IAC, IAC})
	}

	tc.writeMu.Lock()
	defer tc.writeMu.Unlock()
	if _, err := tc.conn.Write(out); err != nil {
		return 0, err
	}
	return len(p), nil
}

// SendCommand writes a telnet command sequence without escaping.
func (tc *TelnetConn) SendCommand(cmd []byte) error {
	tc.writeMu.Lock()
	defer tc.writeMu.Unlock()
	_, err := tc.conn.Write(cmd)
	return err
}

// Close closes the underlying connection once.
func (tc *TelnetConn) Close() error {
	if atomic.CompareAndSwapInt32(&tc.closed, 0, 1) {
		return tc.conn.Close()
	}
	return nil
}

// RemoteAddr returns the client's address.
func (tc *TelnetConn) RemoteAddr() net.Addr {
	return tc.conn.RemoteAddr()
}
