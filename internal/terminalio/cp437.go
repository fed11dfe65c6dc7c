// Package terminalio converts program output into bytes a CP437 terminal
// can display.
package terminalio

import (
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// Substitute is written in place of a rune CP437 cannot represent.
const Substitute = '?'

// CP437Transcoder maps a stream of UTF-8 text to CP437 bytes. Runes split
// across calls are carried over to the next call. Bytes that are not valid
// UTF-8 are taken as Latin-1 code points.
type CP437Transcoder struct {
	pending []byte

	// OnUnmapped, if set, is called for every rune replaced by Substitute.
	OnUnmapped func(r rune)
}

// NewCP437Transcoder returns a transcoder with no carried-over input.
func NewCP437Transcoder(onUnmapped func(r rune)) *CP437Transcoder {
	return &CP437Transcoder{OnUnmapped: onUnmapped}
}

// Transcode converts p, returning the CP437 bytes ready to send.
func (t *CP437Transcoder) Transcode(p []byte) []byte {
	data := p
	if len(t.pending) > 0 {
		data = append(t.pending, p...)
		t.pending = nil
	}

	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); {
		r, size := utf8.DecodeRune(data[i:])
		if r == utf8.RuneError && size <= 1 {
			if !utf8.FullRune(data[i:]) {
				t.pending = append([]byte(nil), data[i:]...)
				break
			}
			r = rune(data[i])
			size = 1
		}
		out = append(out, t.encode(r))
		i += size
	}
	return out
}

func (t *CP437Transcoder) encode(r rune) byte {
	if r < utf8.RuneSelf {
		return byte(r)
	}
	if b, ok := charmap.CodePage437.EncodeRune(r); ok {
		return b
	}
	if t.OnUnmapped != nil {
		t.OnUnmapped(r)
	}
	return Substitute
}
