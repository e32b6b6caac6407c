package terminal

import (
	"unicode/utf8"

	"go2tv.app/castkey/internal/control"
)

const (
	esc       = 0x1b
	interrupt = 0x03
)

// Decoder turns raw-mode terminal reads into keys. A read can end in the
// middle of an escape sequence, so an incomplete trailing sequence is held
// until the next Feed or until Flush.
type Decoder struct {
	pending []byte
}

// Decode decodes a single, complete read. A lone ESC at the end is the
// escape key.
func Decode(buf []byte) []control.Key {
	var d Decoder
	keys := d.Feed(buf)
	return append(keys, d.Flush()...)
}

// Pending reports whether an incomplete escape sequence is held back.
func (d *Decoder) Pending() bool {
	return len(d.pending) > 0
}

// Flush gives up waiting for the rest of a held sequence. A held lone ESC
// is the escape key; a partial CSI or SS3 sequence is dropped.
func (d *Decoder) Flush() []control.Key {
	lone := len(d.pending) == 1
	d.pending = nil
	if lone {
		return []control.Key{control.KeyEsc}
	}
	return nil
}

// Feed decodes buf after any held bytes. Arrow keys use the CSI (ESC [) and
// SS3 (ESC O) forms; other escape sequences are dropped.
func (d *Decoder) Feed(buf []byte) []control.Key {
	data := buf
	if len(d.pending) > 0 {
		data = append(d.pending, buf...)
		d.pending = nil
	}

	keys := make([]control.Key, 0, len(data))
	for i := 0; i < len(data); {
		c := data[i]
		switch {
		case c == esc:
			if i+1 < len(data) && data[i+1] != '[' && data[i+1] != 'O' {
				keys = append(keys, control.KeyEsc)
				i++
				continue
			}
			key, n, ok := decodeEscape(data[i:])
			if !ok {
				d.pending = append([]byte(nil), data[i:]...)
				return keys
			}
			if key != 0 {
				keys = append(keys, key)
			}
			i += n
		case c == interrupt:
			keys = append(keys, control.KeyInterrupt)
			i++
		case c < utf8.RuneSelf:
			keys = append(keys, control.Key(c))
			i++
		default:
			r, size := utf8.DecodeRune(data[i:])
			keys = append(keys, control.Key(r))
			i += size
		}
	}
	return keys
}

// decodeEscape reads one sequence starting at ESC and returns its key, or 0
// for sequences without a binding, plus the bytes consumed. ok is false
// when seq ends before the sequence does.
func decodeEscape(seq []byte) (key control.Key, n int, ok bool) {
	if len(seq) < 2 {
		return 0, 0, false
	}
	// Skip parameters like "1;5" in ESC [ 1 ; 5 C.
	i := 2
	for i < len(seq) && (seq[i] < 0x40 || seq[i] > 0x7e) {
		i++
	}
	if i >= len(seq) {
		return 0, 0, false
	}

	n = i + 1
	switch seq[i] {
	case 'A':
		return control.KeyUp, n, true
	case 'B':
		return control.KeyDown, n, true
	case 'C':
		return control.KeyRight, n, true
	case 'D':
		return control.KeyLeft, n, true
	default:
		return 0, n, true
	}
}
