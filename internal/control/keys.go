package control

import "fmt"

// Key is a normalized key press. Printable keys are their rune; named keys
// are negative so they never collide with a rune.
type Key rune

const (
	KeyUp Key = -1 - iota
	KeyDown
	KeyRight
	KeyLeft
	KeyEsc
	// KeyInterrupt is Ctrl-C, which arrives as input while the terminal is
	// in raw mode.
	KeyInterrupt

	KeySpace Key = ' '
)

func (k Key) String() string {
	switch k {
	case KeyUp:
		return "<up-arrow>"
	case KeyDown:
		return "<down-arrow>"
	case KeyRight:
		return "<right-arrow>"
	case KeyLeft:
		return "<left-arrow>"
	case KeyEsc:
		return "<esc>"
	case KeyInterrupt:
		return "<ctrl-c>"
	case KeySpace:
		return "<space>"
	}
	if k > ' ' && k < 0x7f {
		return string(rune(k))
	}
	return fmt.Sprintf("<%#x>", int32(k))
}
