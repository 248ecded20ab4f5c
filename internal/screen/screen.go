// Package screen provides the text-mode VGA primitives (clear, putc,
// scroll, and cursor poking) plus a concrete backing store to hold them
// in. The kernel core never talks to real video hardware; it only ever
// calls the Page interface below.
//
// The reference implementation wraps a charmbracelet/x/vt terminal
// emulator as the backing store: writing bytes to a Page feeds the same
// escape-sequence language a real putc routine would produce, and the
// emulator keeps the resulting character grid so the per-terminal
// backing-store model has something concrete to swap on and off screen.
package screen

import (
	"fmt"
	"image/color"
	"io"

	"github.com/charmbracelet/x/vt"
)

// Cols and Rows are the fixed text-mode geometry this kernel targets, an
// 80x25 VGA text page.
const (
	Cols = 80
	Rows = 25
)

// Page is the external VGA primitive contract. Each logical terminal
// owns exactly one Page as its backing store.
type Page interface {
	io.Writer

	// Clear erases the page and homes the cursor.
	Clear()
	// Scroll moves every line up by one, discarding the top line.
	Scroll()
	// SetCursor moves the cursor to (x, y) without writing a character.
	SetCursor(x, y int)
	// Cursor returns the current cursor position.
	Cursor() (x, y int)
	// CellAt returns the character and VGA-style attribute byte at (x, y).
	CellAt(x, y int) (ch byte, attr uint8)
}

// vtPage implements Page over a charmbracelet/x/vt emulator instance.
type vtPage struct {
	emu *vt.SafeEmulator
}

// NewPage constructs a backing store of the fixed Cols x Rows geometry.
func NewPage() Page {
	return &vtPage{emu: vt.NewSafeEmulator(Cols, Rows)}
}

func (p *vtPage) Write(b []byte) (int, error) {
	return p.emu.Write(b)
}

func (p *vtPage) Clear() {
	_, _ = p.emu.Write([]byte("\x1b[2J\x1b[H"))
}

func (p *vtPage) Scroll() {
	_, _ = p.emu.Write([]byte("\x1b[S"))
}

func (p *vtPage) SetCursor(x, y int) {
	_, _ = p.emu.Write(fmt.Appendf(nil, "\x1b[%d;%dH", y+1, x+1))
}

func (p *vtPage) Cursor() (x, y int) {
	cur := p.emu.CursorPosition()
	return cur.X, cur.Y
}

// CellAt translates the emulator's rich cell (rune + color style) back
// into a single ASCII byte and a VGA-style attribute byte (high nibble
// background, low nibble foreground), the two-bytes-per-cell packing of
// text-mode video memory.
func (p *vtPage) CellAt(x, y int) (byte, uint8) {
	cell := p.emu.CellAt(x, y)
	if cell == nil || cell.Content == "" {
		return ' ', 0x07
	}
	ch := cell.Content[0]
	fg := colorIndex(cell.Style.Fg, 7)
	bg := colorIndex(cell.Style.Bg, 0)
	return ch, (bg << 4) | fg
}

// colorIndex reduces a color.Color back to a 4-bit VGA index. Anything that
// isn't one of the 16 standard colors falls back to the given default,
// since the kernel's text-mode model has no notion of true color.
func colorIndex(c color.Color, fallback uint8) uint8 {
	if c == nil {
		return fallback
	}
	r, g, b, _ := c.RGBA()
	switch {
	case r == 0 && g == 0 && b == 0:
		return 0
	case r>>8 > 0x80 && g>>8 < 0x40 && b>>8 < 0x40:
		return 4
	case g>>8 > 0x80 && r>>8 < 0x40 && b>>8 < 0x40:
		return 2
	case b>>8 > 0x80 && r>>8 < 0x40 && g>>8 < 0x40:
		return 1
	default:
		return fallback
	}
}

var _ Page = (*vtPage)(nil)
