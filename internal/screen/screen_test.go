package screen

import "testing"

func TestNewPageStartsAtOrigin(t *testing.T) {
	p := NewPage()
	x, y := p.Cursor()
	if x != 0 || y != 0 {
		t.Fatalf("got cursor (%d, %d), want (0, 0) on a fresh page", x, y)
	}
}

func TestSetCursorMovesCursor(t *testing.T) {
	p := NewPage()
	p.SetCursor(5, 3)
	x, y := p.Cursor()
	if x != 5 || y != 3 {
		t.Fatalf("got cursor (%d, %d), want (5, 3)", x, y)
	}
}

func TestWriteAdvancesCursor(t *testing.T) {
	p := NewPage()
	if _, err := p.Write([]byte("hi")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	x, _ := p.Cursor()
	if x != 2 {
		t.Fatalf("got cursor x=%d after writing 2 chars, want 2", x)
	}
}

func TestScrollMovesContentUp(t *testing.T) {
	p := NewPage()
	if _, err := p.Write([]byte("top\r\nsecond")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	ch, _ := p.CellAt(0, 0)
	if ch != 't' {
		t.Fatalf("got %q at (0,0) before scroll, want 't'", ch)
	}
	p.Scroll()
	ch, _ = p.CellAt(0, 0)
	if ch != 's' {
		t.Fatalf("got %q at (0,0) after scroll, want 's' (the second line)", ch)
	}
}

func TestClearHomesCursor(t *testing.T) {
	p := NewPage()
	p.SetCursor(10, 10)
	p.Clear()
	x, y := p.Cursor()
	if x != 0 || y != 0 {
		t.Fatalf("got cursor (%d, %d) after Clear, want (0, 0)", x, y)
	}
}
