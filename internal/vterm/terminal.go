// Package vterm implements the terminal layer: three independent logical
// terminals sharing the keyboard and the physical frame, each with its
// own line discipline and backing video page.
package vterm

import (
	"context"
	"fmt"
	"sync"

	"github.com/go391/kernel/internal/keymap"
	"github.com/go391/kernel/internal/screen"
)

// NumTerminals is the fixed terminal count.
const NumTerminals = 3

// LineBufSize is the size of a terminal's line buffers. A line holds at
// most LineBufSize-1 typed characters, leaving room for the newline;
// further keystrokes are silently dropped.
const LineBufSize = 128

// The shell's prompt and the decorated banner Write substitutes for it.
// The match is a byte-for-byte prefix compare, deliberately narrow: only
// this exact string is ever rewritten.
const (
	promptOriginal    = "391OS> "
	promptReplacement = "\xF4 [BigBrainOS] \n\xF5 \xAF "
)

// completedLine is one committed line plus the byte count fixed at Enter
// time (line length + 1, to include the echoed newline), a value
// read(2) must return regardless of how short a buffer the caller
// passes.
type completedLine struct {
	bytes      [LineBufSize]byte
	bytesReady int
}

// Terminal is one of the three independent terminal lines: its own video
// backing store, its own input buffer, and its own line history.
type Terminal struct {
	mu sync.Mutex

	page screen.Page

	typing   [LineBufSize]byte
	typingN  int
	history  [LineBufSize]byte
	historyN int

	line chan completedLine // one completed line, sent by the Enter handler
}

func newTerminal(page screen.Page) *Terminal {
	return &Terminal{page: page, line: make(chan completedLine, 1)}
}

// Page returns this terminal's backing video store, the same screen.Page
// that Write echoes into. Renderers (cmd/kernel's host-screen driver) read
// it directly; nothing about the cursor or cell contents needs a separate
// "saved cursor" field, since a terminal's own vt.Emulator backing store
// already retains its cursor position whether or not it is the one
// currently on screen.
func (t *Terminal) Page() screen.Page {
	return t.page
}

// Write is the output side of the terminal: the "391OS> " prompt is
// rewritten to a decorated banner, NUL bytes are dropped, and everything
// else goes straight to the backing page.
func (t *Terminal) Write(buf []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(buf) >= len(promptOriginal) && string(buf[:len(promptOriginal)]) == promptOriginal {
		_, _ = t.page.Write([]byte(promptReplacement))
		return len(promptReplacement), nil
	}

	n := 0
	for _, b := range buf {
		if b == 0 {
			continue
		}
		if _, err := t.page.Write([]byte{b}); err != nil {
			return n, err
		}
		n++
	}
	return len(buf), nil
}

// Read blocks until a line has been completed by the Enter handler, then
// copies up to min(len(buf), 128) bytes of it into buf, forces the byte
// after the line's last character to newline, and returns the byte count
// fixed at Enter time (typingN+1), not derived from however much of the
// line actually fit in buf: when buf is shorter than the committed line,
// the full line length is still reported even though only what fits is
// copied, and the newline lands on the last byte that did.
func (t *Terminal) Read(ctx context.Context, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}

	select {
	case line := <-t.line:
		n := copy(buf, line.bytes[:])
		if end := min(line.bytesReady, n); end > 0 {
			buf[end-1] = '\n'
		}
		return line.bytesReady, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// handleKey applies one decoded keystroke to this terminal's line
// discipline. It is only ever called for the terminal currently receiving
// keyboard input; the scheduler gates that, not this package.
func (t *Terminal) handleKey(ev keymap.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch ev.Key {
	case keymap.KeyBackspace:
		if t.typingN > 0 {
			t.typingN--
			t.typing[t.typingN] = 0
			_, _ = t.page.Write([]byte{'\b', ' ', '\b'})
		}
	case keymap.KeyEnter:
		t.commitLineLocked()
	case keymap.KeyUp:
		t.recallHistoryLocked()
	case keymap.KeyRune:
		if t.typingN < LineBufSize-1 {
			t.typing[t.typingN] = ev.Rune
			t.typingN++
			_, _ = t.page.Write([]byte{ev.Rune})
		}
	}
}

// commitLineLocked handles Enter: zero-pads the typed buffer, copies it
// into both the completed-line channel and history along with the byte
// count fixed at this moment (line length + 1, to include the newline
// echoed below), and resets the input cursor. Caller holds t.mu.
func (t *Terminal) commitLineLocked() {
	var line completedLine
	copy(line.bytes[:], t.typing[:t.typingN])
	line.bytesReady = t.typingN + 1
	copy(t.history[:], line.bytes[:])
	t.historyN = t.typingN

	select {
	case <-t.line: // drop a stale unread line, matching single-slot semantics
	default:
	}
	t.line <- line

	t.typingN = 0
	t.typing = [LineBufSize]byte{}
	_, _ = t.page.Write([]byte{'\n'})
}

// recallHistoryLocked implements the up-arrow history recall: replace the
// current typed line with the last committed one and retype it on screen.
func (t *Terminal) recallHistoryLocked() {
	for i := 0; i < t.typingN; i++ {
		_, _ = t.page.Write([]byte{'\b', ' ', '\b'})
	}
	copy(t.typing[:], t.history[:t.historyN])
	t.typingN = t.historyN
	_, _ = t.page.Write(t.typing[:t.typingN])
}

// clearLocked handles Ctrl+L: clear the screen and retype whatever was
// already typed, so the in-progress line survives the clear.
func (t *Terminal) clearLocked() {
	t.page.Clear()
	if t.typingN > 0 {
		_, _ = t.page.Write(t.typing[:t.typingN])
	}
}

// Manager owns the fixed NumTerminals Terminal lines and which one is
// currently displayed on the physical frame. Its HandleKey is the single
// entry point the keyboard input source feeds into.
type Manager struct {
	mu   sync.Mutex
	term [NumTerminals]*Terminal

	active int // index of the terminal currently on screen
}

// NewManager constructs a Manager with a fresh Terminal over each page in
// pages, which must have length NumTerminals.
func NewManager(pages [NumTerminals]screen.Page) *Manager {
	m := &Manager{}
	for i, p := range pages {
		m.term[i] = newTerminal(p)
	}
	return m
}

// Terminal returns the terminal at index idx.
func (m *Manager) Terminal(idx int) (*Terminal, error) {
	if idx < 0 || idx >= NumTerminals {
		return nil, fmt.Errorf("vterm: terminal index %d out of range [0, %d)", idx, NumTerminals)
	}
	return m.term[idx], nil
}

// Active returns the index of the terminal currently on screen.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// SwitchDisplay changes which terminal is on screen, the Alt+F1/F2/F3
// hotkey's effect.
func (m *Manager) SwitchDisplay(idx int) error {
	if idx < 0 || idx >= NumTerminals {
		return fmt.Errorf("vterm: terminal index %d out of range [0, %d)", idx, NumTerminals)
	}
	m.mu.Lock()
	m.active = idx
	m.mu.Unlock()
	return nil
}

// HandleKey applies hotkeys (Ctrl+L, Alt+F1/F2/F3), then forwards ordinary
// keystrokes to the currently active terminal's line discipline. Events
// arrive already resolved against modifier state (see keymap.Event).
func (m *Manager) HandleKey(ev keymap.Event) {
	m.mu.Lock()
	switch ev.Key {
	case keymap.KeyCtrlL:
		active := m.term[m.active]
		m.mu.Unlock()
		active.mu.Lock()
		active.clearLocked()
		active.mu.Unlock()
		return
	case keymap.KeyAltF1:
		m.active = 0
		m.mu.Unlock()
		return
	case keymap.KeyAltF2:
		m.active = 1
		m.mu.Unlock()
		return
	case keymap.KeyAltF3:
		m.active = 2
		m.mu.Unlock()
		return
	}
	active := m.term[m.active]
	m.mu.Unlock()

	active.handleKey(ev)
}
