package kernel

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/go391/kernel/internal/keymap"
	"github.com/go391/kernel/internal/screen"
	"github.com/go391/kernel/internal/vterm"
)

// TestColdBootSpawnsRootShells boots the kernel cold and expects, within
// a few scheduler ticks, a root shell on every terminal, observable as
// its prompt appearing in that terminal's backing store.
func TestColdBootSpawnsRootShells(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TimerHz = 500 // fast rotation so the test doesn't need to wait long

	keys := make(chan keymap.Event)
	k, err := New(cfg, keymap.Chan(keys), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- k.Run(ctx) }()

	for slot := 0; slot < 3; slot++ {
		if !waitForPrompt(t, k, slot, 4*time.Second) {
			t.Fatalf("terminal %d never showed a shell prompt", slot)
		}
	}

	cancel()
	close(keys)
	<-runErr
}

func waitForPrompt(t *testing.T, k *Kernel, slot int, timeout time.Duration) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	term, err := k.Terminals().Terminal(slot)
	if err != nil {
		t.Fatalf("Terminal(%d): %v", slot, err)
	}
	for time.Now().Before(deadline) {
		if pageContains(term, "BigBrainOS") {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

// pageContains reports whether needle (a plain-ASCII substring of the
// decorated prompt banner the terminal writes) appears anywhere in term's
// backing store.
func pageContains(term *vterm.Terminal, needle string) bool {
	page := term.Page()
	var sb strings.Builder
	for y := 0; y < screen.Rows; y++ {
		for x := 0; x < screen.Cols; x++ {
			ch, _ := page.CellAt(x, y)
			if ch == 0 {
				ch = ' '
			}
			sb.WriteByte(ch)
		}
	}
	return strings.Contains(sb.String(), needle)
}
