// Command kernel boots the go391 kernel against a host TTY: it puts the
// terminal in raw mode, decodes keystrokes into keymap.Events, feeds them
// into internal/kernel.Kernel, and renders whichever of the three virtual
// terminals is currently on screen back out as ANSI escape sequences.
//
// This is the hosted "primitive services" layer the kernel core treats
// as external: scancode decoding, VGA text-mode output, and interrupt
// wiring. Here those primitives are a host TTY instead of real hardware;
// cmd/kernel stays a thin driver over the wired kernel.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/go391/kernel/internal/debug"
	"github.com/go391/kernel/internal/keymap"
	"github.com/go391/kernel/internal/kernel"
	"github.com/go391/kernel/internal/screen"
	"github.com/go391/kernel/internal/timeslice"
	"github.com/go391/kernel/internal/vterm"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "kernel: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to a YAML boot config")
	fsImagePath := flag.String("fs-image", "", "override the config's file system image path")
	logLevel := flag.String("log-level", "info", "slog level: debug, info, warn, error")
	debugFile := flag.String("debug-file", "", "Write the device trace stream to file")
	timesliceFile := flag.String("timeslice-file", "", "Write syscall timeslice data to file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(*logLevel),
	}))

	// Both sinks must be open before kernel.New: device registration traces
	// through debug as the bus is built, and the first syscalls dispatch as
	// soon as the scheduler spawns a shell.
	if *debugFile != "" {
		if err := debug.OpenFile(*debugFile); err != nil {
			return fmt.Errorf("open debug file: %w", err)
		}
		defer debug.Close()
	}

	if *timesliceFile != "" {
		f, err := os.Create(*timesliceFile)
		if err != nil {
			return fmt.Errorf("create timeslice file: %w", err)
		}
		defer f.Close()

		w, err := timeslice.StartRecording(f)
		if err != nil {
			return fmt.Errorf("open timeslice file: %w", err)
		}
		defer w.Close()
	}

	cfg, err := kernel.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	if *fsImagePath != "" {
		cfg.FSImagePath = *fsImagePath
	}

	bar := progressbar.Default(3, "booting go391 kernel")
	_ = bar.Add(1)

	keys := make(chan keymap.Event, 64)
	k, err := kernel.New(cfg, keymap.Chan(keys), logger)
	if err != nil {
		return fmt.Errorf("construct kernel: %w", err)
	}
	_ = bar.Add(1)

	stdinFd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(stdinFd)
	if err != nil {
		return fmt.Errorf("put terminal in raw mode: %w", err)
	}
	defer term.Restore(stdinFd, oldState)
	_ = bar.Add(1)
	fmt.Fprint(os.Stderr, "\n")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go readKeys(ctx, os.Stdin, keys)
	go newRenderer().loop(ctx, k)

	if err := k.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("kernel run: %w", err)
	}
	return nil
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// readKeys decodes raw bytes off r into keymap.Events and sends them on
// out, closing out when r returns an error or ctx is done. xterm escape
// sequences for the arrow keys and Alt+F1/F2/F3 are decoded here; the
// kernel core never sees raw bytes, only keymap.Events.
func readKeys(ctx context.Context, r *os.File, out chan<- keymap.Event) {
	defer close(out)
	buf := make([]byte, 16)
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := r.Read(buf)
		if err != nil {
			return
		}
		for _, ev := range decodeKeys(buf[:n]) {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

// decodeKeys turns one raw read's worth of bytes into zero or more
// keymap.Events. It recognizes a handful of fixed escape sequences and
// falls back to treating everything else as either a control key or a
// printable rune; the hotkey set is small and fixed.
func decodeKeys(b []byte) []keymap.Event {
	var evs []keymap.Event
	for i := 0; i < len(b); i++ {
		switch {
		case b[i] == 0x0c:
			evs = append(evs, keymap.Event{Key: keymap.KeyCtrlL})
		case b[i] == 0x7f || b[i] == 0x08:
			evs = append(evs, keymap.Event{Key: keymap.KeyBackspace})
		case b[i] == '\r' || b[i] == '\n':
			evs = append(evs, keymap.Event{Key: keymap.KeyEnter})
		case b[i] == 0x1b && i+2 < len(b) && b[i+1] == '[' && b[i+2] == 'A':
			evs = append(evs, keymap.Event{Key: keymap.KeyUp})
			i += 2
		case b[i] == 0x1b && i+4 < len(b) && b[i+1] == '[' && b[i+2] == '1' && b[i+3] == ';' && b[i+4] == '3':
			// xterm's "modified function key" form: ESC [ 1 ; 3 <letter>,
			// where 3 is the Alt modifier and P/Q/R are F1/F2/F3.
			if i+5 < len(b) {
				switch b[i+5] {
				case 'P':
					evs = append(evs, keymap.Event{Key: keymap.KeyAltF1})
				case 'Q':
					evs = append(evs, keymap.Event{Key: keymap.KeyAltF2})
				case 'R':
					evs = append(evs, keymap.Event{Key: keymap.KeyAltF3})
				}
				i += 5
			}
		case b[i] >= 0x20 && b[i] < 0x7f:
			evs = append(evs, keymap.Event{Key: keymap.KeyRune, Rune: b[i]})
		}
	}
	return evs
}

// renderer redraws the currently visible terminal's backing store to the
// host screen at a fixed rate, the hosted stand-in for a real VGA
// controller continuously scanning out video memory. It keeps one
// screen.Grid per terminal slot and only re-emits the cells that changed
// since the slot was last drawn, instead of re-sending all
// screen.Cols*screen.Rows bytes on every tick.
type renderer struct {
	grids    [vterm.NumTerminals]*screen.Grid
	lastSlot int
}

func newRenderer() *renderer {
	r := &renderer{lastSlot: -1}
	for i := range r.grids {
		r.grids[i] = screen.NewGrid(screen.Cols, screen.Rows)
	}
	return r
}

func (r *renderer) loop(ctx context.Context, k *kernel.Kernel) {
	ticker := time.NewTicker(33 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.drawFrame(k)
		}
	}
}

func (r *renderer) drawFrame(k *kernel.Kernel) {
	terms := k.Terminals()
	slot := terms.Active()
	term, err := terms.Terminal(slot)
	if err != nil {
		return
	}
	page := term.Page()
	grid := r.grids[slot]

	if slot != r.lastSlot {
		// The host screen last showed a different terminal's contents;
		// every cell of this one needs re-emitting even if it hasn't
		// changed since its own last render.
		grid.MarkAllDirty()
		r.lastSlot = slot
	}
	grid.Sync(page)

	var out []byte
	lastX, lastY := -2, -1
	grid.IterateDirty(func(x, y int, cell screen.Cell) {
		if y != lastY || x != lastX+1 {
			out = append(out, []byte(ansi.CursorPosition(x+1, y+1))...)
		}
		ch := cell.Ch
		if ch == 0 {
			ch = ' '
		}
		out = append(out, ch)
		lastX, lastY = x, y
	})
	grid.ClearDirty()

	if len(out) == 0 {
		return
	}
	cx, cy := page.Cursor()
	out = append(out, []byte(ansi.CursorPosition(cx+1, cy+1))...)
	os.Stdout.Write(out)
}
