package proc

import (
	"context"
	"testing"
	"time"

	"github.com/go391/kernel/internal/fsimage"
	"github.com/go391/kernel/internal/paging"
	"github.com/go391/kernel/internal/pic"
	"github.com/go391/kernel/internal/rtc"
	"github.com/go391/kernel/internal/screen"
	"github.com/go391/kernel/internal/vterm"
)

const (
	entryNoop  uint32 = 100
	entryEcho  uint32 = 101
	entryChild uint32 = 102
)

func buildTestImage(t *testing.T) *fsimage.Image {
	t.Helper()
	b := fsimage.NewBuilder()
	must(t, b.AddFile(".", fsimage.TypeDirectory, nil))
	must(t, b.AddFile("rtc", fsimage.TypeRTC, nil))
	noop := make([]byte, 28)
	copy(noop[:4], []byte{0x7f, 'E', 'L', 'F'})
	putEntry(noop, entryNoop)
	must(t, b.AddFile("noop", fsimage.TypeFile, noop))

	echo := make([]byte, 28)
	copy(echo[:4], []byte{0x7f, 'E', 'L', 'F'})
	putEntry(echo, entryEcho)
	must(t, b.AddFile("echo", fsimage.TypeFile, echo))

	child := make([]byte, 28)
	copy(child[:4], []byte{0x7f, 'E', 'L', 'F'})
	putEntry(child, entryChild)
	must(t, b.AddFile("child", fsimage.TypeFile, child))

	notElf := make([]byte, 28)
	must(t, b.AddFile("notelf", fsimage.TypeFile, notElf))

	must(t, b.AddFile("data.txt", fsimage.TypeFile, []byte("some file contents")))

	raw, err := b.Build()
	must(t, err)
	img, err := fsimage.New(raw)
	must(t, err)
	return img
}

func putEntry(b []byte, entry uint32) {
	b[24] = byte(entry)
	b[25] = byte(entry >> 8)
	b[26] = byte(entry >> 16)
	b[27] = byte(entry >> 24)
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	img := buildTestImage(t)
	pg := paging.New(nil)

	var pages [vterm.NumTerminals]screen.Page
	for i := range pages {
		pages[i] = screen.NewPage()
	}
	terms := vterm.NewManager(pages)

	rtcDev := rtc.New(pic.New())
	must(t, rtcDev.Start())
	t.Cleanup(func() { _ = rtcDev.Stop() })

	reg := NewRegistry()
	must(t, reg.Register(entryNoop, func(ctx context.Context, p *Process, sys Syscalls) (uint8, error) {
		return 0, nil
	}))
	must(t, reg.Register(entryEcho, func(ctx context.Context, p *Process, sys Syscalls) (uint8, error) {
		args, ok := p.Args()
		if !ok {
			return 1, nil
		}
		_, _ = sys.Write(p, 1, []byte(args))
		return 0, nil
	}))

	return NewManager(img, pg, terms, rtcDev, reg, nil)
}

// skipRootShellPIDs reserves pids 0..2 without running anything on them, so
// a test's own Execute call lands on pid 3+ and is not mistaken for one of
// the three terminals' self-parenting root shells.
func skipRootShellPIDs(t *testing.T, m *Manager) {
	t.Helper()
	for i := 0; i < vterm.NumTerminals; i++ {
		if _, err := m.allocatePID(); err != nil {
			t.Fatalf("allocatePID: %v", err)
		}
	}
}

func TestExecuteRunsRegisteredProgram(t *testing.T) {
	m := newTestManager(t)
	skipRootShellPIDs(t, m)
	status, err := m.Execute(context.Background(), 2, "noop")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if status != 0 {
		t.Fatalf("got status %d, want 0", status)
	}
}

func TestExecuteRejectsNonELF(t *testing.T) {
	m := newTestManager(t)
	skipRootShellPIDs(t, m)
	if _, err := m.Execute(context.Background(), 2, "notelf"); err == nil {
		t.Fatalf("expected failure executing a file without the ELF magic")
	}
}

func TestExecuteRejectsUnknownCommand(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.Execute(context.Background(), 2, "doesnotexist"); err == nil {
		t.Fatalf("expected failure executing an unknown command")
	}
}

func TestFDTEntriesEnabledAfterExecute(t *testing.T) {
	m := newTestManager(t)
	skipRootShellPIDs(t, m)
	var seen [FDTSize]bool
	_ = m.registry.Register(entryChild, func(ctx context.Context, p *Process, sys Syscalls) (uint8, error) {
		for i := range p.fdt {
			seen[i] = p.fdt[i].enabled
		}
		return 0, nil
	})
	_, err := m.Execute(context.Background(), 2, "child")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !seen[0] || !seen[1] {
		t.Fatalf("expected fdt[0] and fdt[1] enabled immediately after execute, got %v", seen[:2])
	}
	for i := 2; i < FDTSize; i++ {
		if seen[i] {
			t.Fatalf("expected fdt[%d] disabled immediately after execute", i)
		}
	}
}

// TestExecutePassesArgsToProgram relies on the echo program exiting 1 when
// it was given no argument, so status 0 shows the argument reached it.
func TestExecutePassesArgsToProgram(t *testing.T) {
	m := newTestManager(t)
	skipRootShellPIDs(t, m)
	status, err := m.Execute(context.Background(), 2, "echo hello-world")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if status != 0 {
		t.Fatalf("got status %d, want 0", status)
	}
}

func TestExecuteReturns256OnException(t *testing.T) {
	m := newTestManager(t)
	skipRootShellPIDs(t, m)
	must(t, m.registry.Register(entryChild, func(ctx context.Context, p *Process, sys Syscalls) (uint8, error) {
		return ExceptionStatus, nil
	}))
	status, err := m.Execute(context.Background(), 2, "child")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if status != 256 {
		t.Fatalf("got status %d, want 256 for an exception-terminated child", status)
	}
}

func TestOpenReadCloseLeavesFDTUnchanged(t *testing.T) {
	m := newTestManager(t)
	skipRootShellPIDs(t, m)
	done := make(chan struct{})
	_ = m.registry.Register(entryChild, func(ctx context.Context, p *Process, sys Syscalls) (uint8, error) {
		var enabledBefore [FDTSize]bool
		for i := range p.fdt {
			enabledBefore[i] = p.fdt[i].enabled
		}

		fdNum, err := sys.Open(p, "data.txt")
		if err != nil {
			t.Errorf("Open: %v", err)
			return 1, nil
		}
		buf := make([]byte, 4)
		if _, err := sys.Read(ctx, p, fdNum, buf); err != nil {
			t.Errorf("Read: %v", err)
		}
		if _, err := sys.Close(p, fdNum); err != nil {
			t.Errorf("Close: %v", err)
		}

		for i := range p.fdt {
			if p.fdt[i].enabled != enabledBefore[i] {
				t.Errorf("fd %d enabled=%t after open/read/close, want %t (pre-open state)", i, p.fdt[i].enabled, enabledBefore[i])
			}
		}
		close(done)
		return 0, nil
	})
	if _, err := m.Execute(context.Background(), 2, "child"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("registered program never completed its assertions")
	}
}

func TestCloseRejectsStdStreams(t *testing.T) {
	m := newTestManager(t)
	skipRootShellPIDs(t, m)
	_ = m.registry.Register(entryChild, func(ctx context.Context, p *Process, sys Syscalls) (uint8, error) {
		if _, err := sys.Close(p, 0); err == nil {
			t.Errorf("expected failure closing fd 0")
		}
		if _, err := sys.Close(p, 1); err == nil {
			t.Errorf("expected failure closing fd 1")
		}
		return 0, nil
	})
	if _, err := m.Execute(context.Background(), 2, "child"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
}

func TestVidmapReturnsFixedBase(t *testing.T) {
	m := newTestManager(t)
	skipRootShellPIDs(t, m)
	var gotAddr uint32
	_ = m.registry.Register(entryChild, func(ctx context.Context, p *Process, sys Syscalls) (uint8, error) {
		addr, status, err := sys.Vidmap(p, paging.UserVirtualBase+0x1000)
		if err != nil || status != 0 {
			t.Errorf("Vidmap: status=%d err=%v", status, err)
		}
		gotAddr = addr
		return 0, nil
	})
	if _, err := m.Execute(context.Background(), 2, "child"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if gotAddr != paging.UserVidmemBase {
		t.Fatalf("got vidmap base %#x, want %#x", gotAddr, paging.UserVidmemBase)
	}
}

func TestVidmapRejectsPointerOutsideUserRange(t *testing.T) {
	m := newTestManager(t)
	skipRootShellPIDs(t, m)
	_ = m.registry.Register(entryChild, func(ctx context.Context, p *Process, sys Syscalls) (uint8, error) {
		if _, _, err := sys.Vidmap(p, 0x1000); err == nil {
			t.Errorf("expected failure for a pointer below the user range")
		}
		if _, _, err := sys.Vidmap(p, paging.UserVidmemBase); err == nil {
			t.Errorf("expected failure for a pointer at the vidmap page itself")
		}
		return 0, nil
	})
	if _, err := m.Execute(context.Background(), 2, "child"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
}

func TestExecuteFailsAtMaxProcesses(t *testing.T) {
	m := newTestManager(t)
	for i := 0; i < MaxProcesses; i++ {
		if _, err := m.allocatePID(); err != nil {
			t.Fatalf("allocatePID %d: %v", i, err)
		}
	}
	if _, err := m.Execute(context.Background(), 2, "noop"); err == nil {
		t.Fatalf("expected failure executing with every pid in use")
	}
}

func TestGetArgsRejectsShortBufferAndMissingArgs(t *testing.T) {
	m := newTestManager(t)
	skipRootShellPIDs(t, m)
	_ = m.registry.Register(entryChild, func(ctx context.Context, p *Process, sys Syscalls) (uint8, error) {
		if _, hasArgs := p.Args(); !hasArgs {
			if _, err := sys.GetArgs(p, make([]byte, MaxArgLen)); err == nil {
				t.Errorf("expected failure when the command carried no arguments")
			}
			return 0, nil
		}
		if _, err := sys.GetArgs(p, make([]byte, 2)); err == nil {
			t.Errorf("expected failure copying into a buffer shorter than the stored args")
		}
		buf := make([]byte, MaxArgLen)
		if _, err := sys.GetArgs(p, buf); err != nil {
			t.Errorf("GetArgs: %v", err)
		}
		return 0, nil
	})
	if _, err := m.Execute(context.Background(), 2, "child"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if _, err := m.Execute(context.Background(), 2, "child someargument"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
}

func TestSetHandlerAndSigReturnAlwaysFail(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.SetHandler(0, 0); err == nil {
		t.Fatalf("expected set_handler to always fail")
	}
	if _, err := m.SigReturn(); err == nil {
		t.Fatalf("expected sigreturn to always fail")
	}
}

func TestParseCommandSplitsNameAndArgs(t *testing.T) {
	name, args, hasArgs := parseCommand("cat frame0.txt")
	if name != "cat" || args != "frame0.txt" || !hasArgs {
		t.Fatalf("got (%q, %q, %t), want (cat, frame0.txt, true)", name, args, hasArgs)
	}

	name, _, hasArgs = parseCommand("shell")
	if name != "shell" || hasArgs {
		t.Fatalf("got (%q, hasArgs=%t), want (shell, false)", name, hasArgs)
	}
}
