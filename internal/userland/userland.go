// Package userland provides the handful of user programs the default
// boot image ships: shell, ls, cat, and a deliberately faulting crash
// demo. Each is a Go closure registered against proc.Registry under the
// same little-endian entry-point value baked into its ELF-shaped stub
// file, and every byte it touches goes through the syscall surface
// (proc.Syscalls); nothing here reaches into kernel internals a real
// ring-3 program could not reach.
package userland

import (
	"bytes"
	"context"
	"fmt"

	"github.com/go391/kernel/internal/elf32"
	"github.com/go391/kernel/internal/fsimage"
	"github.com/go391/kernel/internal/proc"
)

// Entry point values baked into each program's ELF-shaped stub, arbitrary
// but fixed so Registry.Register/execute agree on them.
const (
	EntryShell uint32 = 1
	EntryLS    uint32 = 2
	EntryCat   uint32 = 3
	EntryCrash uint32 = 4
)

// Prompt is the literal string vterm.Terminal's Write rewrites into the
// decorated banner.
const Prompt = "391OS> "

// Register binds shell, ls, cat, and crash into reg under their fixed
// entry points.
func Register(reg *proc.Registry) error {
	for entry, fn := range map[uint32]proc.ProgramFunc{
		EntryShell: Shell,
		EntryLS:    LS,
		EntryCat:   Cat,
		EntryCrash: Crash,
	} {
		if err := reg.Register(entry, fn); err != nil {
			return err
		}
	}
	return nil
}

// BuildDefaultImage assembles the boot image every root shell executes
// against: the program stubs above, the rtc pseudo-file, and a sample
// data file for the bundled cat demo.
func BuildDefaultImage() ([]byte, error) {
	b := fsimage.NewBuilder()
	if err := b.AddFile(".", fsimage.TypeDirectory, nil); err != nil {
		return nil, err
	}
	if err := b.AddFile("shell", fsimage.TypeFile, elf32.Stub(EntryShell)); err != nil {
		return nil, err
	}
	if err := b.AddFile("ls", fsimage.TypeFile, elf32.Stub(EntryLS)); err != nil {
		return nil, err
	}
	if err := b.AddFile("cat", fsimage.TypeFile, elf32.Stub(EntryCat)); err != nil {
		return nil, err
	}
	if err := b.AddFile("crash", fsimage.TypeFile, elf32.Stub(EntryCrash)); err != nil {
		return nil, err
	}
	if err := b.AddFile("rtc", fsimage.TypeRTC, nil); err != nil {
		return nil, err
	}
	if err := b.AddFile("frame0.txt", fsimage.TypeFile, []byte("BigBrainOS\n")); err != nil {
		return nil, err
	}
	return b.Build()
}

const stdout int32 = 1
const stdin int32 = 0

func writeString(sys proc.Syscalls, p *proc.Process, s string) {
	_, _ = sys.Write(p, stdout, []byte(s))
}

// Shell implements the bundled root shell: print the prompt, read one
// line, and execute it, looping until the process halts. A root shell
// (pid < 3) never has its exit status observed by anything; this loop
// is what keeps it alive between commands.
func Shell(ctx context.Context, p *proc.Process, sys proc.Syscalls) (uint8, error) {
	buf := make([]byte, 128)
	for {
		writeString(sys, p, Prompt)

		n, err := sys.Read(ctx, p, stdin, buf)
		if err != nil {
			return 0, nil //nolint:nilerr // a cancelled read (shutdown) ends the shell cleanly
		}
		line := bytes.TrimRight(buf[:n], "\x00\n")
		if len(line) == 0 {
			continue
		}
		if _, err := sys.Execute(ctx, p.TerminalSlot(), string(line)); err != nil {
			writeString(sys, p, fmt.Sprintf("no such command: %s\n", line))
		}
	}
}

// LS implements the bundled ls: open the single directory and print one
// name per line. Directory read only ever yields a name, and no syscall
// in the ten-call surface recovers a type or size for a name already
// returned, so names are all ls can print.
func LS(ctx context.Context, p *proc.Process, sys proc.Syscalls) (uint8, error) {
	fd, err := sys.Open(p, ".")
	if err != nil {
		writeString(sys, p, "ls: cannot open directory\n")
		return 1, nil
	}
	defer sys.Close(p, fd)

	buf := make([]byte, fsimage.FileNameSize)
	for {
		n, err := sys.Read(ctx, p, fd, buf)
		if err != nil || n == 0 {
			break
		}
		writeString(sys, p, string(buf[:n])+"\n")
	}
	return 0, nil
}

// Cat implements the bundled cat: getargs for the file name, then stream
// its contents to stdout 128 bytes at a time.
func Cat(ctx context.Context, p *proc.Process, sys proc.Syscalls) (uint8, error) {
	argBuf := make([]byte, proc.MaxArgLen)
	if _, err := sys.GetArgs(p, argBuf); err != nil {
		writeString(sys, p, "cat: no file given\n")
		return 1, nil
	}
	// GetArgs zero-pads argBuf past the stored argument length, so the
	// NUL run marks the end of the name.
	name := string(bytes.TrimRight(argBuf, "\x00"))

	fd, err := sys.Open(p, name)
	if err != nil {
		writeString(sys, p, fmt.Sprintf("cat: %s: no such file\n", name))
		return 1, nil
	}
	defer sys.Close(p, fd)

	buf := make([]byte, 128)
	for {
		n, err := sys.Read(ctx, p, fd, buf)
		if err != nil || n == 0 {
			break
		}
		if _, err := sys.Write(p, stdout, buf[:n]); err != nil {
			break
		}
	}
	return 0, nil
}

// Crash is a demo program that faults (an integer divide by zero)
// instead of exiting normally. A real ring-0 exception handler would
// catch the fault and halt the process with the exception status on its
// behalf; with no CPU trap to field, Crash returns proc.ExceptionStatus
// directly, and Manager.Execute applies the same translation to 256 its
// caller observes.
func Crash(ctx context.Context, p *proc.Process, sys proc.Syscalls) (uint8, error) {
	writeString(sys, p, "crash: divide by zero\n")
	return proc.ExceptionStatus, nil
}
