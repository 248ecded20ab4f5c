// Package proc implements the process model: a process control block per
// running program, an 8-entry file descriptor table, and the syscall
// surface user programs dispatch through.
//
// A "user program" here is a registered Go closure, not machine code
// loaded at a fixed address: Execute still performs the 4-byte ELF magic
// check and reads the little-endian entry point at offset 24, but treats
// that value as a program-table index instead of a jump target. See
// DESIGN.md for the rationale.
package proc

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/go391/kernel/internal/elf32"
	"github.com/go391/kernel/internal/fsimage"
	"github.com/go391/kernel/internal/paging"
	"github.com/go391/kernel/internal/rtc"
	"github.com/go391/kernel/internal/syscallabi"
	"github.com/go391/kernel/internal/timeslice"
	"github.com/go391/kernel/internal/vterm"
)

// Fixed process-model limits.
const (
	MaxProcesses = 6
	FDTSize      = 8
	MaxCmdLen    = 32
	MaxArgLen    = 128
)

// ExceptionStatus is the halt status a ProgramFunc returns when it was
// terminated by a CPU-exception-style fault (divide-by-zero, bad memory
// access) rather than a normal exit. Execute translates this one value
// into 256 instead of passing it through.
const ExceptionStatus uint8 = 0x04

// exceptionResult is what Execute returns when a child halted with
// ExceptionStatus: widened past anything an 8-bit exit status can reach,
// so a caller can always tell a fault from a normal exit.
const exceptionResult int32 = 256

// Timeslice kinds for the syscall dispatcher, registered once at package
// load: timeslice.RegisterKind mutates an unsynchronized package-level map
// (see its own doc comment, "not designed to be thread safe"), so it must
// never be called from Execute/Read/Write themselves; those run
// concurrently, one goroutine per live process, across all three terminals.
var (
	timesliceExecute = timeslice.RegisterKind("sys_"+syscallabi.Execute.String(), 0)
	timesliceRead    = timeslice.RegisterKind("sys_"+syscallabi.Read.String(), 0)
	timesliceWrite   = timeslice.RegisterKind("sys_"+syscallabi.Write.String(), 0)
)

// ProgramFunc is a registered user program: the Go stand-in for a loaded
// ELF binary's entry point. Returning is the program's halt; the returned
// status is its exit status.
type ProgramFunc func(ctx context.Context, p *Process, sys Syscalls) (status uint8, err error)

// Syscalls is the exact set of operations a running program can reach,
// the Go-native shape of a trap-based syscall ABI. A real boot target
// gives user code no other way to touch kernel state than trapping
// through these call numbers; registered ProgramFuncs are held to the
// same discipline and never reach into a *Manager's other fields
// directly.
type Syscalls interface {
	Execute(ctx context.Context, terminalSlot int, command string) (int32, error)
	Read(ctx context.Context, p *Process, fdNum int32, buf []byte) (int32, error)
	Write(p *Process, fdNum int32, buf []byte) (int32, error)
	Open(p *Process, filename string) (int32, error)
	Close(p *Process, fdNum int32) (int32, error)
	GetArgs(p *Process, buf []byte) (int32, error)
	Vidmap(p *Process, slotPtr uint32) (uint32, int32, error)
}

// Registry maps an ELF entry-point value to the program it identifies,
// the kernel's program table.
type Registry struct {
	mu      sync.RWMutex
	byEntry map[uint32]ProgramFunc
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byEntry: make(map[uint32]ProgramFunc)}
}

// Register binds entry to fn. Re-registering the same entry is an error.
func (r *Registry) Register(entry uint32, fn ProgramFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byEntry[entry]; exists {
		return fmt.Errorf("proc: program entry %d already registered", entry)
	}
	r.byEntry[entry] = fn
	return nil
}

func (r *Registry) lookup(entry uint32) (ProgramFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.byEntry[entry]
	return fn, ok
}

type fd struct {
	ops        FileOps
	inodeIdx   uint32
	filePos    int
	enabled    bool
	isDataFile bool
}

// Process is the process control block.
type Process struct {
	PID          int
	ParentPID    int
	terminalSlot int

	args   []byte
	hasArg bool

	fdt [FDTSize]fd
}

// Args returns the argument string Execute parsed out of the command
// line, or ("", false) if none was given.
func (p *Process) Args() (string, bool) {
	if !p.hasArg {
		return "", false
	}
	return string(p.args), true
}

// TerminalSlot returns the terminal this process is running on, the one
// piece of its PCB a registered ProgramFunc needs in order to call back
// into Execute for a nested program on the same terminal.
func (p *Process) TerminalSlot() int {
	return p.terminalSlot
}

// Manager owns every live Process and the shared subsystems syscalls
// dispatch into: the file system image, the paging directory, the
// terminal manager, and the virtual RTC.
type Manager struct {
	mu sync.Mutex

	img      *fsimage.Image
	paging   *paging.Directory
	terms    *vterm.Manager
	rtc      *rtc.Device
	registry *Registry
	logger   *slog.Logger

	usedPIDs  [MaxProcesses]bool
	processes [MaxProcesses]*Process
	current   [vterm.NumTerminals]int // pid currently running on each terminal, -1 if none
}

// NewManager wires a Manager to its shared subsystems.
func NewManager(img *fsimage.Image, pg *paging.Directory, terms *vterm.Manager, rtcDev *rtc.Device, reg *Registry, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{img: img, paging: pg, terms: terms, rtc: rtcDev, registry: reg, logger: logger}
	for i := range m.current {
		m.current[i] = -1
	}
	return m
}

// CurrentPID returns the pid currently running on terminalSlot, or -1.
func (m *Manager) CurrentPID(terminalSlot int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current[terminalSlot]
}

func (m *Manager) allocatePID() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < MaxProcesses; i++ {
		if !m.usedPIDs[i] {
			m.usedPIDs[i] = true
			return i, nil
		}
	}
	return 0, fmt.Errorf("proc: max processes already reached (%d)", MaxProcesses)
}

func (m *Manager) freePID(pid int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usedPIDs[pid] = false
	m.processes[pid] = nil
}

// parseCommand splits a command line into an executable name (<=
// MaxCmdLen bytes) and a single argument string (<= MaxArgLen bytes).
// The argument stops at the first space, newline, or NUL.
func parseCommand(command string) (name string, args string, hasArgs bool) {
	i := 0
	for i < len(command) && i < MaxCmdLen {
		c := command[i]
		if c == ' ' {
			hasArgs = true
			break
		}
		if c == '\n' {
			break
		}
		name += string(c)
		i++
	}
	if !hasArgs {
		return name, "", false
	}
	i++ // skip the space
	for i < len(command) && len(args) < MaxArgLen {
		c := command[i]
		if c == '\n' || c == 0 || c == ' ' {
			break
		}
		args += string(c)
		i++
	}
	return name, args, true
}

// Execute implements the execute syscall: resolve the named program,
// allocate a PCB, run it to completion, and tear it down. It blocks the
// calling goroutine until the program halts, the blocking contract a
// trap-and-return pair gives a synchronous in-kernel call.
//
// The program itself runs on its own goroutine; Execute is the channel
// handoff that makes that indistinguishable from a direct call to
// anything observing only its inputs and outputs.
func (m *Manager) Execute(ctx context.Context, terminalSlot int, command string) (int32, error) {
	name, args, hasArgs := parseCommand(strings.TrimRight(command, "\n"))

	dentry, err := m.img.ReadDentryByName(name)
	if err != nil {
		return syscallabi.ErrSentinel, err
	}

	header := make([]byte, 4)
	if _, err := m.img.ReadData(dentry.Inode, 0, header); err != nil {
		return syscallabi.ErrSentinel, err
	}
	if !elf32.HasMagic(header) {
		return syscallabi.ErrSentinel, fmt.Errorf("proc: %q is not executable", name)
	}
	entryHeader := make([]byte, 28)
	if _, err := m.img.ReadData(dentry.Inode, 0, entryHeader); err != nil {
		return syscallabi.ErrSentinel, err
	}
	entry, err := elf32.Entry(entryHeader)
	if err != nil {
		return syscallabi.ErrSentinel, err
	}
	programFn, ok := m.registry.lookup(entry)
	if !ok {
		return syscallabi.ErrSentinel, fmt.Errorf("proc: no program registered for entry %d", entry)
	}

	pid, err := m.allocatePID()
	if err != nil {
		m.logger.Warn("execute: max processes reached", "max", MaxProcesses)
		return syscallabi.ErrSentinel, err
	}

	parentPID := m.CurrentPID(terminalSlot)
	if pid < vterm.NumTerminals {
		parentPID = pid // root shells are their own parent
	}

	term, err := m.terms.Terminal(terminalSlot)
	if err != nil {
		m.freePID(pid)
		return syscallabi.ErrSentinel, err
	}

	p := &Process{PID: pid, ParentPID: parentPID, terminalSlot: terminalSlot}
	if hasArgs {
		p.args = []byte(args)
		p.hasArg = true
	}
	p.fdt[0] = fd{ops: stdinOps{term: term}, enabled: true}
	p.fdt[1] = fd{ops: stdoutOps{term: term}, enabled: true}

	if err := m.paging.MapUserProgram(pid); err != nil {
		m.freePID(pid)
		return syscallabi.ErrSentinel, err
	}

	m.mu.Lock()
	m.processes[pid] = p
	m.current[terminalSlot] = pid
	m.mu.Unlock()

	m.logger.Info("executing process", "pid", pid, "name", name, "terminal", terminalSlot)

	rec := timeslice.NewRecorder()
	defer rec.Record(timesliceExecute)

	type result struct {
		status uint8
		err    error
	}
	resultCh := make(chan result, 1)
	go func() {
		status, err := programFn(ctx, p, m)
		resultCh <- result{status: status, err: err}
	}()
	res := <-resultCh

	m.teardown(p)

	if pid < vterm.NumTerminals && ctx.Err() == nil {
		// Root shells never really exit; a freshly exited root shell is
		// immediately replaced. The ctx guard is the shutdown path: once
		// the kernel is going down, a dying root shell stays down.
		return m.Execute(ctx, terminalSlot, "shell")
	}

	if res.err == nil && res.status == ExceptionStatus {
		m.logger.Warn("process terminated by exception", "pid", pid, "name", name)
		return exceptionResult, nil
	}

	return syscallabi.Result(int32(res.status), res.err), res.err
}

func (m *Manager) teardown(p *Process) {
	for i := range p.fdt {
		if p.fdt[i].enabled {
			_ = p.fdt[i].ops.Close()
		}
	}
	m.paging.UnmapUserProgram(p.PID)

	m.mu.Lock()
	m.current[p.terminalSlot] = p.ParentPID
	m.mu.Unlock()

	m.freePID(p.PID)
}

// Read implements the read syscall: validate fd, then dispatch to its
// file operations table.
func (m *Manager) Read(ctx context.Context, p *Process, fdNum int32, buf []byte) (int32, error) {
	rec := timeslice.NewRecorder()
	defer rec.Record(timesliceRead)

	if fdNum < 0 || int(fdNum) >= FDTSize || !p.fdt[fdNum].enabled {
		return syscallabi.ErrSentinel, fmt.Errorf("proc: read: bad fd %d", fdNum)
	}
	n, err := p.fdt[fdNum].ops.Read(ctx, buf)
	return syscallabi.Result(int32(n), err), err
}

// Write implements the write syscall.
func (m *Manager) Write(p *Process, fdNum int32, buf []byte) (int32, error) {
	rec := timeslice.NewRecorder()
	defer rec.Record(timesliceWrite)

	if fdNum < 0 || int(fdNum) >= FDTSize || !p.fdt[fdNum].enabled {
		return syscallabi.ErrSentinel, fmt.Errorf("proc: write: bad fd %d", fdNum)
	}
	n, err := p.fdt[fdNum].ops.Write(buf)
	return syscallabi.Result(int32(n), err), err
}

// Open implements the open syscall: allocate the lowest free fd >= 2 and
// pick the file operations table by file type (rtc/directory/regular).
func (m *Manager) Open(p *Process, filename string) (int32, error) {
	dentry, err := m.img.ReadDentryByName(filename)
	if err != nil {
		return syscallabi.ErrSentinel, err
	}

	fdNum := -1
	for i := 2; i < FDTSize; i++ {
		if !p.fdt[i].enabled {
			fdNum = i
			break
		}
	}
	if fdNum == -1 {
		return syscallabi.ErrSentinel, fmt.Errorf("proc: open: file descriptor table full")
	}

	var ops FileOps
	switch {
	case dentry.Type == fsimage.TypeRTC:
		ops = rtcOps{dev: m.rtc, slot: p.terminalSlot}
	case dentry.Type == fsimage.TypeDirectory:
		pos := 0
		ops = dirOps{img: m.img, pos: &pos}
	default:
		pos := 0
		ops = fileOps{img: m.img, inode: dentry.Inode, pos: &pos}
	}

	if err := ops.Open(filename); err != nil {
		return syscallabi.ErrSentinel, err
	}

	p.fdt[fdNum] = fd{
		ops:        ops,
		inodeIdx:   dentry.Inode,
		enabled:    true,
		isDataFile: dentry.Type == fsimage.TypeFile,
	}
	return int32(fdNum), nil
}

// Close implements the close syscall. Fds 0 and 1 (stdin/stdout) can
// never be closed.
func (m *Manager) Close(p *Process, fdNum int32) (int32, error) {
	if fdNum < 2 || int(fdNum) >= FDTSize || !p.fdt[fdNum].enabled {
		return syscallabi.ErrSentinel, fmt.Errorf("proc: close: bad fd %d", fdNum)
	}
	err := p.fdt[fdNum].ops.Close()
	p.fdt[fdNum].enabled = false
	return syscallabi.Result(0, err), err
}

// GetArgs implements the getargs syscall. The destination buffer is
// zeroed before the copy, so stale caller bytes never leak past the
// argument length.
func (m *Manager) GetArgs(p *Process, buf []byte) (int32, error) {
	args, ok := p.Args()
	if !ok {
		return syscallabi.ErrSentinel, fmt.Errorf("proc: getargs: no arguments")
	}
	if len(buf) < len(args) {
		return syscallabi.ErrSentinel, fmt.Errorf("proc: getargs: buffer too small")
	}
	clear(buf)
	copy(buf, args)
	return 0, nil
}

// Vidmap implements the vidmap syscall: validate that the caller's
// pointer lies inside the user program's virtual range (128MB..132MB),
// map the calling terminal's video page into the fixed vidmap window,
// and return the user virtual address it is visible at.
func (m *Manager) Vidmap(p *Process, slotPtr uint32) (uint32, int32, error) {
	if slotPtr < paging.UserVirtualBase || slotPtr >= paging.UserVidmemBase {
		return 0, syscallabi.ErrSentinel, fmt.Errorf("proc: vidmap: pointer %#x outside user range", slotPtr)
	}
	m.paging.MapUserVidmem(uint32(p.terminalSlot))
	return paging.UserVidmemBase, 0, nil
}

// SetHandler is the set_handler syscall. Signal delivery is not
// supported; the call always fails.
func (m *Manager) SetHandler(int32, uintptr) (int32, error) {
	return syscallabi.ErrSentinel, fmt.Errorf("proc: set_handler: not implemented")
}

// SigReturn is the sigreturn syscall, the other permanent signal stub.
func (m *Manager) SigReturn() (int32, error) {
	return syscallabi.ErrSentinel, fmt.Errorf("proc: sigreturn: not implemented")
}

var _ Syscalls = (*Manager)(nil)
