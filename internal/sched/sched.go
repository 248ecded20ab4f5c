// Package sched implements the preemptive round-robin scheduler: a single
// hardware timer source rotates which of the three terminal slots is
// "running" in strict 0,1,2,0,1,2,... order, gates keyboard delivery to
// whichever terminal is currently visible, and spawns each terminal's
// root shell the first time its slot comes up idle.
//
// There is no kernel stack pointer pair to save or restore here: every
// process already runs on its own goroutine and the Go runtime preempts
// those for free. What a stack-swapping scheduler does that is still
// observable from outside a single process (rotating the running slot,
// gating the keyboard IRQ, recomputing on-screen state, remapping video,
// restoring the per-terminal cursor, and spawning an idle terminal's
// shell exactly once) is exactly what this package keeps. The golang.org/x/sync
// semaphore is the mutual exclusion baton guarding that bookkeeping, the
// direct analogue of disabling interrupts around a tick handler's
// critical section.
package sched

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/go391/kernel/internal/pic"
)

// NumSlots is the fixed terminal/scheduler-slot count, matching
// vterm.NumTerminals.
const NumSlots = 3

// Launcher is the subset of proc.Manager the scheduler needs: the pid
// currently owning a terminal, and the ability to spawn its root shell.
type Launcher interface {
	CurrentPID(terminalSlot int) int
	Execute(ctx context.Context, terminalSlot int, command string) (int32, error)
}

// VideoRemapper re-points the single user-visible video mapping (the
// vidmap page) and restores the incoming terminal's saved cursor
// position on every slot switch.
type VideoRemapper interface {
	RemapVideo(slot int, onScreen bool)
	RestoreCursor(slot int)
}

// Scheduler owns the global scheduling state: the running slot, the
// visible terminal, and whether the two coincide. It drives the
// timer-tick rotation.
type Scheduler struct {
	mu  sync.Mutex
	sem *semaphore.Weighted

	pic      pic.Controller
	video    VideoRemapper
	launcher Launcher
	logger   *slog.Logger

	currentTerminal func() int // which terminal is visible; delegates to vterm.Manager.Active

	schedulerSlot int
	onScreen      bool
	spawned       [NumSlots]bool

	rootCmd string
}

// New returns a Scheduler. currentTerminal must return the terminal
// currently displayed on the physical frame (vterm.Manager.Active).
// rootCmd names the program each terminal's root shell runs (e.g. "shell").
func New(p pic.Controller, video VideoRemapper, launcher Launcher, currentTerminal func() int, rootCmd string, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		sem:             semaphore.NewWeighted(1),
		pic:             p,
		video:           video,
		launcher:        launcher,
		currentTerminal: currentTerminal,
		rootCmd:         rootCmd,
		logger:          logger,
	}
}

// CurrentSlot returns the terminal slot whose process is running right now
// (scheduler_slot).
func (s *Scheduler) CurrentSlot() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schedulerSlot
}

// OnScreen reports whether the currently-scheduled slot is also the
// visible terminal.
func (s *Scheduler) OnScreen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onScreen
}

// Tick runs one timer-interrupt's worth of scheduling. It is wired as
// timerdev.Device's onTick callback.
func (s *Scheduler) Tick(ctx context.Context) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer s.sem.Release(1)

	s.mu.Lock()
	next := (s.schedulerSlot + 1) % NumSlots
	visible := s.currentTerminal()
	onScreen := next == visible
	s.schedulerSlot = next
	s.onScreen = onScreen
	alreadySpawned := s.spawned[next]
	s.mu.Unlock()

	// Step 1: only the visible terminal's keyboard line discipline should
	// receive typed input this quantum.
	if onScreen {
		s.pic.EnableIRQ(pic.LineKeyboard)
	} else {
		s.pic.DisableIRQ(pic.LineKeyboard)
	}

	// Step 2: remap the single user-visible video page and restore the
	// incoming terminal's cursor.
	if s.video != nil {
		s.video.RemapVideo(next, onScreen)
		s.video.RestoreCursor(next)
	}

	pid := s.launcher.CurrentPID(next)
	if pid == -1 && !alreadySpawned {
		// Step 3: the idle-slot branch runs at most once per terminal,
		// since halt's root-shell re-exec guarantees a slot is never idle
		// again once its first shell has been spawned.
		s.mu.Lock()
		s.spawned[next] = true
		s.mu.Unlock()
		s.logger.Info("scheduler spawning root shell", "terminal", next)
		go func(slot int) {
			if _, err := s.launcher.Execute(ctx, slot, s.rootCmd); err != nil {
				s.logger.Error("root shell exited", "terminal", slot, "error", err)
			}
		}(next)
	}
	// Step 4 (the "otherwise" branch): with one goroutine per process and
	// no (esp, ebp) to swap, there is nothing further to do: the Go
	// runtime has already been letting every live process's goroutine make
	// progress concurrently since Execute returned.
}

var _ fmt.Stringer = (*Scheduler)(nil)

// String reports scheduler state for logging/debugging.
func (s *Scheduler) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("sched(slot=%d on_screen=%t)", s.schedulerSlot, s.onScreen)
}
