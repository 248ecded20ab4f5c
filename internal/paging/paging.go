// Package paging keeps the user-memory mapping bookkeeping: one 4MiB
// user program mapping per process, plus a single page mapping the active
// terminal's video memory into user space for vidmap, without a real MMU
// or CR3 to back it. A hosted Go process has no page tables to program, so
// this package models only the map's *state*; the one real side effect
// left is calling an injected FlushTLB collaborator whenever that state
// changes, so callers that do model a TLB (or a test that wants to count
// invalidations) still observe the invariant "every remap flushes".
//
// The 128MB/132MB boundaries are carried as constants here even though
// nothing dereferences them as real memory; they fix the user-visible
// address map.
package paging

import (
	"fmt"
	"sync"
)

// Fixed addresses and sizes of the user address map.
const (
	PageSize        = 0x400000  // 4MiB, one page-directory entry
	UserVirtualBase = 0x8000000 // 128MB, where every user program is mapped
	UserVidmemBase  = 0x8400000 // 132MB, one page reserved for vidmap
	kernelPoolBase  = 0x800000  // 8MB, first process's physical backing page
)

// FlushTLB is the external translation-cache-invalidation primitive. A
// real kernel invalidates the CPU's TLB here; the reference
// implementation has none, so the zero value is a no-op.
type FlushTLB func()

// Directory is the per-kernel paging bookkeeping table. Unlike a real CR3
// load, this bookkeeping is reached from genuinely concurrent goroutines:
// proc.Manager.Execute/teardown call
// MapUserProgram/UnmapUserProgram from whichever of the three root shells
// (or their nested execute calls) happens to be running, while sched.Tick
// calls MapUserVidmem from the timer driver's own goroutine on every tick.
// A mutex guards every field the same way rtc.Device and vterm.Terminal
// already guard theirs.
type Directory struct {
	mu    sync.Mutex
	flush FlushTLB

	userMapping map[int]uint32 // pid -> physical page base
	vidmapPage  *uint32        // physical page currently vidmapped, if any
}

// New returns an empty Directory. flush may be nil, in which case remaps
// are silent bookkeeping only.
func New(flush FlushTLB) *Directory {
	if flush == nil {
		flush = func() {}
	}
	return &Directory{flush: flush, userMapping: make(map[int]uint32)}
}

// MapUserProgram maps pid's 4MiB user program page to UserVirtualBase,
// backed by the fixed physical page reserved per process
// (kernelPoolBase + pid*PageSize), and flushes the TLB.
func (d *Directory) MapUserProgram(pid int) error {
	if pid < 0 {
		return fmt.Errorf("paging: invalid pid %d", pid)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.userMapping[pid] = kernelPoolBase + uint32(pid)*PageSize
	d.flush()
	return nil
}

// UnmapUserProgram removes pid's mapping and flushes the TLB.
func (d *Directory) UnmapUserProgram(pid int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.userMapping, pid)
	d.flush()
}

// UserProgramPhysAddr returns the physical base address pid's user program
// page is mapped to, matching what execute/halt would program into CR3's
// page directory entry at USER_PROGRAM_PD_IDX.
func (d *Directory) UserProgramPhysAddr(pid int) (uint32, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	addr, ok := d.userMapping[pid]
	return addr, ok
}

// MapUserVidmem maps the single page at UserVidmemBase to physPage, a
// terminal's video memory backing page.
func (d *Directory) MapUserVidmem(physPage uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := physPage
	d.vidmapPage = &p
	d.flush()
}

// UnmapUserVidmem removes the vidmap page, matching halt's teardown of any
// vidmap the exiting process established.
func (d *Directory) UnmapUserVidmem() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.vidmapPage = nil
	d.flush()
}

// UserVidmemPhysAddr returns the page currently mapped at UserVidmemBase,
// if any.
func (d *Directory) UserVidmemPhysAddr() (uint32, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.vidmapPage == nil {
		return 0, false
	}
	return *d.vidmapPage, true
}
