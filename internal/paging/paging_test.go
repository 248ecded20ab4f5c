package paging

import (
	"sync"
	"testing"
)

func TestMapUserProgramFlushesTLB(t *testing.T) {
	flushes := 0
	d := New(func() { flushes++ })

	if err := d.MapUserProgram(0); err != nil {
		t.Fatalf("MapUserProgram(0): %v", err)
	}
	addr, ok := d.UserProgramPhysAddr(0)
	if !ok {
		t.Fatalf("expected pid 0 to have a mapping")
	}
	if addr != kernelPoolBase {
		t.Fatalf("got phys addr %#x, want %#x", addr, kernelPoolBase)
	}
	if flushes != 1 {
		t.Fatalf("got %d flushes, want 1", flushes)
	}

	if err := d.MapUserProgram(1); err != nil {
		t.Fatalf("MapUserProgram(1): %v", err)
	}
	addr1, _ := d.UserProgramPhysAddr(1)
	if addr1 != kernelPoolBase+PageSize {
		t.Fatalf("got phys addr %#x for pid 1, want %#x", addr1, kernelPoolBase+PageSize)
	}
}

func TestUnmapUserProgramRemovesMapping(t *testing.T) {
	d := New(nil)
	_ = d.MapUserProgram(2)
	d.UnmapUserProgram(2)
	if _, ok := d.UserProgramPhysAddr(2); ok {
		t.Fatalf("expected pid 2 to have no mapping after unmap")
	}
}

func TestMapUserVidmemRoundTrip(t *testing.T) {
	d := New(nil)
	if _, ok := d.UserVidmemPhysAddr(); ok {
		t.Fatalf("expected no vidmap page before any MapUserVidmem call")
	}
	d.MapUserVidmem(7)
	phys, ok := d.UserVidmemPhysAddr()
	if !ok || phys != 7 {
		t.Fatalf("got (%d, %t), want (7, true)", phys, ok)
	}
	d.UnmapUserVidmem()
	if _, ok := d.UserVidmemPhysAddr(); ok {
		t.Fatalf("expected no vidmap page after UnmapUserVidmem")
	}
}

func TestMapUserProgramRejectsNegativePID(t *testing.T) {
	d := New(nil)
	if err := d.MapUserProgram(-1); err == nil {
		t.Fatalf("expected failure for a negative pid")
	}
}

func TestNilFlushIsNoop(t *testing.T) {
	d := New(nil)
	if err := d.MapUserProgram(0); err != nil {
		t.Fatalf("MapUserProgram with nil flush: %v", err)
	}
}

// TestConcurrentMapAndVidmemRemapIsRaceFree exercises the concurrency this
// Directory actually sees in the wired kernel: proc.Manager.Execute/
// teardown mapping and unmapping user program pages from per-process
// goroutines while sched.Tick remaps the vidmap page from the timer
// driver's own goroutine on every tick (kernel.go's videoBridge). Run with
// -race, this must not trip Go's "concurrent map writes" fatal.
func TestConcurrentMapAndVidmemRemapIsRaceFree(t *testing.T) {
	d := New(nil)
	var wg sync.WaitGroup

	for pid := 0; pid < MaxTestPIDs; pid++ {
		wg.Add(1)
		go func(pid int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_ = d.MapUserProgram(pid)
				_, _ = d.UserProgramPhysAddr(pid)
				d.UnmapUserProgram(pid)
			}
		}(pid)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			d.MapUserVidmem(uint32(i % 3))
			_, _ = d.UserVidmemPhysAddr()
		}
	}()

	wg.Wait()
}

// MaxTestPIDs mirrors proc.MaxProcesses without importing proc (which would
// create an import cycle back into paging).
const MaxTestPIDs = 6
