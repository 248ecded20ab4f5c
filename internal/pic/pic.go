// Package pic models the programmable interrupt controller seam: EOI
// acknowledgement plus per-line enable/disable masking, specialized to
// the fixed three IRQ lines this kernel actually uses. The devices behind
// it are plain Go values, so there is no port I/O underneath, just the
// mask bits the scheduler and drivers read back.
package pic

import "sync"

// Line identifies one of the three interrupt sources this kernel wires:
// the periodic timer that drives the scheduler, the virtualised RTC, and
// the keyboard controller.
type Line uint8

const (
	LineTimer Line = iota
	LineRTC
	LineKeyboard
	numLines
)

// Controller is the external interrupt-controller contract: a device ISR
// calls SendEOI when it has finished servicing an interrupt, and the
// scheduler masks/unmasks the keyboard line to gate which terminal
// accepts typing.
type Controller interface {
	EnableIRQ(line Line)
	DisableIRQ(line Line)
	SendEOI(line Line)
	Enabled(line Line) bool
}

// Chip is the reference Controller implementation: a software stand-in for
// an 8259-style controller. It has no outward effect besides bookkeeping
// the mask bits the scheduler and devices read back; a real port-I/O-backed
// driver would live behind the same interface.
type Chip struct {
	mu      sync.Mutex
	masked  [numLines]bool
	pending map[Line][]func()
}

// New returns a Chip with every line enabled, matching real hardware after
// the boot-time PIC remap.
func New() *Chip {
	return &Chip{pending: make(map[Line][]func())}
}

func (c *Chip) EnableIRQ(line Line) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.masked[line] = false
}

func (c *Chip) DisableIRQ(line Line) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.masked[line] = true
}

func (c *Chip) Enabled(line Line) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.masked[line]
}

// SendEOI acknowledges the interrupt and runs any callbacks registered via
// OnEOI for that line (used by tests to observe ISR completion ordering).
func (c *Chip) SendEOI(line Line) {
	c.mu.Lock()
	cbs := append([]func(){}, c.pending[line]...)
	c.mu.Unlock()
	for _, fn := range cbs {
		fn()
	}
}

// OnEOI registers a callback invoked every time SendEOI is called for line.
func (c *Chip) OnEOI(line Line, fn func()) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[line] = append(c.pending[line], fn)
}

var _ Controller = (*Chip)(nil)
