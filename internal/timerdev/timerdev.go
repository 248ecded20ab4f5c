// Package timerdev implements the periodic hardware timer that drives
// the scheduler: programmed once at boot to a fixed frequency and never
// touched again, it fires a callback on every tick and then signals
// end-of-interrupt. The 80Hz default lands the tick interval comfortably
// in the 10-50ms range.
package timerdev

import (
	"fmt"
	"sync"
	"time"

	"github.com/go391/kernel/internal/pic"
)

// DefaultHz is the boot-time tick rate when none is configured.
const DefaultHz = 80

// Device is the periodic timer. onTick is invoked from the timer's own
// goroutine on every tick, after which the device sends EOI on
// pic.LineTimer: handler first, acknowledgement second.
type Device struct {
	mu     sync.Mutex
	hz     int
	onTick func()
	pic    pic.Controller

	stop chan struct{}
	done chan struct{}
}

// New returns a Device that ticks at hz (or DefaultHz if hz <= 0) and calls
// onTick on every tick.
func New(p pic.Controller, hz int, onTick func()) *Device {
	if hz <= 0 {
		hz = DefaultHz
	}
	return &Device{hz: hz, onTick: onTick, pic: p}
}

func (d *Device) Start() error {
	d.mu.Lock()
	if d.stop != nil {
		d.mu.Unlock()
		return fmt.Errorf("timerdev: already started")
	}
	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	stop := d.stop
	done := d.done
	hz := d.hz
	d.mu.Unlock()

	go d.run(stop, done, hz)
	return nil
}

func (d *Device) Stop() error {
	d.mu.Lock()
	stop := d.stop
	done := d.done
	d.stop = nil
	d.done = nil
	d.mu.Unlock()

	if stop == nil {
		return nil
	}
	close(stop)
	<-done
	return nil
}

// Reset re-starts the timer at its configured frequency.
func (d *Device) Reset() error {
	if err := d.Stop(); err != nil {
		return err
	}
	return d.Start()
}

func (d *Device) run(stop, done chan struct{}, hz int) {
	defer close(done)
	ticker := time.NewTicker(time.Second / time.Duration(hz))
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if d.onTick != nil {
				d.onTick()
			}
			if d.pic != nil {
				d.pic.SendEOI(pic.LineTimer)
			}
		}
	}
}
