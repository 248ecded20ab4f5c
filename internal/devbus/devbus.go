// Package devbus is a small device registry with uniform Start/Stop/Reset
// lifecycle hooks, used to supervise the RTC and timer drivers as one
// unit: start in registration order, stop in reverse, reset in a
// deterministic (sorted) order.
package devbus

import (
	"fmt"
	"sort"

	"github.com/go391/kernel/internal/debug"
)

// Device is the lifecycle contract every registered subsystem implements.
type Device interface {
	Start() error
	Stop() error
	Reset() error
}

// Bus holds the registered devices in registration order for Start/Stop,
// and alphabetical order for Reset.
type Bus struct {
	order  []string
	byName map[string]Device
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{byName: make(map[string]Device)}
}

// Register adds a device under name. Re-registering a name is an error.
func (b *Bus) Register(name string, dev Device) error {
	if dev == nil {
		return fmt.Errorf("devbus: device %q is nil", name)
	}
	if _, exists := b.byName[name]; exists {
		return fmt.Errorf("devbus: device %q already registered", name)
	}
	b.byName[name] = dev
	b.order = append(b.order, name)
	debug.Writef("devbus.Register", "name=%s type=%T", name, dev)
	return nil
}

// Start activates every registered device in registration order.
func (b *Bus) Start() error {
	for _, name := range b.order {
		if err := b.byName[name].Start(); err != nil {
			return fmt.Errorf("devbus: start device %q: %w", name, err)
		}
	}
	return nil
}

// Stop deactivates every registered device in reverse registration order.
func (b *Bus) Stop() error {
	for i := len(b.order) - 1; i >= 0; i-- {
		name := b.order[i]
		if err := b.byName[name].Stop(); err != nil {
			return fmt.Errorf("devbus: stop device %q: %w", name, err)
		}
	}
	return nil
}

// Reset resets every registered device in sorted name order.
func (b *Bus) Reset() error {
	for _, name := range b.sortedNames() {
		if err := b.byName[name].Reset(); err != nil {
			return fmt.Errorf("devbus: reset device %q: %w", name, err)
		}
	}
	return nil
}

func (b *Bus) sortedNames() []string {
	names := make([]string, 0, len(b.byName))
	for name := range b.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
