// Package hub composes the protocol engine: the address registry, the
// state cache, the polling scheduler and the write path, all sharing
// one wire gate so only a single frame exchange is ever in flight.
package hub

import (
	"fmt"
	"sync"

	"github.com/nexus-edge/coilhub/internal/domain"
)

// slaveEntry tracks the registered addresses of one slave and its
// derived poll window. The window is recomputed lazily after new
// addresses arrive.
type slaveEntry struct {
	addrs  map[domain.Address]struct{}
	window domain.PollWindow
	dirty  bool
}

func (e *slaveEntry) recompute() {
	min, max := domain.MaxAddress, domain.Address(0)
	for addr := range e.addrs {
		if addr < min {
			min = addr
		}
		if addr > max {
			max = addr
		}
	}
	e.window = domain.PollWindow{Start: min, Count: uint16(max-min) + 1}
	e.dirty = false
}

// Registry records which coil addresses are of interest per slave.
// Registrations accumulate for the lifetime of the hub; windows only
// ever grow.
type Registry struct {
	mu     sync.RWMutex
	slaves map[domain.SlaveID]*slaveEntry
	order  []domain.SlaveID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{slaves: make(map[domain.SlaveID]*slaveEntry)}
}

// Register adds addresses to the slave's registered set. Registering an
// already-present address is a no-op; the call is safe to repeat, once
// per consumer of that slave's coils.
func (r *Registry) Register(slave domain.SlaveID, addrs []domain.Address) error {
	if !domain.ValidSlaveID(slave) {
		return fmt.Errorf("%w: %d", domain.ErrInvalidSlaveID, slave)
	}
	if len(addrs) == 0 {
		return nil
	}
	for _, addr := range addrs {
		if addr > domain.MaxAddress {
			return fmt.Errorf("%w: %d", domain.ErrInvalidAddress, addr)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.slaves[slave]
	if !ok {
		entry = &slaveEntry{addrs: make(map[domain.Address]struct{})}
	}

	// The read-coils count rides in one byte, so a window spanning the
	// full 0-255 range (count 256) could never be polled. Reject it
	// here, before it becomes a per-tick encode failure.
	min, max := domain.MaxAddress, domain.Address(0)
	check := func(addr domain.Address) {
		if addr < min {
			min = addr
		}
		if addr > max {
			max = addr
		}
	}
	for addr := range entry.addrs {
		check(addr)
	}
	for _, addr := range addrs {
		check(addr)
	}
	if min == 0 && max == domain.MaxAddress {
		return fmt.Errorf("%w: slave %d window would span coils 0-255", domain.ErrWindowTooWide, slave)
	}

	if !ok {
		r.slaves[slave] = entry
		r.order = append(r.order, slave)
	}
	for _, addr := range addrs {
		if _, present := entry.addrs[addr]; !present {
			entry.addrs[addr] = struct{}{}
			entry.dirty = true
		}
	}
	return nil
}

// Slaves returns the registered slaves in registration order.
func (r *Registry) Slaves() []domain.SlaveID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.SlaveID, len(r.order))
	copy(out, r.order)
	return out
}

// Window returns the slave's poll window, recomputing it if addresses
// were added since the last call. ok is false when the slave has no
// registered addresses.
func (r *Registry) Window(slave domain.SlaveID) (window domain.PollWindow, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, present := r.slaves[slave]
	if !present || len(entry.addrs) == 0 {
		return domain.PollWindow{}, false
	}
	if entry.dirty {
		entry.recompute()
	}
	return entry.window, true
}
