package hub

import (
	"sync"

	"github.com/nexus-edge/coilhub/internal/domain"
)

// StateCache holds the last known coil state per slave. The scheduler
// replaces a slave's entry wholesale after every successful poll; the
// write path patches single addresses. Readers outside the poll cycle
// (status queries, late-joining subscribers) run concurrently with
// both, hence the RWMutex.
type StateCache struct {
	mu   sync.RWMutex
	data map[domain.SlaveID]domain.CoilState
}

// NewStateCache creates an empty cache.
func NewStateCache() *StateCache {
	return &StateCache{data: make(map[domain.SlaveID]domain.CoilState)}
}

// ReplaceAll installs states as the slave's entry, replacing any
// previous one, and returns how many addresses changed value (new
// addresses count as changed). The cache keeps its own copy so later
// patches cannot reach through to the caller's map.
func (c *StateCache) ReplaceAll(slave domain.SlaveID, states domain.CoilState) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.data[slave]
	changed := 0
	for addr, v := range states {
		old, ok := prev[addr]
		if !ok || old != v {
			changed++
		}
	}
	c.data[slave] = states.Clone()
	return changed
}

// Patch sets one address on a slave that already has cached state. It
// does not create entries for slaves that were never polled; it
// reports whether the patch was applied.
func (c *StateCache) Patch(slave domain.SlaveID, addr domain.Address, value bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	states, ok := c.data[slave]
	if !ok {
		return false
	}
	states[addr] = value
	return true
}

// Get returns a copy of the slave's last known state, possibly empty.
func (c *StateCache) Get(slave domain.SlaveID) domain.CoilState {
	c.mu.RLock()
	defer c.mu.RUnlock()

	states, ok := c.data[slave]
	if !ok {
		return domain.CoilState{}
	}
	return states.Clone()
}

// Len returns the number of slaves with cached state.
func (c *StateCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
