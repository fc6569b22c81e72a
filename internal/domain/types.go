// Package domain contains the core entities of the coil hub: slave and
// coil addressing, poll windows, and the subscriber contract.
package domain

// SlaveID identifies one physical device on the bus (1-247 conventionally).
type SlaveID uint8

// Address is the offset of one coil within a slave's address space.
//
// The wire protocol only ever populates the low address byte (the high
// byte is fixed at zero), so valid addresses are 0-255. The type is
// wide enough for standard Modbus addressing should that constraint be
// lifted, but Register and the codec reject anything above MaxAddress.
type Address uint16

// MaxAddress is the highest coil address the one-byte wire encoding
// can express.
const MaxAddress Address = 0xFF

// CoilState maps coil addresses to their boolean state for one slave.
type CoilState map[Address]bool

// Clone returns an independent copy of the state map.
func (s CoilState) Clone() CoilState {
	out := make(CoilState, len(s))
	for addr, v := range s {
		out[addr] = v
	}
	return out
}

// PollWindow is the contiguous address range a slave is queried for in
// one read request, derived from all addresses registered for it.
type PollWindow struct {
	Start Address
	Count uint16
}

// Contains reports whether addr falls inside the window.
func (w PollWindow) Contains(addr Address) bool {
	return addr >= w.Start && uint16(addr-w.Start) < w.Count
}

// Subscriber receives the full window of coil states for one slave
// after every successful poll of that slave. Callbacks run
// synchronously on the polling goroutine, in registration order; a
// slow subscriber delays the remainder of the tick.
type Subscriber interface {
	OnCoilUpdate(slave SlaveID, states CoilState)
}

// SubscriberFunc adapts a plain function to the Subscriber interface.
type SubscriberFunc func(slave SlaveID, states CoilState)

// OnCoilUpdate implements Subscriber.
func (f SubscriberFunc) OnCoilUpdate(slave SlaveID, states CoilState) {
	f(slave, states)
}

// ValidSlaveID reports whether id is a usable bus address.
func ValidSlaveID(id SlaveID) bool {
	return id >= 1 && id <= 247
}
