package hub

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nexus-edge/coilhub/internal/domain"
	"github.com/nexus-edge/coilhub/internal/protocol"
)

// mockDevice answers exchanges from an in-memory coil table, one table
// per slave. It also detects overlapping exchanges, which the wire gate
// must make impossible.
type mockDevice struct {
	mu      sync.Mutex
	coils   map[domain.SlaveID]map[domain.Address]bool
	failing map[domain.SlaveID]error

	exchanges atomic.Int64
	inFlight  atomic.Int32
	overlap   atomic.Bool
}

func newMockDevice() *mockDevice {
	return &mockDevice{
		coils:   make(map[domain.SlaveID]map[domain.Address]bool),
		failing: make(map[domain.SlaveID]error),
	}
}

func (m *mockDevice) setCoil(slave domain.SlaveID, addr domain.Address, value bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.coils[slave] == nil {
		m.coils[slave] = make(map[domain.Address]bool)
	}
	m.coils[slave][addr] = value
}

func (m *mockDevice) setFailing(slave domain.SlaveID, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failing, slave)
		return
	}
	m.failing[slave] = err
}

func (m *mockDevice) Exchange(_ context.Context, frame []byte, _ int) ([]byte, error) {
	if m.inFlight.Add(1) != 1 {
		m.overlap.Store(true)
	}
	defer m.inFlight.Add(-1)
	m.exchanges.Add(1)

	// A touch of latency so overlapping exchanges would collide.
	time.Sleep(time.Millisecond)

	m.mu.Lock()
	defer m.mu.Unlock()

	slave := domain.SlaveID(frame[0])
	if err := m.failing[slave]; err != nil {
		return nil, err
	}

	switch frame[1] {
	case protocol.FuncReadCoils:
		start := domain.Address(frame[3])
		count := int(frame[5])
		data := make([]byte, (count+7)/8)
		for i := 0; i < count; i++ {
			if m.coils[slave][start+domain.Address(i)] {
				data[i/8] |= 1 << (i % 8)
			}
		}
		resp := append([]byte{frame[0], frame[1], byte(len(data))}, data...)
		return protocol.AppendChecksum(resp), nil

	case protocol.FuncWriteSingleCoil:
		if m.coils[slave] == nil {
			m.coils[slave] = make(map[domain.Address]bool)
		}
		m.coils[slave][domain.Address(frame[3])] = frame[4] == 0xFF
		resp := make([]byte, len(frame))
		copy(resp, frame)
		return resp, nil
	}
	return nil, errors.New("mock: unsupported function code")
}

func (m *mockDevice) HealthCheck(context.Context) error { return nil }
func (m *mockDevice) Close() error                      { return nil }

type recordingSubscriber struct {
	name   string
	log    *[]string
	states domain.CoilState
	calls  int
}

func (s *recordingSubscriber) OnCoilUpdate(_ domain.SlaveID, states domain.CoilState) {
	*s.log = append(*s.log, s.name)
	s.states = states
	s.calls++
}

func newTestHub(device *mockDevice) *Hub {
	return New(Config{ScanInterval: time.Second}, device, zerolog.Nop(), nil)
}

func TestHubPollUpdatesStateAndNotifiesInOrder(t *testing.T) {
	device := newMockDevice()
	device.setCoil(10, 0, true)
	device.setCoil(10, 5, true)

	h := newTestHub(device)
	if err := h.Register(10, []domain.Address{0, 5}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	var callLog []string
	first := &recordingSubscriber{name: "first", log: &callLog}
	second := &recordingSubscriber{name: "second", log: &callLog}
	h.AddSubscriber(first)
	h.AddSubscriber(second)

	h.pollSlave(context.Background(), 10)

	state := h.CurrentState(10)
	if len(state) != 6 {
		t.Fatalf("CurrentState() has %d addresses, want 6 (full window)", len(state))
	}
	if !state[0] || state[1] || !state[5] {
		t.Errorf("CurrentState() = %v, want coils 0 and 5 on", state)
	}

	if len(callLog) != 2 || callLog[0] != "first" || callLog[1] != "second" {
		t.Errorf("subscriber call order = %v, want [first second]", callLog)
	}
	if first.states[5] != true {
		t.Errorf("subscriber states = %v, want coil 5 on", first.states)
	}
}

func TestHubWriteThenReadBack(t *testing.T) {
	device := newMockDevice()
	h := newTestHub(device)
	if err := h.Register(10, []domain.Address{0, 5}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	ctx := context.Background()
	h.pollSlave(ctx, 10)

	if !h.Write(ctx, 10, 2, true) {
		t.Fatal("Write() = false, want true")
	}

	// Optimistic patch is visible before the next poll.
	if state := h.CurrentState(10); !state[2] {
		t.Errorf("CurrentState() after write = %v, want coil 2 on", state)
	}

	// The next poll confirms the write from the device itself.
	h.pollSlave(ctx, 10)
	if state := h.CurrentState(10); !state[2] {
		t.Errorf("CurrentState() after re-poll = %v, want coil 2 on", state)
	}
}

func TestHubPollFailureKeepsCachedState(t *testing.T) {
	device := newMockDevice()
	device.setCoil(10, 1, true)

	h := newTestHub(device)
	if err := h.Register(10, []domain.Address{0, 1}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	var callLog []string
	sub := &recordingSubscriber{name: "sub", log: &callLog}
	h.AddSubscriber(sub)

	ctx := context.Background()
	h.pollSlave(ctx, 10)
	if sub.calls != 1 {
		t.Fatalf("subscriber calls = %d after first poll, want 1", sub.calls)
	}

	device.setFailing(10, domain.ErrTimeout)
	h.pollSlave(ctx, 10)

	if state := h.CurrentState(10); !state[1] {
		t.Errorf("CurrentState() after failed poll = %v, want previous state kept", state)
	}
	if sub.calls != 1 {
		t.Errorf("subscriber calls = %d after failed poll, want 1 (no notification)", sub.calls)
	}

	stats := h.Stats()
	if stats.PollsFailed != 1 || stats.PollsSuccess != 1 {
		t.Errorf("stats = %+v, want 1 success and 1 failure", stats)
	}
}

func TestHubPollFailureDoesNotBlockOtherSlaves(t *testing.T) {
	device := newMockDevice()
	device.setCoil(20, 0, true)
	device.setFailing(10, domain.ErrConnectFailed)

	h := newTestHub(device)
	if err := h.Register(10, []domain.Address{0}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := h.Register(20, []domain.Address{0}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	var callLog []string
	sub := &recordingSubscriber{name: "sub", log: &callLog}
	h.AddSubscriber(sub)

	h.pollAll(context.Background())

	if sub.calls != 1 {
		t.Fatalf("subscriber calls = %d, want 1 (healthy slave only)", sub.calls)
	}
	if state := h.CurrentState(20); !state[0] {
		t.Errorf("CurrentState(20) = %v, want coil 0 on", state)
	}
	if state := h.CurrentState(10); len(state) != 0 {
		t.Errorf("CurrentState(10) = %v, want empty", state)
	}
}

func TestHubBreakerOpenCountsAsSkipped(t *testing.T) {
	device := newMockDevice()
	device.setFailing(10, domain.ErrBreakerOpen)

	h := newTestHub(device)
	if err := h.Register(10, []domain.Address{0}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	h.pollSlave(context.Background(), 10)

	stats := h.Stats()
	if stats.PollsSkipped != 1 {
		t.Errorf("PollsSkipped = %d, want 1", stats.PollsSkipped)
	}
	if stats.PollsFailed != 0 {
		t.Errorf("PollsFailed = %d, want 0", stats.PollsFailed)
	}
}

func TestHubWriteFailure(t *testing.T) {
	device := newMockDevice()
	h := newTestHub(device)
	if err := h.Register(10, []domain.Address{0, 3}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	ctx := context.Background()
	h.pollSlave(ctx, 10)
	device.setFailing(10, domain.ErrTimeout)

	if h.Write(ctx, 10, 3, true) {
		t.Fatal("Write() = true for failing slave, want false")
	}
	if state := h.CurrentState(10); state[3] {
		t.Errorf("CurrentState() = %v, failed write must not patch the cache", state)
	}
	if stats := h.Stats(); stats.WritesFailed != 1 {
		t.Errorf("WritesFailed = %d, want 1", stats.WritesFailed)
	}
}

func TestHubWriteToUnpolledSlave(t *testing.T) {
	device := newMockDevice()
	h := newTestHub(device)

	if !h.Write(context.Background(), 30, 1, true) {
		t.Fatal("Write() = false, want true")
	}
	// The device took the write but no cache entry appears for a slave
	// that was never polled.
	if state := h.CurrentState(30); len(state) != 0 {
		t.Errorf("CurrentState() = %v, want empty", state)
	}
}

func TestHubSerializesExchanges(t *testing.T) {
	device := newMockDevice()
	h := New(Config{ScanInterval: 5 * time.Millisecond}, device, zerolog.Nop(), nil)
	if err := h.Register(10, []domain.Address{0, 7}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	ctx := context.Background()
	if err := h.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(addr domain.Address) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				h.Write(ctx, 10, addr, i%2 == 0)
			}
		}(domain.Address(w))
	}
	wg.Wait()

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if device.overlap.Load() {
		t.Error("transport saw overlapping exchanges; the wire gate must serialize them")
	}
	if device.exchanges.Load() < 80 {
		t.Errorf("exchanges = %d, want at least the 80 writes", device.exchanges.Load())
	}
}

func TestHubStartIdempotent(t *testing.T) {
	device := newMockDevice()
	h := newTestHub(device)
	if err := h.Register(10, []domain.Address{0}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	ctx := context.Background()
	if err := h.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := h.Start(ctx); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := h.Stop(stopCtx); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
}
