package hub

import (
	"errors"
	"testing"

	"github.com/nexus-edge/coilhub/internal/domain"
)

func TestRegistryWindow(t *testing.T) {
	tests := []struct {
		name      string
		addrs     []domain.Address
		wantStart domain.Address
		wantCount uint16
	}{
		{
			name:      "sparse addresses span min to max",
			addrs:     []domain.Address{5, 8, 6},
			wantStart: 5,
			wantCount: 4,
		},
		{
			name:      "single address",
			addrs:     []domain.Address{12},
			wantStart: 12,
			wantCount: 1,
		},
		{
			name:      "full range from zero",
			addrs:     []domain.Address{0, 31},
			wantStart: 0,
			wantCount: 32,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			if err := r.Register(10, tt.addrs); err != nil {
				t.Fatalf("Register() error = %v", err)
			}
			window, ok := r.Window(10)
			if !ok {
				t.Fatal("Window() ok = false, want true")
			}
			if window.Start != tt.wantStart || window.Count != tt.wantCount {
				t.Errorf("Window() = (%d, %d), want (%d, %d)",
					window.Start, window.Count, tt.wantStart, tt.wantCount)
			}
		})
	}
}

func TestRegistryWindowGrows(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(1, []domain.Address{10, 12}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register(1, []domain.Address{3}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	window, _ := r.Window(1)
	if window.Start != 3 || window.Count != 10 {
		t.Errorf("Window() = (%d, %d), want (3, 10)", window.Start, window.Count)
	}
}

func TestRegistryIdempotent(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < 3; i++ {
		if err := r.Register(1, []domain.Address{4, 7}); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
	}

	window, _ := r.Window(1)
	if window.Start != 4 || window.Count != 4 {
		t.Errorf("Window() = (%d, %d), want (4, 4)", window.Start, window.Count)
	}
	if got := len(r.Slaves()); got != 1 {
		t.Errorf("len(Slaves()) = %d, want 1", got)
	}
}

func TestRegistryRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	for _, id := range []domain.SlaveID{7, 2, 15} {
		if err := r.Register(id, []domain.Address{0}); err != nil {
			t.Fatalf("Register(%d) error = %v", id, err)
		}
	}
	// Re-registering must not change the order.
	if err := r.Register(2, []domain.Address{1}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	got := r.Slaves()
	want := []domain.SlaveID{7, 2, 15}
	if len(got) != len(want) {
		t.Fatalf("Slaves() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Slaves()[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestRegistryRejectsInvalidInput(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(0, []domain.Address{1}); !errors.Is(err, domain.ErrInvalidSlaveID) {
		t.Errorf("Register(0) error = %v, want ErrInvalidSlaveID", err)
	}
	if err := r.Register(248, []domain.Address{1}); !errors.Is(err, domain.ErrInvalidSlaveID) {
		t.Errorf("Register(248) error = %v, want ErrInvalidSlaveID", err)
	}
	if err := r.Register(1, []domain.Address{256}); !errors.Is(err, domain.ErrInvalidAddress) {
		t.Errorf("Register(addr 256) error = %v, want ErrInvalidAddress", err)
	}

	if _, ok := r.Window(1); ok {
		t.Error("Window() ok = true after rejected registration, want false")
	}
}

func TestRegistryRejectsUnencodableWindow(t *testing.T) {
	// Coils 0 and 255 together span 256 addresses, one more than the
	// read-coils count byte can carry.
	r := NewRegistry()
	err := r.Register(1, []domain.Address{0, 255})
	if !errors.Is(err, domain.ErrWindowTooWide) {
		t.Fatalf("Register(0,255) error = %v, want ErrWindowTooWide", err)
	}
	if _, ok := r.Window(1); ok {
		t.Error("Window() ok = true after rejected registration, want false")
	}

	// Growing an existing window across the full range is rejected too,
	// and the existing registration stands.
	if err := r.Register(2, []domain.Address{0, 100}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register(2, []domain.Address{255}); !errors.Is(err, domain.ErrWindowTooWide) {
		t.Fatalf("Register(255) error = %v, want ErrWindowTooWide", err)
	}
	window, ok := r.Window(2)
	if !ok || window.Start != 0 || window.Count != 101 {
		t.Errorf("Window() = (%d, %d, %v), want (0, 101, true)", window.Start, window.Count, ok)
	}
}

func TestRegistryWindowUnknownSlave(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Window(99); ok {
		t.Error("Window() ok = true for unknown slave, want false")
	}
}
