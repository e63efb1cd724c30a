package expander

import (
	"errors"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/sweeney/pcf-relay/internal/logic"
)

func newTestStore(t *testing.T, p Persister) *Store {
	t.Helper()
	if p == nil {
		p = NewMemoryPersister(nil)
	}
	return NewStore(p, zaptest.NewLogger(t))
}

func TestStoreUnknownAddress(t *testing.T) {
	s := newTestStore(t, nil)

	if _, err := s.CurrentValue(0x20); !errors.Is(err, ErrUnknownAddress) {
		t.Errorf("CurrentValue: expected ErrUnknownAddress, got %v", err)
	}
	if _, err := s.SetBit(0x20, 0, logic.Low); !errors.Is(err, ErrUnknownAddress) {
		t.Errorf("SetBit: expected ErrUnknownAddress, got %v", err)
	}
}

func TestStoreEnsure(t *testing.T) {
	s := newTestStore(t, nil)

	if !s.Ensure(0x20) {
		t.Error("first Ensure should insert")
	}
	if s.Ensure(0x20) {
		t.Error("second Ensure should be a no-op")
	}

	v, err := s.CurrentValue(0x20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != Inactive {
		t.Errorf("new address: got 0x%02x, want 0xff", v)
	}
	if !s.Has(0x20) || s.Has(0x21) {
		t.Error("Has mismatch")
	}
}

func TestStoreSetBit(t *testing.T) {
	s := newTestStore(t, nil)
	s.Ensure(0x20)

	tests := []struct {
		pin   int
		level logic.Level
		want  uint8
	}{
		{0, logic.Low, 0xFE},
		{3, logic.Low, 0xF6},
		{0, logic.High, 0xF7},
		{7, logic.Low, 0x77},
		{7, logic.Low, 0x77},
		{3, logic.High, 0x7F},
	}
	for i, tt := range tests {
		got, err := s.SetBit(0x20, tt.pin, tt.level)
		if err != nil {
			t.Fatalf("step %d: unexpected error: %v", i, err)
		}
		if got != tt.want {
			t.Errorf("step %d: SetBit(pin %d, %v) = 0x%02x, want 0x%02x", i, tt.pin, tt.level, got, tt.want)
		}
	}
}

func TestStoreSetBitInvalidPin(t *testing.T) {
	s := newTestStore(t, nil)
	s.Ensure(0x20)

	for _, pin := range []int{-1, 8, 100} {
		if _, err := s.SetBit(0x20, pin, logic.Low); !errors.Is(err, ErrInvalidPin) {
			t.Errorf("pin %d: expected ErrInvalidPin, got %v", pin, err)
		}
	}
	if v, _ := s.CurrentValue(0x20); v != Inactive {
		t.Errorf("invalid pin changed register: 0x%02x", v)
	}
}

func TestStoreSetBitIsPureInMemory(t *testing.T) {
	p := NewMemoryPersister(nil)
	s := newTestStore(t, p)
	s.Ensure(0x20)

	s.SetBit(0x20, 1, logic.Low)

	if p.Saves() != 0 {
		t.Errorf("SetBit should not persist, got %d saves", p.Saves())
	}
}

func TestStoreLoad(t *testing.T) {
	p := NewMemoryPersister(map[uint16]uint8{0x20: 0xF7, 0x38: 0x00})
	s := newTestStore(t, p)

	s.Load()

	snap := s.Snapshot()
	if len(snap) != 2 || snap[0x20] != 0xF7 || snap[0x38] != 0x00 {
		t.Errorf("loaded snapshot: got %v", snap)
	}
	if s.Ensure(0x20) {
		t.Error("restored address should not be re-initialised")
	}
}

func TestStoreLoadFailureStartsEmpty(t *testing.T) {
	p := NewMemoryPersister(map[uint16]uint8{0x20: 0x00})
	p.LoadError = errors.New("corrupt")
	s := newTestStore(t, p)
	s.Ensure(0x21)

	s.Load()

	if n := len(s.Snapshot()); n != 0 {
		t.Errorf("expected empty map after failed load, got %d entries", n)
	}
}

func TestStoreSaveFailureKeepsMemory(t *testing.T) {
	p := NewMemoryPersister(nil)
	p.SaveError = errors.New("disk full")
	s := newTestStore(t, p)
	s.Ensure(0x20)
	s.SetBit(0x20, 2, logic.Low)

	err := s.Save()
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if v, _ := s.CurrentValue(0x20); v != 0xFB {
		t.Errorf("in-memory value changed after failed save: 0x%02x", v)
	}
}

func TestStoreSnapshotIsCopy(t *testing.T) {
	s := newTestStore(t, nil)
	s.Ensure(0x20)

	snap := s.Snapshot()
	snap[0x20] = 0x00

	if v, _ := s.CurrentValue(0x20); v != Inactive {
		t.Errorf("mutating snapshot changed store: 0x%02x", v)
	}
}

func TestStoreAddressesSorted(t *testing.T) {
	s := newTestStore(t, nil)
	for _, a := range []uint16{0x3A, 0x20, 0x25} {
		s.Ensure(a)
	}

	got := s.Addresses()
	want := []uint16{0x20, 0x25, 0x3A}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: got 0x%02x, want 0x%02x", i, got[i], want[i])
		}
	}
}
