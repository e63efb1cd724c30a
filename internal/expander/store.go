// Package expander keeps the shared output state of PCF8574 expander chips.
//
// Every chip's 8-bit output latch is mirrored in a Store. A Serializer pushes
// the mirrored byte to the bus and persists the mirror, one write at a time
// for the whole process. A Driver combines both into the per-pin
// read-modify-write used by actuators, so actuators sharing a chip never
// clobber each other's bits.
package expander

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/sweeney/pcf-relay/internal/bus"
	"github.com/sweeney/pcf-relay/internal/logic"
)

// Pins per chip.
const Pins = 8

// Inactive is the register value of a chip nobody has driven yet:
// all pins released HIGH.
const Inactive uint8 = 0xFF

var (
	// ErrUnknownAddress means a bit operation hit an address that was never
	// ensured. It is an internal invariant violation.
	ErrUnknownAddress = errors.New("expander: unknown address")

	// ErrInvalidPin is returned for pin indexes outside 0..7.
	ErrInvalidPin = errors.New("expander: invalid pin")

	// ErrInvalidAddress is returned for addresses outside the PCF8574 ranges.
	ErrInvalidAddress = errors.New("expander: invalid address")
)

// Store owns the authoritative register value per chip address.
// It never touches the bus; see Serializer.
type Store struct {
	mu        sync.Mutex
	regs      map[uint16]uint8
	persister Persister
	logger    *zap.Logger
}

// NewStore creates an empty Store backed by p.
func NewStore(p Persister, logger *zap.Logger) *Store {
	return &Store{
		regs:      make(map[uint16]uint8),
		persister: p,
		logger:    logger,
	}
}

// Load replaces the in-memory map with the persisted snapshot.
// A missing or malformed snapshot is logged and leaves the map empty.
func (s *Store) Load() {
	regs, err := s.persister.Load()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.regs = make(map[uint16]uint8)
	if err != nil {
		s.logger.Warn("register state not restored, starting empty", zap.Error(err))
		return
	}
	for addr, v := range regs {
		s.regs[addr] = v
	}
	if len(s.regs) > 0 {
		s.logger.Info("register state restored", zap.Strings("chips", formatRegs(s.regs)))
	}
}

// Save persists the full map. Failures are logged here and returned wrapped
// in ErrPersistence; the in-memory map stays authoritative either way.
func (s *Store) Save() error {
	snap := s.Snapshot()
	if err := s.persister.Save(snap); err != nil {
		s.logger.Error("register state not persisted, will not survive restart", zap.Error(err))
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}

// Ensure inserts addr with Inactive when absent and reports whether it did.
// The caller is responsible for pushing the new value to the bus.
func (s *Store) Ensure(addr uint16) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.regs[addr]; ok {
		return false
	}
	s.regs[addr] = Inactive
	return true
}

// Has reports whether addr is known.
func (s *Store) Has(addr uint16) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.regs[addr]
	return ok
}

// SetBit sets (HIGH) or clears (LOW) bit pin of addr and returns the new value.
func (s *Store) SetBit(addr uint16, pin int, level logic.Level) (uint8, error) {
	if pin < 0 || pin >= Pins {
		return 0, fmt.Errorf("%w: %d", ErrInvalidPin, pin)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.regs[addr]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownAddress, bus.FormatAddress(addr))
	}
	mask := uint8(1) << uint(pin)
	if level == logic.High {
		v |= mask
	} else {
		v &^= mask
	}
	s.regs[addr] = v
	return v, nil
}

// CurrentValue returns the stored value of addr.
func (s *Store) CurrentValue(addr uint16) (uint8, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.regs[addr]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownAddress, bus.FormatAddress(addr))
	}
	return v, nil
}

// Snapshot returns a copy of the register map.
func (s *Store) Snapshot() map[uint16]uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[uint16]uint8, len(s.regs))
	for k, v := range s.regs {
		out[k] = v
	}
	return out
}

// Addresses returns the known addresses in ascending order.
func (s *Store) Addresses() []uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint16, 0, len(s.regs))
	for k := range s.regs {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func formatRegs(regs map[uint16]uint8) []string {
	out := make([]string, 0, len(regs))
	for addr, v := range regs {
		out = append(out, fmt.Sprintf("%s=0x%02x", bus.FormatAddress(addr), v))
	}
	sort.Strings(out)
	return out
}
