package expander

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/sweeney/pcf-relay/internal/bus"
)

// ErrBusWrite wraps transport faults (chip absent, NACK, bus busy).
var ErrBusWrite = errors.New("expander: bus write failed")

// Serializer allows one write-through at a time for the whole process.
// All chips share one physical bus, so there is one lock, not one per address.
type Serializer struct {
	mu     sync.Mutex
	store  *Store
	bus    bus.Writer
	logger *zap.Logger

	writes   atomic.Uint64
	failures atomic.Uint64
}

// NewSerializer creates a Serializer writing values from store to w.
func NewSerializer(store *Store, w bus.Writer, logger *zap.Logger) *Serializer {
	return &Serializer{
		store:  store,
		bus:    w,
		logger: logger,
	}
}

// WriteThrough sends the current value of addr to the bus, then persists the
// register map. The value is read inside the lock, so a write always carries
// every bit set by earlier SetBit calls. On a bus fault the stored value is
// kept; the next successful write re-sends it.
func (s *Serializer) WriteThrough(addr uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.store.CurrentValue(addr)
	if err != nil {
		return err
	}

	if err := s.bus.WriteRegister(addr, v); err != nil {
		s.failures.Add(1)
		return fmt.Errorf("%w: %s=0x%02x: %w", ErrBusWrite, bus.FormatAddress(addr), v, err)
	}
	s.writes.Add(1)

	if s.logger.Core().Enabled(zap.DebugLevel) {
		s.logger.Debug("register written",
			zap.String("chip", bus.FormatAddress(addr)),
			zap.String("value", fmt.Sprintf("0x%02x", v)))
	}

	// Save logs its own failure; persistence is best effort.
	_ = s.store.Save()
	return nil
}

// Stats returns the number of successful and failed bus writes.
func (s *Serializer) Stats() (writes, failures uint64) {
	return s.writes.Load(), s.failures.Load()
}
