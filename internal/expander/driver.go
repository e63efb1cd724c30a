package expander

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/sweeney/pcf-relay/internal/bus"
	"github.com/sweeney/pcf-relay/internal/logic"
)

// PinDriver sets a single expander pin. Actuators depend on this interface.
type PinDriver interface {
	SetPin(addr uint16, pin int, level logic.Level) error
}

// Driver is the only way actuators change outputs. It never exposes the
// register map for direct mutation.
type Driver struct {
	store      *Store
	serializer *Serializer
	logger     *zap.Logger
}

// New wires a Store, Serializer and Driver around one bus and persister.
// The store starts empty; call Load to restore persisted state.
func New(w bus.Writer, p Persister, logger *zap.Logger) *Driver {
	store := NewStore(p, logger.Named("store"))
	return NewDriver(store, NewSerializer(store, w, logger.Named("bus")), logger)
}

// NewDriver creates a Driver over an existing store and serializer.
func NewDriver(store *Store, serializer *Serializer, logger *zap.Logger) *Driver {
	return &Driver{
		store:      store,
		serializer: serializer,
		logger:     logger,
	}
}

// Store returns the underlying register store (read access for status).
func (d *Driver) Store() *Store {
	return d.store
}

// Serializer returns the underlying write serializer.
func (d *Driver) Serializer() *Serializer {
	return d.serializer
}

// Load restores the persisted register map.
func (d *Driver) Load() {
	d.store.Load()
}

// EnsureAddress makes addr known. The first call for an address stores
// Inactive and writes it to the chip; later calls do nothing.
func (d *Driver) EnsureAddress(addr uint16) error {
	if !bus.ValidAddress(addr) {
		return fmt.Errorf("%w: %s", ErrInvalidAddress, bus.FormatAddress(addr))
	}
	if !d.store.Ensure(addr) {
		return nil
	}
	d.logger.Info("chip initialised", zap.String("chip", bus.FormatAddress(addr)))
	return d.serializer.WriteThrough(addr)
}

// SetPin drives one pin to level and writes the chip's whole register.
func (d *Driver) SetPin(addr uint16, pin int, level logic.Level) error {
	if pin < 0 || pin >= Pins {
		return fmt.Errorf("%w: %d", ErrInvalidPin, pin)
	}
	// A failed initial write still leaves the address known; the write-through
	// below re-sends the cumulative value.
	if err := d.EnsureAddress(addr); err != nil && !errors.Is(err, ErrBusWrite) {
		return err
	}
	if _, err := d.store.SetBit(addr, pin, level); err != nil {
		return err
	}
	return d.serializer.WriteThrough(addr)
}

// Rewrite sends every known register to the bus again, e.g. after the relay
// supply was switched on. It returns the first failure but tries all chips.
func (d *Driver) Rewrite() error {
	var first error
	for _, addr := range d.store.Addresses() {
		if err := d.serializer.WriteThrough(addr); err != nil {
			d.logger.Warn("rewrite failed", zap.String("chip", bus.FormatAddress(addr)), zap.Error(err))
			if first == nil {
				first = err
			}
		}
	}
	return first
}
