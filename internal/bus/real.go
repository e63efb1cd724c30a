//go:build linux

package bus

import (
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// RealWriter writes to expanders on a Linux I2C bus through periph.io.
type RealWriter struct {
	bus i2c.BusCloser
}

// NewRealWriter opens the named I2C bus. An empty name selects the first
// bus periph finds (normally /dev/i2c-1 on a Raspberry Pi).
func NewRealWriter(name string) (*RealWriter, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init periph host: %w", err)
	}

	b, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", name, err)
	}

	return &RealWriter{bus: b}, nil
}

// WriteRegister sends a single-byte write transaction. The PCF8574 has no
// register pointer, so the byte becomes the whole output latch.
func (w *RealWriter) WriteRegister(addr uint16, value uint8) error {
	if err := w.bus.Tx(addr, []byte{value}, nil); err != nil {
		return fmt.Errorf("i2c write %s=0x%02x: %w", FormatAddress(addr), value, err)
	}
	return nil
}

// Close releases the bus handle.
func (w *RealWriter) Close() error {
	if w.bus == nil {
		return nil
	}
	return w.bus.Close()
}
