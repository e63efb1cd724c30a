//go:build !linux

package bus

import "errors"

// RealWriter is not available on non-Linux platforms.
type RealWriter struct{}

// NewRealWriter returns an error on non-Linux platforms.
func NewRealWriter(name string) (*RealWriter, error) {
	return nil, errors.New("bus: i2c not supported on this platform (requires Linux)")
}

// WriteRegister is not implemented on non-Linux platforms.
func (w *RealWriter) WriteRegister(addr uint16, value uint8) error {
	return errors.New("bus: not supported")
}

// Close is not implemented on non-Linux platforms.
func (w *RealWriter) Close() error {
	return nil
}
