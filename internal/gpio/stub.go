//go:build !linux

package gpio

import "errors"

// RealLine is not available on non-Linux platforms.
type RealLine struct{}

// NewRealLine returns an error on non-Linux platforms.
func NewRealLine(chip string, offset int, activeLow bool) (*RealLine, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

func (r *RealLine) Set(bool) error {
	return errors.New("gpio: not supported")
}

func (r *RealLine) Close() error {
	return nil
}
