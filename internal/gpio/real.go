//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealLine drives an output through the Linux GPIO character device.
type RealLine struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

// NewRealLine requests offset on chip as an output, initially inactive.
func NewRealLine(chip string, offset int, activeLow bool) (*RealLine, error) {
	c, err := gpiocdev.NewChip(chip, gpiocdev.WithConsumer("pcf-relay"))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", chip, err)
	}

	opts := []gpiocdev.LineReqOption{gpiocdev.AsOutput(0)}
	if activeLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}
	l, err := c.RequestLine(offset, opts...)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("request enable line %d: %w", offset, err)
	}

	return &RealLine{chip: c, line: l}, nil
}

// Set drives the logical level; active-low inversion is done by the kernel.
func (r *RealLine) Set(active bool) error {
	v := 0
	if active {
		v = 1
	}
	if err := r.line.SetValue(v); err != nil {
		return fmt.Errorf("set enable line: %w", err)
	}
	return nil
}

// Close releases the line after returning it to an input with pull-down,
// matching the Pi boot default so the relay supply stays off across reboot.
func (r *RealLine) Close() error {
	var errs []error

	if r.line != nil {
		if err := r.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure enable line: %w", err))
		}
		if err := r.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close enable line: %w", err))
		}
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
