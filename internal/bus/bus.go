// Package bus provides single-byte writes to I/O expander chips on an I2C bus.
// The real implementation uses periph.io on Linux.
// The fake implementation records writes for tests.
package bus

import (
	"fmt"
	"strconv"
	"strings"
)

// Writer writes one output byte to the chip at addr.
type Writer interface {
	// WriteRegister sends value to the 7-bit device address addr.
	// The whole 8-bit port latch is replaced by value.
	WriteRegister(addr uint16, value uint8) error

	// Close releases the bus.
	Close() error
}

// Address ranges of the supported expanders.
const (
	PCF8574First  uint16 = 0x20
	PCF8574Last   uint16 = 0x27
	PCF8574AFirst uint16 = 0x38
	PCF8574ALast  uint16 = 0x3F
)

// DefaultAddress is the PCF8574 address with A0..A2 tied low.
const DefaultAddress uint16 = PCF8574First

// ValidAddress reports whether addr belongs to a PCF8574 or PCF8574A.
func ValidAddress(addr uint16) bool {
	return (addr >= PCF8574First && addr <= PCF8574Last) ||
		(addr >= PCF8574AFirst && addr <= PCF8574ALast)
}

// ParseAddress accepts "0x20" style hex or "32" style decimal.
func ParseAddress(s string) (uint16, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty address")
	}
	var (
		v   uint64
		err error
	)
	if strings.HasPrefix(s, "0x") {
		v, err = strconv.ParseUint(s[2:], 16, 8)
	} else {
		v, err = strconv.ParseUint(s, 10, 8)
	}
	if err != nil {
		return 0, fmt.Errorf("parse address %q: %w", s, err)
	}
	addr := uint16(v)
	if !ValidAddress(addr) {
		return 0, fmt.Errorf("address %s outside 0x20-0x27 and 0x38-0x3f", FormatAddress(addr))
	}
	return addr, nil
}

// FormatAddress renders addr the way it is keyed in the state file ("0x20").
func FormatAddress(addr uint16) string {
	return fmt.Sprintf("0x%02x", addr)
}
