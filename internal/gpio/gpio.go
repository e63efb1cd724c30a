// Package gpio drives the optional relay-supply enable line.
//
// Relay boards powered from a separate rail are kept unpowered until the
// expander registers hold their start-up values, so no relay chatters while
// the chips come out of reset.
package gpio

// DefaultChip is the GPIO character device on a Raspberry Pi.
const DefaultChip = "gpiochip0"

// Line is a single output.
type Line interface {
	// Set drives the line to its active (true) or inactive level.
	Set(active bool) error
	Close() error
}

// NopLine is used when no enable line is configured.
type NopLine struct{}

func (NopLine) Set(bool) error { return nil }
func (NopLine) Close() error   { return nil }
