// Package actuator runs one software-PWM control loop per relay.
package actuator

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sweeney/pcf-relay/internal/bus"
	"github.com/sweeney/pcf-relay/internal/expander"
)

// ErrInvalidConfig is returned for configurations that would switch the
// wrong relay or run an unsupported period.
var ErrInvalidConfig = errors.New("actuator: invalid config")

// ErrNotFound is returned when no actuator has the requested name.
var ErrNotFound = errors.New("actuator: not found")

// ErrStopped is returned by Engage once the owning Set has been stopped.
var ErrStopped = errors.New("actuator: stopped")

// Supported PWM base periods.
var SamplePeriods = []time.Duration{2 * time.Second, 5 * time.Second}

// DefaultSamplePeriod is used when none is configured.
const DefaultSamplePeriod = 5 * time.Second

// DefaultIdlePoll is how often a disengaged loop wakes up.
const DefaultIdlePoll = time.Second

// Config describes one relay. It is fixed once the actuator starts.
type Config struct {
	Name         string
	Address      uint16
	Pin          int
	Inverted     bool // true: LOW engages the relay
	SamplePeriod time.Duration
}

// Validate rejects anything that could drive an unintended output.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidConfig)
	}
	if !bus.ValidAddress(c.Address) {
		return fmt.Errorf("%w: %s: address %s outside 0x20-0x27 and 0x38-0x3f",
			ErrInvalidConfig, c.Name, bus.FormatAddress(c.Address))
	}
	if c.Pin < 0 || c.Pin >= expander.Pins {
		return fmt.Errorf("%w: %s: pin %d outside p0-p7", ErrInvalidConfig, c.Name, c.Pin)
	}
	if !validPeriod(c.SamplePeriod) {
		return fmt.Errorf("%w: %s: sample period %v not one of %v",
			ErrInvalidConfig, c.Name, c.SamplePeriod, SamplePeriods)
	}
	return nil
}

// PinName renders the pin the way it is configured ("p3").
func (c Config) PinName() string {
	return "p" + strconv.Itoa(c.Pin)
}

func validPeriod(d time.Duration) bool {
	for _, p := range SamplePeriods {
		if d == p {
			return true
		}
	}
	return false
}

// ParsePin accepts "p0".."p7".
func ParsePin(s string) (int, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if len(s) != 2 || s[0] != 'p' || s[1] < '0' || s[1] > '7' {
		return 0, fmt.Errorf("%w: pin %q is not one of p0-p7", ErrInvalidConfig, s)
	}
	return int(s[1] - '0'), nil
}
