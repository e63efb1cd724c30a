// Package logic contains pure business logic for time-proportioned relay control.
// This package has NO external dependencies (no I2C, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import "time"

// Level is the electrical level of one expander pin.
// Low clears the register bit, High sets it.
type Level bool

const (
	Low  Level = false
	High Level = true
)

func (l Level) String() string {
	if l {
		return "HIGH"
	}
	return "LOW"
}

// State represents the logical state of an actuator.
type State string

const (
	StateOn  State = "ON"
	StateOff State = "OFF"
)

// EventType represents an actuator change to be published.
type EventType string

const (
	EventEngaged    EventType = "ENGAGED"
	EventDisengaged EventType = "DISENGAGED"
	EventPower      EventType = "POWER"
)

// Event represents an actuator change to be published.
type Event struct {
	Timestamp time.Time
	Type      EventType
	Actuator  string
	State     State
	Power     int
}

// EventCounts tracks the number of each event type since startup.
type EventCounts struct {
	Engaged    int
	Disengaged int
	Power      int
}

// Add counts one event.
func (c *EventCounts) Add(t EventType) {
	switch t {
	case EventEngaged:
		c.Engaged++
	case EventDisengaged:
		c.Disengaged++
	case EventPower:
		c.Power++
	}
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
}
