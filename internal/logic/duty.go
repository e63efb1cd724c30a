package logic

import "time"

// Power limits in percent.
const (
	MinPower  = 0
	MaxPower  = 100
	FullPower = MaxPower
)

// ClampPower limits p to [MinPower, MaxPower].
func ClampPower(p int) int {
	if p < MinPower {
		return MinPower
	}
	if p > MaxPower {
		return MaxPower
	}
	return p
}

// Polarity maps the logical actuator state to pin levels.
// Not inverted: HIGH engages the relay. Inverted: LOW engages it.
type Polarity struct {
	Inverted bool
}

// Engaged returns the level that switches the relay on.
func (p Polarity) Engaged() Level {
	return Level(!p.Inverted)
}

// Disengaged returns the level that switches the relay off.
func (p Polarity) Disengaged() Level {
	return Level(p.Inverted)
}

// For returns the level for the given logical state.
func (p Polarity) For(engaged bool) Level {
	if engaged {
		return p.Engaged()
	}
	return p.Disengaged()
}

// Phases splits one sample period into on and off time for power percent.
// power is clamped first, so Phases(period, 100) returns (period, 0).
func Phases(period time.Duration, power int) (on, off time.Duration) {
	power = ClampPower(power)
	on = period * time.Duration(power) / MaxPower
	off = period - on
	return on, off
}

// Step is what the control loop does during one iteration.
type Step struct {
	// Idle means no pin writes, just wait IdleFor.
	Idle    bool
	IdleFor time.Duration

	// On and Off are the phase durations when not idle.
	// A zero phase is skipped entirely (no write, no wait).
	On  time.Duration
	Off time.Duration
}

// NextStep decides the next loop iteration from the actuator state.
// Disengaged actuators and engaged ones at zero power idle without bus activity.
func NextStep(engaged bool, power int, period, idle time.Duration) Step {
	if !engaged || ClampPower(power) == 0 {
		return Step{Idle: true, IdleFor: idle}
	}
	on, off := Phases(period, power)
	return Step{On: on, Off: off}
}

// StateOf converts engagement to a State.
func StateOf(engaged bool) State {
	if engaged {
		return StateOn
	}
	return StateOff
}
