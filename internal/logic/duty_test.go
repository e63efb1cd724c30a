package logic

import (
	"testing"
	"time"
)

func TestClampPower(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{-20, 0},
		{0, 0},
		{1, 1},
		{55, 55},
		{100, 100},
		{101, 100},
		{1000, 100},
	}
	for _, tt := range tests {
		if got := ClampPower(tt.in); got != tt.want {
			t.Errorf("ClampPower(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestPhases(t *testing.T) {
	tests := []struct {
		name    string
		period  time.Duration
		power   int
		wantOn  time.Duration
		wantOff time.Duration
	}{
		{"half of 2s", 2 * time.Second, 50, time.Second, time.Second},
		{"full", 5 * time.Second, 100, 5 * time.Second, 0},
		{"zero", 5 * time.Second, 0, 0, 5 * time.Second},
		{"quarter of 2s", 2 * time.Second, 25, 500 * time.Millisecond, 1500 * time.Millisecond},
		{"one percent of 5s", 5 * time.Second, 1, 50 * time.Millisecond, 4950 * time.Millisecond},
		{"clamped above", 2 * time.Second, 150, 2 * time.Second, 0},
		{"clamped below", 2 * time.Second, -5, 0, 2 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			on, off := Phases(tt.period, tt.power)
			if on != tt.wantOn {
				t.Errorf("on: got %v, want %v", on, tt.wantOn)
			}
			if off != tt.wantOff {
				t.Errorf("off: got %v, want %v", off, tt.wantOff)
			}
			if on+off != tt.period {
				t.Errorf("on+off = %v, want period %v", on+off, tt.period)
			}
		})
	}
}

func TestPolarity(t *testing.T) {
	normal := Polarity{Inverted: false}
	if normal.Engaged() != High || normal.Disengaged() != Low {
		t.Errorf("not inverted: engaged=%v disengaged=%v, want HIGH/LOW", normal.Engaged(), normal.Disengaged())
	}

	inv := Polarity{Inverted: true}
	if inv.Engaged() != Low || inv.Disengaged() != High {
		t.Errorf("inverted: engaged=%v disengaged=%v, want LOW/HIGH", inv.Engaged(), inv.Disengaged())
	}

	if inv.For(true) != Low || inv.For(false) != High {
		t.Error("For does not follow Engaged/Disengaged")
	}
}

func TestNextStep(t *testing.T) {
	period := 2 * time.Second
	idle := time.Second

	s := NextStep(false, 80, period, idle)
	if !s.Idle || s.IdleFor != idle {
		t.Errorf("disengaged: got %+v, want idle", s)
	}

	s = NextStep(true, 0, period, idle)
	if !s.Idle {
		t.Errorf("engaged at zero power: got %+v, want idle", s)
	}

	s = NextStep(true, 50, period, idle)
	if s.Idle || s.On != time.Second || s.Off != time.Second {
		t.Errorf("engaged at 50%%: got %+v", s)
	}

	s = NextStep(true, 100, period, idle)
	if s.Idle || s.On != period || s.Off != 0 {
		t.Errorf("engaged at 100%%: got %+v", s)
	}
}

func TestLevelString(t *testing.T) {
	if High.String() != "HIGH" || Low.String() != "LOW" {
		t.Errorf("got %q/%q", High.String(), Low.String())
	}
}

func TestStateOf(t *testing.T) {
	if StateOf(true) != StateOn || StateOf(false) != StateOff {
		t.Error("StateOf mismatch")
	}
}

func TestEventCountsAdd(t *testing.T) {
	var c EventCounts
	c.Add(EventEngaged)
	c.Add(EventEngaged)
	c.Add(EventDisengaged)
	c.Add(EventPower)
	c.Add(EventType("BOGUS"))

	if c.Engaged != 2 || c.Disengaged != 1 || c.Power != 1 {
		t.Errorf("got %+v", c)
	}
}
