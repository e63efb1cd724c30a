package logic

import (
	"testing"
	"time"
)

func TestHeartbeatDisabled(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, interval := range []time.Duration{0, -time.Minute} {
		h := NewHeartbeat(interval, start)
		if got := h.Check(start.Add(24 * time.Hour)); got != nil {
			t.Errorf("interval %v: expected nil, got %+v", interval, got)
		}
	}
}

func TestHeartbeatFiresAfterInterval(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	h := NewHeartbeat(15*time.Minute, start)

	if got := h.Check(start.Add(14 * time.Minute)); got != nil {
		t.Fatalf("fired early: %+v", got)
	}

	got := h.Check(start.Add(15 * time.Minute))
	if got == nil {
		t.Fatal("expected heartbeat at 15m")
	}
	if got.Uptime != 15*time.Minute {
		t.Errorf("Uptime: got %v, want 15m", got.Uptime)
	}
	if !got.Timestamp.Equal(start.Add(15 * time.Minute)) {
		t.Errorf("Timestamp: got %v", got.Timestamp)
	}

	// Next one is measured from the last heartbeat.
	if got := h.Check(start.Add(29 * time.Minute)); got != nil {
		t.Errorf("fired early after first: %+v", got)
	}
	got = h.Check(start.Add(31 * time.Minute))
	if got == nil || got.Uptime != 31*time.Minute {
		t.Errorf("second heartbeat: got %+v", got)
	}
}
