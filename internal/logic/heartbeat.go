package logic

import "time"

// Heartbeat decides when a periodic status event is due.
// Not safe for concurrent use.
type Heartbeat struct {
	interval time.Duration
	start    time.Time
	last     time.Time
}

// NewHeartbeat creates a Heartbeat that first fires interval after start.
// An interval <= 0 disables it.
func NewHeartbeat(interval time.Duration, start time.Time) *Heartbeat {
	return &Heartbeat{interval: interval, start: start, last: start}
}

// Check returns heartbeat data if the interval has elapsed since the last
// heartbeat (or start), nil otherwise.
func (h *Heartbeat) Check(now time.Time) *HeartbeatData {
	if h.interval <= 0 {
		return nil
	}
	if now.Sub(h.last) < h.interval {
		return nil
	}

	h.last = now
	return &HeartbeatData{
		Timestamp: now,
		Uptime:    now.Sub(h.start),
	}
}
