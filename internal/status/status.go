// Package status provides a thread-safe status tracker for the pcf-relay daemon.
// It is read by the HTTP handlers and by the MQTT lifecycle events.
package status

import (
	"maps"
	"sync"
	"time"

	"github.com/sweeney/pcf-relay/internal/actuator"
	"github.com/sweeney/pcf-relay/internal/logic"
)

// NetworkInfo contains network state as reported by the host helper.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	HeartbeatMs int64
	IdlePollMs  int64
	Broker      string
	TopicPrefix string
	HTTPAddr    string
	StateFile   string
	Bus         string
	EnableLine  int // -1 when not configured
}

// ActuatorInfo is the displayed state of one actuator.
type ActuatorInfo struct {
	Name         string
	Address      uint16
	Pin          int
	Inverted     bool
	SamplePeriod time.Duration
	Engaged      bool
	Power        int
	Counts       logic.EventCounts
}

// ActuatorInfos converts controller snapshots.
func ActuatorInfos(sts []actuator.Status) []ActuatorInfo {
	out := make([]ActuatorInfo, 0, len(sts))
	for _, st := range sts {
		out = append(out, ActuatorInfo{
			Name:         st.Name,
			Address:      st.Address,
			Pin:          st.Pin,
			Inverted:     st.Inverted,
			SamplePeriod: st.SamplePeriod,
			Engaged:      st.Engaged,
			Power:        st.Power,
			Counts:       st.Counts,
		})
	}
	return out
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type with its own copies; safe to use after the lock is released.
type Snapshot struct {
	InstanceID    string
	Actuators     []ActuatorInfo
	Registers     map[uint16]uint8
	BusWrites     uint64
	BusFailures   uint64
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time, instance id and config.
func NewTracker(startTime time.Time, instanceID string, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			InstanceID: instanceID,
			StartTime:  startTime,
			Registers:  map[uint16]uint8{},
			Config:     cfg,
		},
		now: time.Now,
	}
}

// UpdateActuators replaces the actuator list.
func (t *Tracker) UpdateActuators(infos []ActuatorInfo) {
	cp := make([]ActuatorInfo, len(infos))
	copy(cp, infos)
	t.mu.Lock()
	t.snap.Actuators = cp
	t.mu.Unlock()
}

// UpdateBus records the register mirror and the write counters.
func (t *Tracker) UpdateBus(regs map[uint16]uint8, writes, failures uint64) {
	cp := maps.Clone(regs)
	if cp == nil {
		cp = map[uint16]uint8{}
	}
	t.mu.Lock()
	t.snap.Registers = cp
	t.snap.BusWrites = writes
	t.snap.BusFailures = failures
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Actuators = make([]ActuatorInfo, len(t.snap.Actuators))
	copy(s.Actuators, t.snap.Actuators)
	s.Registers = maps.Clone(t.snap.Registers)
	t.mu.RUnlock()
	s.Now = t.now()
	return s
}
