package status

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/sweeney/pcf-relay/internal/bus"
	"github.com/sweeney/pcf-relay/internal/logic"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string         `json:"event,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	InstanceID    string         `json:"instance_id"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	StartTime     string         `json:"start_time"`
	Timestamp     string         `json:"timestamp"`
	MQTT          MQTTStatus     `json:"mqtt"`
	Bus           BusJSON        `json:"bus"`
	Actuators     []ActuatorJSON `json:"actuators"`
	Network       *NetworkJSON   `json:"network,omitempty"`
	Config        ConfigJSON     `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// BusJSON reports the register mirror and write counters.
type BusJSON struct {
	Writes    uint64         `json:"writes"`
	Failures  uint64         `json:"failures"`
	Registers map[string]int `json:"registers"`
}

// ActuatorJSON is the JSON representation of one actuator.
type ActuatorJSON struct {
	Name           string     `json:"name"`
	Chip           string     `json:"chip"`
	Pin            string     `json:"pin"`
	Inverted       bool       `json:"inverted"`
	SamplePeriodMs int64      `json:"sample_period_ms"`
	State          string     `json:"state"`
	Power          int        `json:"power"`
	Counts         CountsJSON `json:"event_counts"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	Engaged    int `json:"engaged"`
	Disengaged int `json:"disengaged"`
	Power      int `json:"power"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	HeartbeatMs int64  `json:"heartbeat_ms"`
	IdlePollMs  int64  `json:"idle_poll_ms"`
	Broker      string `json:"broker"`
	TopicPrefix string `json:"topic_prefix"`
	HTTPAddr    string `json:"http_addr"`
	StateFile   string `json:"state_file"`
	Bus         string `json:"bus,omitempty"`
	EnableLine  int    `json:"enable_line"`
}

// Registers renders the register mirror keyed like the state file.
func Registers(regs map[uint16]uint8) map[string]int {
	out := make(map[string]int, len(regs))
	for addr, v := range regs {
		out[bus.FormatAddress(addr)] = int(v)
	}
	return out
}

// Actuator renders one actuator.
func Actuator(a ActuatorInfo) ActuatorJSON {
	return ActuatorJSON{
		Name:           a.Name,
		Chip:           bus.FormatAddress(a.Address),
		Pin:            "p" + strconv.Itoa(a.Pin),
		Inverted:       a.Inverted,
		SamplePeriodMs: a.SamplePeriod.Milliseconds(),
		State:          string(logic.StateOf(a.Engaged)),
		Power:          a.Power,
		Counts: CountsJSON{
			Engaged:    a.Counts.Engaged,
			Disengaged: a.Counts.Disengaged,
			Power:      a.Counts.Power,
		},
	}
}

func buildInner(snap Snapshot) StatusInner {
	acts := make([]ActuatorJSON, 0, len(snap.Actuators))
	for _, a := range snap.Actuators {
		acts = append(acts, Actuator(a))
	}

	inner := StatusInner{
		InstanceID:    snap.InstanceID,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Bus: BusJSON{
			Writes:    snap.BusWrites,
			Failures:  snap.BusFailures,
			Registers: Registers(snap.Registers),
		},
		Actuators: acts,
		Config: ConfigJSON{
			HeartbeatMs: snap.Config.HeartbeatMs,
			IdlePollMs:  snap.Config.IdlePollMs,
			Broker:      snap.Config.Broker,
			TopicPrefix: snap.Config.TopicPrefix,
			HTTPAddr:    snap.Config.HTTPAddr,
			StateFile:   snap.Config.StateFile,
			Bus:         snap.Config.Bus,
			EnableLine:  snap.Config.EnableLine,
		},
	}
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
