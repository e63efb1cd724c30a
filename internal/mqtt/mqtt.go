// Package mqtt publishes actuator and lifecycle events and receives remote
// commands, with an abstraction for testing.
package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sweeney/pcf-relay/internal/logic"
)

// DefaultTopicPrefix is used when the configuration leaves it empty.
const DefaultTopicPrefix = "relay/pcf8574"

// ErrInvalidCommand is returned by ParseCommand.
var ErrInvalidCommand = errors.New("mqtt: invalid command")

// Topics holds the topic names derived from one prefix.
type Topics struct {
	Events string // actuator events
	System string // lifecycle events
	Set    string // command subscription filter
	prefix string
}

// NewTopics derives all topics from prefix.
func NewTopics(prefix string) Topics {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{
		Events: prefix + "/events",
		System: prefix + "/system",
		Set:    prefix + "/set/+",
		prefix: prefix,
	}
}

// SetTopic is the command topic for one actuator.
func (t Topics) SetTopic(name string) string {
	return t.prefix + "/set/" + name
}

// ActuatorFromSetTopic extracts the actuator name from a command topic.
func (t Topics) ActuatorFromSetTopic(topic string) (string, bool) {
	name, ok := strings.CutPrefix(topic, t.prefix+"/set/")
	if !ok || name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends an actuator event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event logic.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Actuator ActuatorPayload `json:"actuator"`
}

// ActuatorPayload contains the actuator event details.
type ActuatorPayload struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Name      string `json:"name"`
	State     string `json:"state"`
	Power     int    `json:"power"`
}

// FormatPayload creates the JSON payload for an actuator event.
func FormatPayload(event logic.Event) ([]byte, error) {
	payload := Payload{
		Actuator: ActuatorPayload{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     string(event.Type),
			Name:      event.Actuator,
			State:     string(event.State),
			Power:     event.Power,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// Command is a remote request for one actuator. Nil fields are left alone.
type Command struct {
	State *logic.State `json:"state,omitempty"`
	Power *int         `json:"power,omitempty"`
}

// CommandHandler is called for every valid command received.
type CommandHandler func(actuator string, cmd Command)

// ParseCommand accepts a JSON object ({"state":"ON","power":60}) or a bare
// ON/OFF string.
func ParseCommand(payload []byte) (Command, error) {
	raw := strings.TrimSpace(string(payload))

	switch strings.ToUpper(raw) {
	case string(logic.StateOn), string(logic.StateOff):
		s := logic.State(strings.ToUpper(raw))
		return Command{State: &s}, nil
	}

	var cmd Command
	if err := json.Unmarshal([]byte(raw), &cmd); err != nil {
		return Command{}, fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}
	if cmd.State == nil && cmd.Power == nil {
		return Command{}, fmt.Errorf("%w: neither state nor power given", ErrInvalidCommand)
	}
	if cmd.State != nil {
		s := logic.State(strings.ToUpper(string(*cmd.State)))
		if s != logic.StateOn && s != logic.StateOff {
			return Command{}, fmt.Errorf("%w: state %q", ErrInvalidCommand, *cmd.State)
		}
		cmd.State = &s
	}
	return cmd, nil
}
