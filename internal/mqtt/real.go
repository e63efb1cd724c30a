package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sweeney/pcf-relay/internal/logic"
)

// DefaultBufferSize bounds the messages kept while the broker is unreachable.
const DefaultBufferSize = 100

// Options configures a RealPublisher.
type Options struct {
	Broker      string
	ClientID    string // a random suffix is appended
	TopicPrefix string
	BufferSize  int
	OnCommand   CommandHandler // nil disables the command subscription
}

// RealPublisher publishes to an actual MQTT broker.
type RealPublisher struct {
	client    paho.Client
	topics    Topics
	logger    *zap.Logger
	onCommand CommandHandler

	mu        sync.Mutex
	buffer    *ringBuffer
	connected bool
	everUp    bool
	lost      int // bumped on every connection loss
}

// NewRealPublisher creates a publisher and starts connecting. If the broker
// is not reachable within the connect timeout it keeps retrying in the
// background and buffers outgoing messages meanwhile.
func NewRealPublisher(o Options, logger *zap.Logger) *RealPublisher {
	size := o.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}
	p := &RealPublisher{
		topics:    NewTopics(o.TopicPrefix),
		logger:    logger,
		onCommand: o.OnCommand,
		buffer:    newRingBuffer(size),
	}

	will, _ := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     "OFFLINE",
		Reason:    "MQTT_DISCONNECT",
	})

	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(clientID(o.ClientID)).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(p.topics.System, string(will), 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(p.onConnectionLost)

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		logger.Warn("mqtt broker not reachable yet, buffering", zap.String("broker", o.Broker))
	} else if err := token.Error(); err != nil {
		logger.Warn("mqtt connect failed, retrying", zap.String("broker", o.Broker), zap.Error(err))
	}

	return p
}

func clientID(base string) string {
	if base == "" {
		base = "pcf-relay"
	}
	return base + "-" + uuid.NewString()[:8]
}

func (p *RealPublisher) onConnect(c paho.Client) {
	p.mu.Lock()
	reconnect := p.everUp
	p.everUp = true
	lost := p.lost
	p.mu.Unlock()

	if p.onCommand != nil {
		token := c.Subscribe(p.topics.Set, 1, func(_ paho.Client, m paho.Message) {
			dispatchCommand(p.topics, m.Topic(), m.Payload(), p.onCommand, p.logger)
		})
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			p.logger.Error("mqtt subscribe failed", zap.String("topic", p.topics.Set), zap.Error(token.Error()))
		}
	}

	replayed := p.replay(lost)
	p.logger.Info("mqtt connected", zap.Bool("reconnect", reconnect), zap.Int("replayed", replayed))

	if reconnect {
		if err := p.PublishSystem(SystemEvent{Timestamp: time.Now(), Event: "RECONNECTED"}); err != nil {
			p.logger.Warn("publish reconnected event failed", zap.Error(err))
		}
	}
}

// replay sends the buffered messages oldest first. Publishes made meanwhile
// keep going to the buffer; the connection is marked up only in the same
// critical section that finds the buffer empty, so no new message overtakes
// an older one.
func (p *RealPublisher) replay(lost int) int {
	n := 0
	for {
		p.mu.Lock()
		if p.lost != lost {
			p.mu.Unlock()
			return n
		}
		pending := p.buffer.drainAll()
		if len(pending) == 0 {
			p.connected = true
			p.mu.Unlock()
			return n
		}
		p.mu.Unlock()

		for _, m := range pending {
			if err := p.send(m); err != nil {
				p.logger.Warn("mqtt replay failed", zap.String("topic", m.topic), zap.Error(err))
			}
			n++
		}
	}
}

func (p *RealPublisher) onConnectionLost(_ paho.Client, err error) {
	p.mu.Lock()
	p.connected = false
	p.lost++
	p.mu.Unlock()
	p.logger.Warn("mqtt connection lost", zap.Error(err))
}

// dispatchCommand parses one command message and hands it to h.
func dispatchCommand(t Topics, topic string, payload []byte, h CommandHandler, logger *zap.Logger) bool {
	name, ok := t.ActuatorFromSetTopic(topic)
	if !ok {
		logger.Warn("mqtt command on unexpected topic", zap.String("topic", topic))
		return false
	}
	cmd, err := ParseCommand(payload)
	if err != nil {
		logger.Warn("mqtt command rejected", zap.String("actuator", name), zap.Error(err))
		return false
	}
	h(name, cmd)
	return true
}

// publish sends immediately when connected, otherwise buffers.
func (p *RealPublisher) publish(topic string, qos byte, retained bool, payload []byte) error {
	m := bufferedMsg{topic: topic, payload: payload, qos: qos, retained: retained}

	p.mu.Lock()
	if !p.connected {
		if p.buffer.push(m) {
			p.logger.Warn("mqtt buffer full, dropping oldest")
		}
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	return p.send(m)
}

func (p *RealPublisher) send(m bufferedMsg) error {
	token := p.client.Publish(m.topic, m.qos, m.retained, m.payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish %s: timeout", m.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", m.topic, err)
	}
	return nil
}

// Publish sends an actuator event to the MQTT broker.
func (p *RealPublisher) Publish(event logic.Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	// QoS 0 (at-most-once), not retained
	return p.publish(p.topics.Events, 0, false, payload)
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	// QoS 1 so lifecycle events survive a flaky link.
	return p.publish(p.topics.System, 1, event.Retained, payload)
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Buffered returns the number of messages waiting for a connection.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffer.len()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
