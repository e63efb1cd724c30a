package mqtt

import (
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap/zaptest"

	"github.com/sweeney/pcf-relay/internal/logic"
)

// doneToken is a paho.Token that has already completed.
type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// recordingClient is a paho.Client that records publishes. onPublish, if
// set, runs after each publish is recorded and outside the lock.
type recordingClient struct {
	mu        sync.Mutex
	published []string
	onPublish func(topic string, n int)
}

func (c *recordingClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	c.mu.Lock()
	c.published = append(c.published, string(payload.([]byte)))
	n := len(c.published)
	hook := c.onPublish
	c.mu.Unlock()
	if hook != nil {
		hook(topic, n)
	}
	return doneToken{}
}

func (c *recordingClient) payloads() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.published...)
}

func (c *recordingClient) IsConnected() bool      { return true }
func (c *recordingClient) IsConnectionOpen() bool { return true }
func (c *recordingClient) Connect() paho.Token    { return doneToken{} }
func (c *recordingClient) Disconnect(uint)        {}
func (c *recordingClient) Subscribe(string, byte, paho.MessageHandler) paho.Token {
	return doneToken{}
}
func (c *recordingClient) SubscribeMultiple(map[string]byte, paho.MessageHandler) paho.Token {
	return doneToken{}
}
func (c *recordingClient) Unsubscribe(...string) paho.Token       { return doneToken{} }
func (c *recordingClient) AddRoute(string, paho.MessageHandler)   {}
func (c *recordingClient) OptionsReader() paho.ClientOptionsReader { return paho.ClientOptionsReader{} }

func newTestPublisher(t *testing.T, c paho.Client) *RealPublisher {
	return &RealPublisher{
		client: c,
		topics: NewTopics(""),
		logger: zaptest.NewLogger(t),
		buffer: newRingBuffer(10),
	}
}

func event(name string, power int) logic.Event {
	return logic.Event{
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Type:      logic.EventPower,
		Actuator:  name,
		State:     logic.StateOn,
		Power:     power,
	}
}

func TestPublishBuffersWhileDisconnected(t *testing.T) {
	c := &recordingClient{}
	p := newTestPublisher(t, c)

	if err := p.Publish(event("heater", 10)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if p.Buffered() != 1 || len(c.payloads()) != 0 {
		t.Errorf("expected 1 buffered and 0 sent, got %d and %d", p.Buffered(), len(c.payloads()))
	}
	if p.IsConnected() {
		t.Error("should not report connected before onConnect")
	}
}

// An event published while the buffer is being replayed must go out after
// every older buffered event.
func TestReplayKeepsOrderWithConcurrentPublish(t *testing.T) {
	c := &recordingClient{}
	p := newTestPublisher(t, c)

	for _, power := range []int{1, 2, 3} {
		p.Publish(event("heater", power))
	}
	late, _ := FormatPayload(event("heater", 99))
	c.onPublish = func(_ string, n int) {
		if n == 1 {
			p.Publish(event("heater", 99))
		}
	}

	p.onConnect(c)

	got := c.payloads()
	if len(got) != 4 {
		t.Fatalf("expected 4 publishes, got %d", len(got))
	}
	if got[3] != string(late) {
		t.Errorf("late event overtook the buffer: order %q", got)
	}
	for i, power := range []int{1, 2, 3} {
		want, _ := FormatPayload(event("heater", power))
		if got[i] != string(want) {
			t.Errorf("publish %d: got %s, want %s", i, got[i], want)
		}
	}
	if !p.IsConnected() || p.Buffered() != 0 {
		t.Errorf("after replay: connected=%v buffered=%d", p.IsConnected(), p.Buffered())
	}
}

func TestReplayStopsAfterConnectionLost(t *testing.T) {
	c := &recordingClient{}
	p := newTestPublisher(t, c)

	p.Publish(event("heater", 1))
	c.onPublish = func(_ string, n int) {
		if n == 1 {
			p.onConnectionLost(c, nil)
			p.Publish(event("heater", 2))
		}
	}

	p.onConnect(c)

	if p.IsConnected() {
		t.Error("replay marked a lost connection as up")
	}
	if p.Buffered() != 1 {
		t.Errorf("buffered: got %d, want 1 kept for the next connect", p.Buffered())
	}
}
