package main

import (
	"os"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/pcf-relay/internal/actuator"
	"github.com/sweeney/pcf-relay/internal/expander"
	"github.com/sweeney/pcf-relay/internal/gpio"
	"github.com/sweeney/pcf-relay/internal/logic"
	"github.com/sweeney/pcf-relay/internal/mqtt"
	"github.com/sweeney/pcf-relay/internal/status"
	"github.com/sweeney/pcf-relay/internal/web"
)

// registerDriver is the part of expander.Driver the daemon loop needs.
type registerDriver interface {
	Snapshot() map[uint16]uint8
	Stats() (writes, failures uint64)
	Rewrite() error
}

type driverView struct{ d *expander.Driver }

func (v driverView) Snapshot() map[uint16]uint8       { return v.d.Store().Snapshot() }
func (v driverView) Stats() (writes, failures uint64) { return v.d.Serializer().Stats() }
func (v driverView) Rewrite() error                   { return v.d.Rewrite() }

// supply owns the optional GPIO line that powers the relay boards. The line
// is asserted only once every register has reached the bus, so relays never
// see the power-on latch value of 0xFF.
type supply struct {
	line   gpio.Line
	driver interface{ Rewrite() error }
	logger *zap.Logger

	mu      sync.Mutex
	enabled bool
}

func newSupply(line gpio.Line, driver interface{ Rewrite() error }, logger *zap.Logger) *supply {
	return &supply{line: line, driver: driver, logger: logger}
}

func (s *supply) enable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enabled {
		return
	}
	if err := s.line.Set(true); err != nil {
		s.logger.Warn("assert enable line failed", zap.Error(err))
		return
	}
	s.enabled = true
	s.logger.Info("relay supply enabled")
}

// ensure retries the register writes until they all succeed, then enables
// the supply.
func (s *supply) ensure() {
	if s.Enabled() {
		return
	}
	if err := s.driver.Rewrite(); err != nil {
		s.logger.Debug("register rewrite failed", zap.Error(err))
		return
	}
	s.enable()
}

func (s *supply) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

func (s *supply) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.line.Set(false); err != nil {
		s.logger.Warn("release enable line failed", zap.Error(err))
	}
	s.enabled = false
	if err := s.line.Close(); err != nil {
		s.logger.Warn("close enable line failed", zap.Error(err))
	}
}

type loop struct {
	set        *actuator.Set
	driver     registerDriver
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	tracker    *status.Tracker
	hub        *web.Hub // may be nil
	supply     *supply
	stopInputs func() // closes HTTP and MQTT command paths; may be nil
	heartbeat  time.Duration
	now        func() time.Time
	logger     *zap.Logger
}

func refreshTracker(tracker *status.Tracker, set *actuator.Set, driver *expander.Driver, conn mqtt.ConnectionStatus) {
	refresh(tracker, set, driverView{driver}, conn)
}

func refresh(tracker *status.Tracker, set *actuator.Set, driver registerDriver, conn mqtt.ConnectionStatus) {
	tracker.UpdateActuators(status.ActuatorInfos(set.Statuses()))
	writes, failures := driver.Stats()
	tracker.UpdateBus(driver.Snapshot(), writes, failures)
	if conn != nil {
		tracker.SetMQTTConnected(conn.IsConnected())
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}

// runLoop forwards actuator events, refreshes status, emits heartbeats and
// handles shutdown. On a signal it publishes SHUTDOWN, closes the command
// inputs, stops every control loop, drives all relays off and releases the
// supply line.
func runLoop(l loop, tick <-chan time.Time, sig <-chan os.Signal, events <-chan logic.Event) error {
	hb := logic.NewHeartbeat(l.heartbeat, l.now())

	for {
		select {
		case s := <-sig:
			reason := signalName(s)
			l.logger.Info("shutting down", zap.String("signal", reason))

			refresh(l.tracker, l.set, l.driver, l.mqttStatus)
			snap := l.tracker.Snapshot()
			if err := l.publisher.PublishSystem(mqtt.SystemEvent{
				Timestamp:  l.now(),
				Event:      "SHUTDOWN",
				Reason:     reason,
				Retained:   true,
				RawPayload: status.FormatStatusEvent(snap, "SHUTDOWN", reason),
			}); err != nil {
				l.logger.Warn("publish shutdown event failed", zap.Error(err))
			}

			if l.stopInputs != nil {
				l.stopInputs()
			}
			l.set.Stop()
			if err := l.set.DisengageAll(); err != nil {
				l.logger.Error("disengage on shutdown failed", zap.Error(err))
			}
			l.supply.release()
			return nil

		case e := <-events:
			l.logger.Info("event",
				zap.String("actuator", e.Actuator),
				zap.String("type", string(e.Type)),
				zap.String("state", string(e.State)),
				zap.Int("power", e.Power))
			if err := l.publisher.Publish(e); err != nil {
				l.logger.Warn("publish error", zap.Error(err))
			}
			if l.hub != nil {
				if ctrl, err := l.set.Get(e.Actuator); err == nil {
					info := status.ActuatorInfos([]actuator.Status{ctrl.Status()})[0]
					l.hub.Broadcast(web.ActuatorMessage(e, status.Actuator(info)))
				}
			}
			refresh(l.tracker, l.set, l.driver, l.mqttStatus)

		case <-tick:
			t := l.now()
			l.supply.ensure()
			refresh(l.tracker, l.set, l.driver, l.mqttStatus)

			if hbData := hb.Check(t); hbData != nil {
				if net := readNetworkInfo(); net != nil {
					l.tracker.SetNetwork(net)
				}
				snap := l.tracker.Snapshot()
				l.logger.Info("heartbeat", zap.Duration("uptime", hbData.Uptime))
				if err := l.publisher.PublishSystem(mqtt.SystemEvent{
					Timestamp:  hbData.Timestamp,
					Event:      "HEARTBEAT",
					RawPayload: status.FormatStatusEvent(snap, "HEARTBEAT", ""),
				}); err != nil {
					l.logger.Warn("heartbeat publish error", zap.Error(err))
				}
			}
		}
	}
}
