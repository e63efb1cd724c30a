package actuator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/sweeney/pcf-relay/internal/bus"
	"github.com/sweeney/pcf-relay/internal/expander"
)

// Set owns every configured actuator and their control loops.
type Set struct {
	ctrls  []*Controller
	byName map[string]*Controller
	logger *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewSet validates cfgs as a whole (unique names, unique chip/pin pairs) and
// creates one controller per entry, all sharing pins.
func NewSet(cfgs []Config, pins expander.PinDriver, logger *zap.Logger, opts ...Option) (*Set, error) {
	s := &Set{
		byName: make(map[string]*Controller, len(cfgs)),
		logger: logger,
	}
	type pinKey struct {
		addr uint16
		pin  int
	}
	owners := make(map[pinKey]string, len(cfgs))

	for _, cfg := range cfgs {
		if _, dup := s.byName[cfg.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate actuator name %q", ErrInvalidConfig, cfg.Name)
		}
		key := pinKey{cfg.Address, cfg.Pin}
		if other, dup := owners[key]; dup {
			return nil, fmt.Errorf("%w: %s and %s both use %s %s",
				ErrInvalidConfig, other, cfg.Name, bus.FormatAddress(cfg.Address), cfg.PinName())
		}
		c, err := New(cfg, pins, logger, opts...)
		if err != nil {
			return nil, err
		}
		owners[key] = cfg.Name
		s.byName[cfg.Name] = c
		s.ctrls = append(s.ctrls, c)
	}
	return s, nil
}

// Get returns the actuator called name.
func (s *Set) Get(name string) (*Controller, error) {
	c, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return c, nil
}

// All returns the actuators in configuration order.
func (s *Set) All() []*Controller {
	out := make([]*Controller, len(s.ctrls))
	copy(out, s.ctrls)
	return out
}

// Statuses returns a snapshot of every actuator in configuration order.
func (s *Set) Statuses() []Status {
	out := make([]Status, 0, len(s.ctrls))
	for _, c := range s.ctrls {
		out = append(out, c.Status())
	}
	return out
}

// Addresses returns the distinct chip addresses in ascending order.
func (s *Set) Addresses() []uint16 {
	seen := make(map[uint16]bool)
	var out []uint16
	for _, c := range s.ctrls {
		if !seen[c.cfg.Address] {
			seen[c.cfg.Address] = true
			out = append(out, c.cfg.Address)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Start disengages every actuator and launches the control loops.
// Bus failures during the initial disengage are logged and tolerated (the
// loops retry on their next write); it returns the number of such failures.
// Any other failure aborts the start.
func (s *Set) Start(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return 0, nil
	}

	failed := 0
	for _, c := range s.ctrls {
		c.setStopped(false)
		if err := c.Reset(); err != nil {
			if !errors.Is(err, expander.ErrBusWrite) {
				return failed, fmt.Errorf("reset %s: %w", c.Name(), err)
			}
			failed++
		}
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	for _, c := range s.ctrls {
		s.wg.Add(1)
		go func(c *Controller) {
			defer s.wg.Done()
			c.Run(loopCtx)
		}(c)
	}

	s.logger.Info("actuators started", zap.Int("count", len(s.ctrls)), zap.Int("bus_failures", failed))
	return failed, nil
}

// Stop cancels every loop and waits for them to exit. From then on Engage
// returns ErrStopped, so a command still in flight cannot switch a relay on
// behind DisengageAll.
func (s *Set) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	for _, c := range s.ctrls {
		c.setStopped(true)
	}
	s.cancel()
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("actuators stopped")
}

// DisengageAll switches every relay off, returning the first failure.
func (s *Set) DisengageAll() error {
	var first error
	for _, c := range s.ctrls {
		if err := c.Disengage(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
