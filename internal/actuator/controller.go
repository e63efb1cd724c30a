package actuator

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/pcf-relay/internal/bus"
	"github.com/sweeney/pcf-relay/internal/expander"
	"github.com/sweeney/pcf-relay/internal/logic"
)

// Sleeper waits for d or until ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type timerSleeper struct{}

func (timerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Notifier receives actuator changes. It is called synchronously and must
// not block.
type Notifier func(logic.Event)

// Option configures a Controller.
type Option func(*Controller)

// WithSleeper replaces the timer-based sleeper (tests).
func WithSleeper(s Sleeper) Option {
	return func(c *Controller) { c.sleeper = s }
}

// WithIdlePoll sets the wait used while there is nothing to switch.
func WithIdlePoll(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.idle = d
		}
	}
}

// WithNotifier registers the change callback.
func WithNotifier(n Notifier) Option {
	return func(c *Controller) { c.notify = n }
}

// WithClock sets the time source for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// Status is a point-in-time view of one actuator.
type Status struct {
	Config
	Engaged bool
	Power   int
	Counts  logic.EventCounts
}

// Controller converts a power setpoint into alternating pin writes.
//
// The per-actuator lock is held across a pin write, never across a sleep.
// Every loop write re-checks the engaged flag under that lock, so a loop
// phase computed before Disengage cannot switch the relay back on.
type Controller struct {
	cfg     Config
	pol     logic.Polarity
	pins    expander.PinDriver
	logger  *zap.Logger
	sleeper Sleeper
	idle    time.Duration
	notify  Notifier
	now     func() time.Time

	mu      sync.Mutex
	engaged bool
	power   int
	counts  logic.EventCounts
	stopped bool // no Engage or SetPower once set
}

// New validates cfg and creates an idle controller.
func New(cfg Config, pins expander.PinDriver, logger *zap.Logger, opts ...Option) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Controller{
		cfg:     cfg,
		pol:     logic.Polarity{Inverted: cfg.Inverted},
		pins:    pins,
		sleeper: timerSleeper{},
		idle:    DefaultIdlePoll,
		now:     time.Now,
		logger: logger.With(
			zap.String("actuator", cfg.Name),
			zap.String("chip", bus.FormatAddress(cfg.Address)),
			zap.String("pin", cfg.PinName())),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Name returns the configured name.
func (c *Controller) Name() string {
	return c.cfg.Name
}

// Config returns the immutable configuration.
func (c *Controller) Config() Config {
	return c.cfg
}

// Reset puts the relay into its disengaged state at power 0. It is called
// once before the control loop starts.
func (c *Controller) Reset() error {
	c.mu.Lock()
	c.engaged = false
	c.power = 0
	err := c.pins.SetPin(c.cfg.Address, c.cfg.Pin, c.pol.Disengaged())
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("initial disengage failed", zap.Error(err))
	}
	return err
}

// Engage switches the relay on at power percent (clamped to 0..100).
// The pin is driven immediately; a bus failure is returned but the actuator
// stays engaged so the next loop write retries. After the Set is stopped it
// returns ErrStopped and leaves the pin alone.
func (c *Controller) Engage(power int) error {
	power = logic.ClampPower(power)

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		c.logger.Warn("engage refused, actuator stopped", zap.Int("power", power))
		return ErrStopped
	}
	c.engaged = true
	c.power = power
	c.counts.Add(logic.EventEngaged)
	err := c.pins.SetPin(c.cfg.Address, c.cfg.Pin, c.pol.Engaged())
	c.mu.Unlock()

	c.logger.Info("engaged", zap.Int("power", power))
	if err != nil {
		c.logger.Warn("engage write failed", zap.Error(err))
	}
	c.emit(logic.EventEngaged, true, power)
	return err
}

// Disengage switches the relay off and resets power to 0.
func (c *Controller) Disengage() error {
	c.mu.Lock()
	c.engaged = false
	c.power = 0
	c.counts.Add(logic.EventDisengaged)
	err := c.pins.SetPin(c.cfg.Address, c.cfg.Pin, c.pol.Disengaged())
	c.mu.Unlock()

	c.logger.Info("disengaged")
	if err != nil {
		c.logger.Warn("disengage write failed", zap.Error(err))
	}
	c.emit(logic.EventDisengaged, false, 0)
	return err
}

// SetPower changes the setpoint without touching engagement. The new value
// applies from the next loop iteration. It returns the clamped value, or the
// unchanged setpoint once the Set is stopped.
func (c *Controller) SetPower(power int) int {
	power = logic.ClampPower(power)

	c.mu.Lock()
	if c.stopped {
		power = c.power
		c.mu.Unlock()
		return power
	}
	changed := power != c.power
	c.power = power
	engaged := c.engaged
	if changed {
		c.counts.Add(logic.EventPower)
	}
	c.mu.Unlock()

	if changed {
		c.logger.Info("power changed", zap.Int("power", power))
		c.emit(logic.EventPower, engaged, power)
	}
	return power
}

// setStopped gates Engage and SetPower. Disengage is always allowed.
func (c *Controller) setStopped(stopped bool) {
	c.mu.Lock()
	c.stopped = stopped
	c.mu.Unlock()
}

// Engaged reports the logical state.
func (c *Controller) Engaged() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engaged
}

// Power returns the current setpoint.
func (c *Controller) Power() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.power
}

// Status returns a snapshot.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Config:  c.cfg,
		Engaged: c.engaged,
		Power:   c.power,
		Counts:  c.counts,
	}
}

// Run executes the control loop until ctx is done. Changes made by Engage,
// Disengage and SetPower are picked up at the start of the next iteration;
// cancellation interrupts any wait immediately.
func (c *Controller) Run(ctx context.Context) {
	c.logger.Debug("control loop started", zap.Duration("period", c.cfg.SamplePeriod))
	defer c.logger.Debug("control loop stopped")

	for ctx.Err() == nil {
		c.mu.Lock()
		step := logic.NextStep(c.engaged, c.power, c.cfg.SamplePeriod, c.idle)
		c.mu.Unlock()

		if step.Idle {
			if c.sleeper.Sleep(ctx, step.IdleFor) != nil {
				return
			}
			continue
		}

		if step.On > 0 {
			c.drive(true)
			if c.sleeper.Sleep(ctx, step.On) != nil {
				return
			}
		}
		if step.Off > 0 {
			c.drive(false)
			if c.sleeper.Sleep(ctx, step.Off) != nil {
				return
			}
		}
	}
}

// drive writes one PWM phase unless the actuator was disengaged meanwhile.
// Bus failures are logged only; the next phase retries with the cumulative
// register value.
func (c *Controller) drive(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.engaged {
		return
	}
	err := c.pins.SetPin(c.cfg.Address, c.cfg.Pin, c.pol.For(on))
	switch {
	case err == nil:
	case errors.Is(err, expander.ErrBusWrite):
		c.logger.Warn("pwm write failed", zap.Bool("on", on), zap.Error(err))
	default:
		c.logger.Error("pwm write rejected", zap.Bool("on", on), zap.Error(err))
	}
}

func (c *Controller) emit(t logic.EventType, engaged bool, power int) {
	if c.notify == nil {
		return
	}
	c.notify(logic.Event{
		Timestamp: c.now(),
		Type:      t,
		Actuator:  c.cfg.Name,
		State:     logic.StateOf(engaged),
		Power:     power,
	})
}
