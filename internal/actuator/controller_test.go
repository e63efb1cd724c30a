package actuator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/pcf-relay/internal/expander"
	"github.com/sweeney/pcf-relay/internal/logic"
)

// timeline records pin writes and sleeps in the order they happen.
type timeline struct {
	mu      sync.Mutex
	entries []string
	sleeps  []time.Duration

	// afterSleep runs after the n-th sleep (1-based) was recorded.
	afterSleep func(n int)

	// failWrites makes every SetPin return a bus error.
	failWrites bool
}

func (tl *timeline) SetPin(addr uint16, pin int, level logic.Level) error {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	tl.entries = append(tl.entries, fmt.Sprintf("p%d=%s", pin, level))
	if tl.failWrites {
		return fmt.Errorf("%w: simulated", expander.ErrBusWrite)
	}
	return nil
}

func (tl *timeline) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tl.mu.Lock()
	tl.entries = append(tl.entries, "sleep "+d.String())
	tl.sleeps = append(tl.sleeps, d)
	n := len(tl.sleeps)
	hook := tl.afterSleep
	tl.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	return ctx.Err()
}

func (tl *timeline) snapshot() []string {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	out := make([]string, len(tl.entries))
	copy(out, tl.entries)
	return out
}

func (tl *timeline) sleepDurations() []time.Duration {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	out := make([]time.Duration, len(tl.sleeps))
	copy(out, tl.sleeps)
	return out
}

func testConfig() Config {
	return Config{
		Name:         "kettle",
		Address:      0x20,
		Pin:          0,
		SamplePeriod: 2 * time.Second,
	}
}

func newTestController(t *testing.T, cfg Config, tl *timeline, opts ...Option) *Controller {
	t.Helper()
	opts = append([]Option{WithSleeper(tl)}, opts...)
	c, err := New(cfg, tl, zap.NewNop(), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

// runUntil runs the loop and cancels it after n sleeps.
func runUntil(t *testing.T, c *Controller, tl *timeline, n int, extra func(n int)) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tl.mu.Lock()
	tl.afterSleep = func(k int) {
		if extra != nil {
			extra(k)
		}
		if k >= n {
			cancel()
		}
	}
	tl.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("control loop did not stop")
	}
}

func assertEntries(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("timeline:\ngot  %q\nwant %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d: got %q, want %q\nfull: %q", i, got[i], want[i], got)
		}
	}
}

func TestNewValidates(t *testing.T) {
	cfg := testConfig()
	cfg.Pin = 9
	if _, err := New(cfg, &timeline{}, zap.NewNop()); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestInitialState(t *testing.T) {
	tl := &timeline{}
	c := newTestController(t, testConfig(), tl)

	if c.Engaged() || c.Power() != 0 {
		t.Errorf("new controller: engaged=%v power=%d, want idle", c.Engaged(), c.Power())
	}
	if len(tl.snapshot()) != 0 {
		t.Error("New should not touch the pin")
	}
}

func TestResetDrivesDisengagedLevel(t *testing.T) {
	tl := &timeline{}
	c := newTestController(t, testConfig(), tl)
	c.Engage(70)

	if err := c.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if c.Engaged() || c.Power() != 0 {
		t.Error("Reset should leave the actuator idle")
	}
	got := tl.snapshot()
	if got[len(got)-1] != "p0=LOW" {
		t.Errorf("last write: got %q, want p0=LOW", got[len(got)-1])
	}
}

func TestEngageFullThenDisengage(t *testing.T) {
	for _, period := range SamplePeriods {
		t.Run(period.String(), func(t *testing.T) {
			tl := &timeline{}
			cfg := testConfig()
			cfg.SamplePeriod = period
			c := newTestController(t, cfg, tl)

			c.Engage(100)
			c.Disengage()

			assertEntries(t, tl.snapshot(), []string{"p0=HIGH", "p0=LOW"})
			if c.Engaged() || c.Power() != 0 {
				t.Errorf("after disengage: engaged=%v power=%d", c.Engaged(), c.Power())
			}
		})
	}
}

func TestEngageFullThenDisengageWithLoop(t *testing.T) {
	tl := &timeline{}
	c := newTestController(t, testConfig(), tl)
	c.Engage(100)
	c.Disengage()

	runUntil(t, c, tl, 2, nil)

	assertEntries(t, tl.snapshot(), []string{"p0=HIGH", "p0=LOW", "sleep 1s", "sleep 1s"})
}

func TestHalfPowerCycle(t *testing.T) {
	tl := &timeline{}
	c := newTestController(t, testConfig(), tl)
	c.Engage(50)

	runUntil(t, c, tl, 2, nil)

	assertEntries(t, tl.snapshot(), []string{
		"p0=HIGH", // engage
		"p0=HIGH", "sleep 1s",
		"p0=LOW", "sleep 1s",
	})
}

func TestFullPowerHasNoOffPhase(t *testing.T) {
	tl := &timeline{}
	c := newTestController(t, testConfig(), tl)
	c.Engage(100)

	runUntil(t, c, tl, 3, nil)

	assertEntries(t, tl.snapshot(), []string{
		"p0=HIGH",
		"p0=HIGH", "sleep 2s",
		"p0=HIGH", "sleep 2s",
		"p0=HIGH", "sleep 2s",
	})
}

func TestZeroPowerWhileEngagedIsIdle(t *testing.T) {
	tl := &timeline{}
	c := newTestController(t, testConfig(), tl)
	c.Engage(80)
	c.SetPower(0)

	runUntil(t, c, tl, 3, nil)

	if !c.Engaged() {
		t.Error("SetPower(0) should not disengage")
	}
	assertEntries(t, tl.snapshot(), []string{"p0=HIGH", "sleep 1s", "sleep 1s", "sleep 1s"})
}

func TestDisengagedIsIdle(t *testing.T) {
	tl := &timeline{}
	c := newTestController(t, testConfig(), tl, WithIdlePoll(250*time.Millisecond))

	runUntil(t, c, tl, 4, nil)

	for _, d := range tl.sleepDurations() {
		if d != 250*time.Millisecond {
			t.Errorf("idle sleep: got %v, want 250ms", d)
		}
	}
	for _, e := range tl.snapshot() {
		if e[0] == 'p' {
			t.Errorf("idle loop wrote %q", e)
		}
	}
}

func TestPowerChangeAppliesNextIteration(t *testing.T) {
	tl := &timeline{}
	c := newTestController(t, testConfig(), tl)
	c.Engage(50)

	runUntil(t, c, tl, 4, func(n int) {
		if n == 1 {
			c.SetPower(25)
		}
	})

	got := tl.sleepDurations()
	want := []time.Duration{time.Second, time.Second, 500 * time.Millisecond, 1500 * time.Millisecond}
	if len(got) != len(want) {
		t.Fatalf("sleeps: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sleep %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestDisengageDuringOnPhase(t *testing.T) {
	tl := &timeline{}
	c := newTestController(t, testConfig(), tl)
	c.Engage(50)

	runUntil(t, c, tl, 3, func(n int) {
		if n == 1 {
			c.Disengage()
		}
	})

	// The off-phase write is skipped: Disengage already drove the pin.
	assertEntries(t, tl.snapshot(), []string{
		"p0=HIGH",
		"p0=HIGH", "sleep 1s",
		"p0=LOW",
		"sleep 1s",
		"sleep 1s",
	})
}

func TestDisengageDuringOffPhaseNeverReengages(t *testing.T) {
	tl := &timeline{}
	c := newTestController(t, testConfig(), tl)
	c.Engage(50)

	runUntil(t, c, tl, 4, func(n int) {
		if n == 2 {
			c.Disengage()
		}
	})

	got := tl.snapshot()
	seenOff := false
	for i, e := range got {
		if i > 0 && e == "p0=LOW" {
			seenOff = true
		}
		if seenOff && e == "p0=HIGH" {
			t.Fatalf("relay re-engaged after disengage: %q", got)
		}
	}
}

func TestInvertedPolarity(t *testing.T) {
	tl := &timeline{}
	cfg := testConfig()
	cfg.Inverted = true
	cfg.Pin = 5
	c := newTestController(t, cfg, tl)

	c.Reset()
	c.Engage(50)
	runUntil(t, c, tl, 2, nil)

	assertEntries(t, tl.snapshot(), []string{
		"p5=HIGH", // reset: disengaged is HIGH
		"p5=LOW",  // engage
		"p5=LOW", "sleep 1s",
		"p5=HIGH", "sleep 1s",
	})
}

func TestBusErrorsDoNotStopLoop(t *testing.T) {
	tl := &timeline{failWrites: true}
	c := newTestController(t, testConfig(), tl)

	if err := c.Engage(50); !errors.Is(err, expander.ErrBusWrite) {
		t.Errorf("Engage: expected ErrBusWrite, got %v", err)
	}
	if !c.Engaged() {
		t.Error("failed write should keep the engaged intent")
	}

	runUntil(t, c, tl, 4, nil)

	if n := len(tl.sleepDurations()); n != 4 {
		t.Errorf("loop should keep cycling on bus errors, got %d sleeps", n)
	}
}

func TestSetPowerClampsAndNotifies(t *testing.T) {
	var events []logic.Event
	tl := &timeline{}
	at := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := newTestController(t, testConfig(), tl,
		WithNotifier(func(e logic.Event) { events = append(events, e) }),
		WithClock(func() time.Time { return at }))

	c.Engage(60)
	if got := c.SetPower(60); got != 60 {
		t.Errorf("SetPower(60) = %d", got)
	}
	if got := c.SetPower(150); got != 100 {
		t.Errorf("SetPower(150) = %d, want 100", got)
	}
	if got := c.SetPower(-3); got != 0 {
		t.Errorf("SetPower(-3) = %d, want 0", got)
	}
	c.Disengage()

	want := []logic.Event{
		{Timestamp: at, Type: logic.EventEngaged, Actuator: "kettle", State: logic.StateOn, Power: 60},
		{Timestamp: at, Type: logic.EventPower, Actuator: "kettle", State: logic.StateOn, Power: 100},
		{Timestamp: at, Type: logic.EventPower, Actuator: "kettle", State: logic.StateOn, Power: 0},
		{Timestamp: at, Type: logic.EventDisengaged, Actuator: "kettle", State: logic.StateOff, Power: 0},
	}
	if len(events) != len(want) {
		t.Fatalf("events: got %+v", events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event %d: got %+v, want %+v", i, events[i], want[i])
		}
	}

	counts := c.Status().Counts
	if counts.Engaged != 1 || counts.Disengaged != 1 || counts.Power != 2 {
		t.Errorf("counts: got %+v", counts)
	}
}

func TestSetPowerWhileIdle(t *testing.T) {
	tl := &timeline{}
	c := newTestController(t, testConfig(), tl)

	c.SetPower(40)

	if c.Engaged() {
		t.Error("SetPower should not engage")
	}
	if c.Power() != 40 {
		t.Errorf("power: got %d, want 40", c.Power())
	}
	if len(tl.snapshot()) != 0 {
		t.Error("SetPower should not write the pin")
	}
}

func TestEngageClamps(t *testing.T) {
	tl := &timeline{}
	c := newTestController(t, testConfig(), tl)

	c.Engage(250)

	if c.Power() != 100 {
		t.Errorf("power: got %d, want 100", c.Power())
	}
}

func TestRunStopsPromptlyWithTimer(t *testing.T) {
	c, err := New(testConfig(), &timeline{}, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.Engage(50)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	start := time.Now()
	cancel()

	select {
	case <-done:
		if d := time.Since(start); d > 500*time.Millisecond {
			t.Errorf("loop took %v to stop", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("control loop ignored cancellation during a 1s sleep")
	}
}

func TestStatus(t *testing.T) {
	tl := &timeline{}
	c := newTestController(t, testConfig(), tl)
	c.Engage(30)

	st := c.Status()
	if st.Name != "kettle" || st.Address != 0x20 || !st.Engaged || st.Power != 30 {
		t.Errorf("status: got %+v", st)
	}
}
