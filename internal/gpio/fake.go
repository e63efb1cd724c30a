package gpio

import "sync"

// FakeLine records every level it is driven to.
type FakeLine struct {
	mu     sync.Mutex
	values []bool

	// SetError, if set, is returned by Set and the value is not recorded.
	SetError error

	Closed bool
}

// NewFakeLine creates an idle FakeLine.
func NewFakeLine() *FakeLine {
	return &FakeLine{}
}

func (f *FakeLine) Set(active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetError != nil {
		return f.SetError
	}
	f.values = append(f.values, active)
	return nil
}

// Values returns a copy of the recorded levels.
func (f *FakeLine) Values() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]bool, len(f.values))
	copy(out, f.values)
	return out
}

// Active reports the last level driven, false if never set.
func (f *FakeLine) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.values) == 0 {
		return false
	}
	return f.values[len(f.values)-1]
}

// Close marks the line as closed.
func (f *FakeLine) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}
