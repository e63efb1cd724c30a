package bus

import "sync"

// Write is one recorded bus transaction.
type Write struct {
	Addr  uint16
	Value uint8
}

// FakeWriter is a test double that records every write.
// Unlike the real bus it is safe to inspect while writers are running.
type FakeWriter struct {
	mu sync.Mutex

	writes []Write

	// WriteError, if set, is returned by WriteRegister. The write is still recorded
	// in Failed so tests can see what was attempted.
	WriteError error

	// Failed contains writes that returned WriteError.
	Failed []Write

	// OnWrite, if set, is called for every write before it is recorded,
	// while the fake's lock is NOT held.
	OnWrite func(w Write)

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeWriter creates an empty FakeWriter.
func NewFakeWriter() *FakeWriter {
	return &FakeWriter{}
}

// WriteRegister records the write or returns the scripted error.
func (f *FakeWriter) WriteRegister(addr uint16, value uint8) error {
	w := Write{Addr: addr, Value: value}

	f.mu.Lock()
	hook := f.OnWrite
	f.mu.Unlock()
	if hook != nil {
		hook(w)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.WriteError != nil {
		f.Failed = append(f.Failed, w)
		return f.WriteError
	}
	f.writes = append(f.writes, w)
	return nil
}

// SetWriteError changes the scripted error while writers may be running.
func (f *FakeWriter) SetWriteError(err error) {
	f.mu.Lock()
	f.WriteError = err
	f.mu.Unlock()
}

// Writes returns a copy of the successful writes in order.
func (f *FakeWriter) Writes() []Write {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Write, len(f.writes))
	copy(out, f.writes)
	return out
}

// WritesTo returns the values written to addr in order.
func (f *FakeWriter) WritesTo(addr uint16) []uint8 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []uint8
	for _, w := range f.writes {
		if w.Addr == addr {
			out = append(out, w.Value)
		}
	}
	return out
}

// Last returns the latest value written to addr.
func (f *FakeWriter) Last(addr uint16) (uint8, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.writes) - 1; i >= 0; i-- {
		if f.writes[i].Addr == addr {
			return f.writes[i].Value, true
		}
	}
	return 0, false
}

// Close marks the writer as closed.
func (f *FakeWriter) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// Reset clears recorded writes and scripted errors.
func (f *FakeWriter) Reset() {
	f.mu.Lock()
	f.writes = nil
	f.Failed = nil
	f.WriteError = nil
	f.Closed = false
	f.mu.Unlock()
}
