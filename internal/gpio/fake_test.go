package gpio

import (
	"errors"
	"testing"
)

func TestFakeLineRecordsValues(t *testing.T) {
	f := NewFakeLine()

	if f.Active() {
		t.Error("should be inactive before any Set")
	}

	f.Set(true)
	f.Set(false)
	f.Set(true)

	got := f.Values()
	if len(got) != 3 || !got[0] || got[1] || !got[2] {
		t.Errorf("expected [true false true], got %v", got)
	}
	if !f.Active() {
		t.Error("expected active after last Set(true)")
	}
}

func TestFakeLineError(t *testing.T) {
	f := NewFakeLine()
	f.SetError = errors.New("simulated error")

	err := f.Set(true)
	if err == nil || err.Error() != "simulated error" {
		t.Errorf("unexpected error: %v", err)
	}
	if len(f.Values()) != 0 {
		t.Error("failed Set should not be recorded")
	}
}

func TestFakeLineClose(t *testing.T) {
	f := NewFakeLine()

	if f.Closed {
		t.Error("should not be closed initially")
	}
	if err := f.Close(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if !f.Closed {
		t.Error("should be closed after Close()")
	}
}

func TestNopLine(t *testing.T) {
	var l Line = NopLine{}
	if err := l.Set(true); err != nil {
		t.Errorf("Set: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
