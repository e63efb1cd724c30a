package bus

import (
	"errors"
	"io"
	"sync"
	"testing"
)

func TestValidAddress(t *testing.T) {
	tests := []struct {
		addr uint16
		want bool
	}{
		{0x1F, false},
		{0x20, true},
		{0x27, true},
		{0x28, false},
		{0x37, false},
		{0x38, true},
		{0x3F, true},
		{0x40, false},
	}
	for _, tt := range tests {
		if got := ValidAddress(tt.addr); got != tt.want {
			t.Errorf("ValidAddress(0x%02x) = %v, want %v", tt.addr, got, tt.want)
		}
	}
}

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in      string
		want    uint16
		wantErr bool
	}{
		{"0x20", 0x20, false},
		{"0X27", 0x27, false},
		{" 0x38 ", 0x38, false},
		{"32", 0x20, false},
		{"0x3f", 0x3F, false},
		{"", 0, true},
		{"0x", 0, true},
		{"0x10", 0, true},
		{"0x100", 0, true},
		{"twenty", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseAddress(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseAddress(%q): expected error, got 0x%02x", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseAddress(%q): unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseAddress(%q) = 0x%02x, want 0x%02x", tt.in, got, tt.want)
		}
	}
}

func TestFormatAddress(t *testing.T) {
	if got := FormatAddress(0x20); got != "0x20" {
		t.Errorf("FormatAddress(0x20) = %q, want 0x20", got)
	}
	if got := FormatAddress(0x3F); got != "0x3f" {
		t.Errorf("FormatAddress(0x3f) = %q, want 0x3f", got)
	}
	for _, addr := range []uint16{0x20, 0x23, 0x38, 0x3F} {
		back, err := ParseAddress(FormatAddress(addr))
		if err != nil || back != addr {
			t.Errorf("round trip 0x%02x: got 0x%02x, err %v", addr, back, err)
		}
	}
}

var _ Writer = (*FakeWriter)(nil)

// The port method must not collide with io.ByteWriter's WriteByte(byte),
// which go vet's stdmethods check enforces.
func TestWriterIsNotByteWriter(t *testing.T) {
	var w any = NewFakeWriter()
	if _, ok := w.(io.ByteWriter); ok {
		t.Error("FakeWriter should not look like an io.ByteWriter")
	}
	if _, ok := w.(interface{ WriteByte(uint16, uint8) error }); ok {
		t.Error("FakeWriter still has a WriteByte method")
	}
}

func TestFakeWriterRecords(t *testing.T) {
	f := NewFakeWriter()

	if err := f.WriteRegister(0x20, 0xFF); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.WriteRegister(0x21, 0xFE); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.WriteRegister(0x20, 0xF7); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	writes := f.Writes()
	if len(writes) != 3 {
		t.Fatalf("expected 3 writes, got %d", len(writes))
	}
	if writes[1] != (Write{Addr: 0x21, Value: 0xFE}) {
		t.Errorf("write 1: got %+v", writes[1])
	}

	got := f.WritesTo(0x20)
	if len(got) != 2 || got[0] != 0xFF || got[1] != 0xF7 {
		t.Errorf("WritesTo(0x20): got %v", got)
	}

	last, ok := f.Last(0x20)
	if !ok || last != 0xF7 {
		t.Errorf("Last(0x20): got 0x%02x %v, want 0xf7 true", last, ok)
	}
	if _, ok := f.Last(0x22); ok {
		t.Error("Last(0x22): expected no write")
	}
}

func TestFakeWriterError(t *testing.T) {
	f := NewFakeWriter()
	f.WriteError = errors.New("nack")

	err := f.WriteRegister(0x20, 0x00)
	if err == nil || err.Error() != "nack" {
		t.Fatalf("expected nack error, got %v", err)
	}
	if len(f.Writes()) != 0 {
		t.Error("failed write should not be recorded as successful")
	}
	if len(f.Failed) != 1 {
		t.Errorf("expected 1 failed write, got %d", len(f.Failed))
	}

	f.SetWriteError(nil)
	if err := f.WriteRegister(0x20, 0x01); err != nil {
		t.Fatalf("unexpected error after clearing: %v", err)
	}
}

func TestFakeWriterOnWrite(t *testing.T) {
	f := NewFakeWriter()
	var seen []Write
	f.OnWrite = func(w Write) { seen = append(seen, w) }

	f.WriteRegister(0x24, 0xAA)

	if len(seen) != 1 || seen[0].Value != 0xAA {
		t.Errorf("OnWrite: got %v", seen)
	}
}

func TestFakeWriterConcurrent(t *testing.T) {
	f := NewFakeWriter()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint8) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				f.WriteRegister(0x20, v)
			}
		}(uint8(i))
	}
	wg.Wait()

	if n := len(f.Writes()); n != 400 {
		t.Errorf("expected 400 writes, got %d", n)
	}
}

func TestFakeWriterCloseAndReset(t *testing.T) {
	f := NewFakeWriter()
	f.WriteRegister(0x20, 0xFF)
	f.WriteError = errors.New("x")

	if err := f.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !f.Closed {
		t.Error("should be closed after Close()")
	}

	f.Reset()
	if f.Closed || f.WriteError != nil || len(f.Writes()) != 0 {
		t.Error("Reset should clear all state")
	}
}
