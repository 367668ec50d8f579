package gpio

import (
	"errors"
	"testing"
)

func TestFakeOutputSet(t *testing.T) {
	f := NewFakeOutput()

	if f.On() {
		t.Error("should start de-energized")
	}

	if err := f.Set(true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !f.On() {
		t.Error("expected on after Set(true)")
	}

	if err := f.Set(false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.On() {
		t.Error("expected off after Set(false)")
	}

	writes := f.Writes()
	if len(writes) != 2 || writes[0] != true || writes[1] != false {
		t.Errorf("expected writes [true false], got %v", writes)
	}
}

func TestFakeOutputFail(t *testing.T) {
	f := NewFakeOutput()
	f.Fail(1, errors.New("simulated error"))

	err := f.Set(true)
	if err == nil || err.Error() != "simulated error" {
		t.Fatalf("expected simulated error, got %v", err)
	}
	if f.On() {
		t.Error("failed write should not change level")
	}

	if err := f.Set(true); err != nil {
		t.Fatalf("second write should succeed: %v", err)
	}
	if !f.On() {
		t.Error("expected on after successful write")
	}
}

func TestFakeOutputFailIndefinitely(t *testing.T) {
	f := NewFakeOutput()
	f.Fail(-1, errors.New("line busy"))

	for i := 0; i < 3; i++ {
		if err := f.Set(false); err == nil {
			t.Fatalf("write %d: expected error", i)
		}
	}
	if len(f.Writes()) != 0 {
		t.Error("no write should be recorded")
	}
}

func TestFakeOutputClose(t *testing.T) {
	f := NewFakeOutput()
	f.Set(true)

	if f.Closed() {
		t.Error("should not be closed initially")
	}

	if err := f.Close(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	if !f.Closed() {
		t.Error("should be closed after Close()")
	}
	if f.On() {
		t.Error("Close should de-energize")
	}
}
