package power

import (
	"errors"
	"testing"
	"time"
)

func TestFake_Records(t *testing.T) {
	f := NewFake()
	if err := f.Restart(); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	if err := f.DeepSleep(8 * time.Second); err != nil {
		t.Fatalf("DeepSleep: %v", err)
	}
	if f.Restarts() != 1 {
		t.Errorf("Restarts = %d, want 1", f.Restarts())
	}
	if got := f.Sleeps(); len(got) != 1 || got[0] != 8*time.Second {
		t.Errorf("Sleeps = %v", got)
	}
}

func TestFake_Error(t *testing.T) {
	f := NewFake()
	boom := errors.New("boom")
	f.SetError(boom)
	if err := f.Restart(); !errors.Is(err, boom) {
		t.Errorf("Restart err = %v, want boom", err)
	}
	if f.Restarts() != 0 {
		t.Error("failed restart should not be recorded")
	}
}
