package logic

import (
	"testing"
	"time"
)

func TestWatering_RunAndStop(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	w := NewWatering(5*time.Second, 30*time.Minute)

	if a := w.Decide(now, SoilDry, true, false); a != ActionStart {
		t.Fatalf("expected start, got %v", a)
	}
	w.Started(now)
	if !w.Running() {
		t.Error("expected running")
	}

	if a := w.Decide(now.Add(4*time.Second), SoilDry, true, true); a != ActionNone {
		t.Errorf("expected none mid-run, got %v", a)
	}
	if a := w.Decide(now.Add(5*time.Second), SoilDry, true, true); a != ActionStop {
		t.Errorf("expected stop at duration, got %v", a)
	}
	if w.Running() {
		t.Error("expected run finished")
	}
}

func TestWatering_MinGap(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	w := NewWatering(5*time.Second, 30*time.Minute)
	w.Started(now)
	w.Decide(now.Add(5*time.Second), SoilDry, true, true)

	if a := w.Decide(now.Add(10*time.Minute), SoilDry, true, false); a != ActionNone {
		t.Errorf("expected no restart inside gap, got %v", a)
	}
	if a := w.Decide(now.Add(30*time.Minute), SoilDry, true, false); a != ActionStart {
		t.Errorf("expected restart after gap, got %v", a)
	}
}

func TestWatering_Guards(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		w       *Watering
		soil    SoilState
		enabled bool
		pumpOn  bool
	}{
		{"wet soil", NewWatering(5*time.Second, 0), SoilWet, true, false},
		{"not baselined", NewWatering(5*time.Second, 0), "", true, false},
		{"disabled", NewWatering(5*time.Second, 0), SoilDry, false, false},
		{"pump already on", NewWatering(5*time.Second, 0), SoilDry, true, true},
		{"zero duration", NewWatering(0, 0), SoilDry, true, false},
	}
	for _, tt := range tests {
		if a := tt.w.Decide(now, tt.soil, tt.enabled, tt.pumpOn); a != ActionNone {
			t.Errorf("%s: expected none, got %v", tt.name, a)
		}
	}
}

func TestWatering_StoppedElsewhere(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	w := NewWatering(time.Minute, time.Hour)
	w.Started(now)

	if a := w.Decide(now.Add(time.Second), SoilDry, true, false); a != ActionNone {
		t.Errorf("expected none when pump stopped externally, got %v", a)
	}
	if w.Running() {
		t.Error("run should be abandoned")
	}
}
