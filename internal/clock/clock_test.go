package clock

import (
	"testing"
	"time"
)

func TestFakeAdvanceMovesWallAndUptime(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := Fake(start)

	c.Advance(90 * time.Second)

	now, ok := c.Now()
	if !ok {
		t.Fatal("expected synced clock")
	}
	if !now.Equal(start.Add(90 * time.Second)) {
		t.Errorf("Now: got %v, want %v", now, start.Add(90*time.Second))
	}
	if c.Uptime() != 90*time.Second {
		t.Errorf("Uptime: got %v, want 90s", c.Uptime())
	}
}

func TestFakeRebootResetsUptimeOnly(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := Fake(start)
	c.Advance(time.Minute)
	c.Reboot()

	if c.Uptime() != 0 {
		t.Errorf("Uptime after reboot: got %v, want 0", c.Uptime())
	}
	now, _ := c.Now()
	if !now.Equal(start.Add(time.Minute)) {
		t.Errorf("wall time should survive reboot, got %v", now)
	}
}

func TestFakeSleepAdvancesAndRecords(t *testing.T) {
	c := Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c.Sleep(50 * time.Millisecond)
	c.Sleep(time.Second)

	slept := c.Slept()
	if len(slept) != 2 || slept[0] != 50*time.Millisecond || slept[1] != time.Second {
		t.Errorf("Slept: got %v", slept)
	}
	if c.Uptime() != 1050*time.Millisecond {
		t.Errorf("Uptime: got %v, want 1.05s", c.Uptime())
	}
}

func TestFakeUnsynced(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	c.SetSynced(false)
	if _, ok := c.Now(); ok {
		t.Error("expected unsynced clock")
	}
}

func TestRealUptimeIsMonotonic(t *testing.T) {
	c := Real()
	a := c.Uptime()
	b := c.Uptime()
	if b < a {
		t.Errorf("uptime went backwards: %v then %v", a, b)
	}
}
