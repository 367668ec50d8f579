package clock

import (
	"sync"
	"time"
)

// FakeClock is a deterministic Clock for tests. Time stands still until
// Advance is called; Sleep advances the clock instead of blocking.
//
// FakeClock is safe for concurrent use.
type FakeClock struct {
	mu     sync.Mutex
	wall   time.Time
	synced bool
	uptime time.Duration
	slept  []time.Duration
}

// Fake returns a synchronised FakeClock at wall time start with zero uptime.
func Fake(start time.Time) *FakeClock {
	return &FakeClock{wall: start, synced: true}
}

// Now returns the fake wall time and whether it is marked synchronised.
func (c *FakeClock) Now() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wall, c.synced
}

// Uptime returns the fake monotonic uptime.
func (c *FakeClock) Uptime() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uptime
}

// Sleep records d and advances the clock by it.
func (c *FakeClock) Sleep(d time.Duration) {
	c.mu.Lock()
	c.slept = append(c.slept, d)
	c.mu.Unlock()
	c.Advance(d)
}

// Advance moves both wall time and uptime forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wall = c.wall.Add(d)
	c.uptime += d
}

// SetSynced marks the wall clock as synchronised or not.
func (c *FakeClock) SetSynced(ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.synced = ok
}

// Reboot simulates a process restart: uptime returns to zero while wall time
// keeps running.
func (c *FakeClock) Reboot() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.uptime = 0
}

// Slept returns the durations passed to Sleep, in call order.
func (c *FakeClock) Slept() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.slept))
	copy(out, c.slept)
	return out
}
