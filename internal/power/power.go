// Package power carries out device resets and low-power sleep.
// The real implementation uses the Linux reboot syscall and the RTC wake
// alarm. The fake implementation records calls for tests.
package power

import (
	"sync"
	"time"
)

// Default sysfs paths.
const (
	DefaultWakeAlarmPath = "/sys/class/rtc/rtc0/wakealarm"
	DefaultSleepPath     = "/sys/power/state"
)

// Fake records reset requests instead of performing them.
type Fake struct {
	mu       sync.Mutex
	restarts int
	sleeps   []time.Duration
	err      error
}

// NewFake returns a Fake that succeeds.
func NewFake() *Fake {
	return &Fake{}
}

// Restart records a restart.
func (f *Fake) Restart() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.restarts++
	return nil
}

// DeepSleep records a sleep of d.
func (f *Fake) DeepSleep(d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sleeps = append(f.sleeps, d)
	return nil
}

// SetError makes subsequent calls fail with err.
func (f *Fake) SetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Restarts returns how many restarts were performed.
func (f *Fake) Restarts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.restarts
}

// Sleeps returns the requested sleep durations in order.
func (f *Fake) Sleeps() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Duration, len(f.sleeps))
	copy(out, f.sleeps)
	return out
}
