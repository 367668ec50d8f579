// Package clock abstracts the two time sources the device depends on: a wall
// clock that may not be synchronised yet, and a monotonic uptime counter that
// restarts at zero with every process start.
//
// Production code takes a Clock instead of calling the time package so that
// governors and the pump controller can be driven by a Fake in tests.
package clock

import "time"

// Clock is the time collaborator.
type Clock interface {
	// Now returns wall-clock time. ok is false while the clock has not been
	// synchronised (for example before NTP completes after a cold boot).
	Now() (t time.Time, ok bool)

	// Uptime returns monotonic time elapsed since the process started.
	Uptime() time.Duration

	// Sleep pauses the caller for d.
	Sleep(d time.Duration)
}

// MinValidYear is the earliest year treated as a synchronised wall clock.
// A Pi without an RTC boots at the epoch or at the last fake-hwclock save.
const MinValidYear = 2024

// Real returns a Clock backed by the time package.
func Real() Clock {
	return &realClock{start: time.Now()}
}

type realClock struct {
	start time.Time
}

func (c *realClock) Now() (time.Time, bool) {
	t := time.Now()
	return t, t.Year() >= MinValidYear
}

func (c *realClock) Uptime() time.Duration {
	return time.Since(c.start)
}

func (c *realClock) Sleep(d time.Duration) {
	time.Sleep(d)
}
