//go:build !linux

package power

import (
	"errors"
	"time"
)

var errUnsupported = errors.New("power: not supported on this platform (requires Linux)")

// Linux is not available on non-Linux platforms.
type Linux struct {
	WakeAlarmPath string
	SleepPath     string
}

// NewLinux returns a resetter whose methods always fail.
func NewLinux() *Linux {
	return &Linux{WakeAlarmPath: DefaultWakeAlarmPath, SleepPath: DefaultSleepPath}
}

// Restart is not implemented on non-Linux platforms.
func (l *Linux) Restart() error { return errUnsupported }

// DeepSleep is not implemented on non-Linux platforms.
func (l *Linux) DeepSleep(time.Duration) error { return errUnsupported }
