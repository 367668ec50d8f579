//go:build linux

package power

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"golang.org/x/sys/unix"
)

// Linux resets the machine through the kernel.
type Linux struct {
	WakeAlarmPath string
	SleepPath     string
}

// NewLinux returns a Linux resetter using the default sysfs paths.
func NewLinux() *Linux {
	return &Linux{WakeAlarmPath: DefaultWakeAlarmPath, SleepPath: DefaultSleepPath}
}

// Restart flushes filesystems and reboots.
func (l *Linux) Restart() error {
	unix.Sync()
	if err := unix.Reboot(unix.LINUX_REBOOT_CMD_RESTART); err != nil {
		return fmt.Errorf("reboot: %w", err)
	}
	return nil
}

// DeepSleep arms the RTC to wake the board after d, suspends to RAM, and
// restarts on resume so the next run starts from a clean boot path.
func (l *Linux) DeepSleep(d time.Duration) error {
	secs := int64(d / time.Second)
	if secs < 1 {
		secs = 1
	}
	// The alarm must be cleared before it can be re-armed.
	if err := os.WriteFile(l.WakeAlarmPath, []byte("0"), 0); err != nil {
		return fmt.Errorf("clear wake alarm: %w", err)
	}
	if err := os.WriteFile(l.WakeAlarmPath, []byte("+"+strconv.FormatInt(secs, 10)), 0); err != nil {
		return fmt.Errorf("arm wake alarm: %w", err)
	}
	unix.Sync()
	if err := os.WriteFile(l.SleepPath, []byte("mem"), 0); err != nil {
		return fmt.Errorf("suspend: %w", err)
	}
	return l.Restart()
}
