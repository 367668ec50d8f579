// Package watchdog feeds the hardware watchdog so long downloads do not
// trip it.
package watchdog

import (
	"fmt"
	"os"
	"sync"

	"github.com/sweeney/bonsai-node/internal/logger"
)

// DefaultDevice is the Linux watchdog character device.
const DefaultDevice = "/dev/watchdog"

// Kicker resets the watchdog timer.
type Kicker interface {
	Kick()
}

// Device is an open watchdog device.
type Device struct {
	mu  sync.Mutex
	f   *os.File
	log *logger.Logger
}

// Open opens path. The watchdog is armed from this point on.
func Open(path string, log *logger.Logger) (*Device, error) {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open watchdog %s: %w", path, err)
	}
	return &Device{f: f, log: log}, nil
}

// Kick feeds the watchdog. Write errors are logged, not returned.
func (d *Device) Kick() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f == nil {
		return
	}
	if _, err := d.f.Write([]byte{'k'}); err != nil {
		d.log.Warnw("watchdog kick failed", "error", err)
	}
}

// Close disarms the watchdog with the magic close character and releases
// the device.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f == nil {
		return nil
	}
	_, werr := d.f.Write([]byte{'V'})
	err := d.f.Close()
	d.f = nil
	if werr != nil {
		return fmt.Errorf("disarm watchdog: %w", werr)
	}
	return err
}

// Nop is used when no watchdog device is configured.
type Nop struct{}

func (Nop) Kick() {}

// Counter counts kicks. Used by tests.
type Counter struct {
	mu sync.Mutex
	n  int
}

func (c *Counter) Kick() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

// Kicks returns the number of kicks so far.
func (c *Counter) Kicks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
