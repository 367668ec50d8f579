// Package pump is the actuator safety controller. It is the only writer of
// the pump relay line and enforces a hard ceiling on continuous run time.
package pump

import (
	"sync"
	"time"

	"github.com/sweeney/bonsai-node/internal/clock"
	"github.com/sweeney/bonsai-node/internal/logger"
)

// DefaultMaxRun is the longest the pump may run continuously.
const DefaultMaxRun = 60 * time.Second

// Output drives the physical relay line. true energizes the pump.
type Output interface {
	Set(on bool) error
}

// State is the controller state. Times are monotonic uptime offsets.
type State struct {
	IsOn          bool
	StartedAt     time.Duration
	LastChangedAt time.Duration
	EmergencyStop bool
}

// Event is raised when the controller forces the pump off.
type Event struct {
	// RanFor is how long the pump had been running.
	RanFor time.Duration
	// At is the uptime at which it was stopped.
	At time.Duration
}

// Controller is the actuator safety controller.
//
// Controller is safe for concurrent use.
type Controller struct {
	out    Output
	clk    clock.Clock
	maxRun time.Duration
	log    *logger.Logger

	mu sync.Mutex
	st State
	// offPending is set while a de-energize write has not succeeded.
	offPending bool
	event      *Event
}

// New returns a controller driving out. maxRun <= 0 selects DefaultMaxRun.
func New(out Output, clk clock.Clock, maxRun time.Duration, log *logger.Logger) *Controller {
	if maxRun <= 0 {
		maxRun = DefaultMaxRun
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Controller{out: out, clk: clk, maxRun: maxRun, log: log}
}

// MaxRun returns the run-time ceiling.
func (c *Controller) MaxRun() time.Duration { return c.maxRun }

// Begin drives the line to de-energized.
func (c *Controller) Begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.st = State{LastChangedAt: c.clk.Uptime()}
	return c.deenergizeLocked()
}

// TurnOn starts the pump. It is refused while running or emergency stopped.
func (c *Controller) TurnOn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.enforceLocked()
	if c.st.IsOn || c.st.EmergencyStop {
		return false
	}
	if err := c.out.Set(true); err != nil {
		c.log.Errorw("pump energize failed", "error", err)
		_ = c.deenergizeLocked()
		return false
	}
	now := c.clk.Uptime()
	c.st.IsOn = true
	c.st.StartedAt = now
	c.st.LastChangedAt = now
	c.log.Infow("pump on")
	return true
}

// TurnOff stops the pump. It returns false if the pump was not running or
// the line could not be driven; a failed write is retried by Tick.
func (c *Controller) TurnOff() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.enforceLocked()
	wasOn := c.st.IsOn
	if wasOn {
		c.st.IsOn = false
		c.st.LastChangedAt = c.clk.Uptime()
	}
	if err := c.deenergizeLocked(); err != nil {
		return false
	}
	if wasOn {
		c.log.Infow("pump off")
	}
	return wasOn
}

// State reports whether the pump is running.
func (c *Controller) State() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enforceLocked()
	return c.st.IsOn
}

// Status returns a copy of the full state.
func (c *Controller) Status() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enforceLocked()
	return c.st
}

// IsEmergencyStop reports whether the ceiling tripped and has not been
// cleared.
func (c *Controller) IsEmergencyStop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enforceLocked()
	return c.st.EmergencyStop
}

// ClearEmergencyStop re-arms the controller. It returns false if no
// emergency stop was active.
func (c *Controller) ClearEmergencyStop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.st.EmergencyStop {
		return false
	}
	c.st.EmergencyStop = false
	c.st.LastChangedAt = c.clk.Uptime()
	c.log.Infow("emergency stop cleared")
	return true
}

// Tick enforces the run-time ceiling and retries a failed de-energize. It
// must run every loop iteration. The forced stop is returned exactly once.
func (c *Controller) Tick() (Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.enforceLocked()
	if c.offPending && !c.st.IsOn {
		_ = c.deenergizeLocked()
	}
	if c.event == nil {
		return Event{}, false
	}
	ev := *c.event
	c.event = nil
	return ev, true
}

// SetState restores a state captured before a sleep transition, bypassing
// the TurnOn guards. Turning on re-arms the ceiling from now.
func (c *Controller) SetState(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(on, 0)
}

func (c *Controller) setLocked(on bool, elapsed time.Duration) {
	now := c.clk.Uptime()
	if !on {
		c.st.IsOn = false
		c.st.LastChangedAt = now
		_ = c.deenergizeLocked()
		return
	}
	if err := c.out.Set(true); err != nil {
		c.log.Errorw("pump energize failed", "error", err)
		_ = c.deenergizeLocked()
		return
	}
	c.st.IsOn = true
	c.st.EmergencyStop = false
	c.st.StartedAt = now - elapsed
	c.st.LastChangedAt = now
}

// enforceLocked forces the pump off once it has run longer than maxRun.
func (c *Controller) enforceLocked() {
	if !c.st.IsOn {
		return
	}
	now := c.clk.Uptime()
	ranFor := now - c.st.StartedAt
	if ranFor <= c.maxRun {
		return
	}
	c.st.IsOn = false
	c.st.EmergencyStop = true
	c.st.LastChangedAt = now
	_ = c.deenergizeLocked()
	c.event = &Event{RanFor: ranFor, At: now}
	c.log.Errorw("pump exceeded run-time ceiling, emergency stop", "ran_for", ranFor, "max", c.maxRun)
}

func (c *Controller) deenergizeLocked() error {
	if err := c.out.Set(false); err != nil {
		c.offPending = true
		c.log.Errorw("pump de-energize failed, will retry", "error", err)
		return err
	}
	c.offPending = false
	return nil
}
