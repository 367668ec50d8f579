// Package reboot arbitrates every device reset. It records each boot,
// detects boot storms and enters safe mode, and accepts or refuses reboot
// requests by severity, uptime and a persisted strike backoff.
package reboot

import (
	"fmt"
	"sync"
	"time"

	"github.com/sweeney/bonsai-node/internal/clock"
	"github.com/sweeney/bonsai-node/internal/logger"
	"github.com/sweeney/bonsai-node/internal/store"
)

// Namespace is the store namespace owned by the Governor.
const Namespace = "rebooter"

// Tuning.
const (
	Window            = 10 * time.Minute
	StormBoots        = 3
	DefaultMinUptime  = 20 * time.Second
	MaxStrikes        = 6
	NormalBackoff     = 15 * time.Second
	DeepBackoff       = 60 * time.Second
	DeepSleepDuration = 8 * time.Second
	FlushDelay        = 50 * time.Millisecond
)

// Persisted keys.
const (
	keyBootCount    = "boot_count"
	keyWindowStart  = "win_start"
	keyWindowCount  = "win_count"
	keySafeMode     = "safe_mode"
	keyNextOK       = "next_ok"
	keyStrikes      = "rb_strikes"
	keyLastReason   = "last_reason"
	keyPendingReset = "pending_reset"
	keyCleanExit    = "clean_exit"
)

// Severity ranks a reboot request.
type Severity int

const (
	// SeverityNormal restarts after the strike backoff.
	SeverityNormal Severity = iota
	// SeverityDeep enters low-power sleep instead of restarting, with a
	// longer backoff.
	SeverityDeep
	// SeverityCritical always proceeds. Reserved for operator commands.
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityNormal:
		return "normal"
	case SeverityDeep:
		return "deep"
	case SeverityCritical:
		return "critical"
	}
	return fmt.Sprintf("severity(%d)", int(s))
}

// backoff is the wait imposed after an accepted request.
func (s Severity) backoff(strikes uint32) time.Duration {
	switch s {
	case SeverityNormal:
		return NormalBackoff * time.Duration(strikes)
	case SeverityDeep:
		return DeepBackoff * time.Duration(strikes)
	}
	return 0
}

// State is the governor lifecycle state.
type State int

const (
	StateFresh State = iota
	StateNormal
	StateSafeMode
)

func (s State) String() string {
	switch s {
	case StateFresh:
		return "fresh"
	case StateNormal:
		return "normal"
	case StateSafeMode:
		return "safe_mode"
	}
	return "unknown"
}

// Reset reasons reported by ResetSummary.
const (
	ReasonPowerOn   = "POWERON"
	ReasonExternal  = "EXTERNAL"
	ReasonSoftware  = "SOFTWARE"
	ReasonDeepSleep = "DEEPSLEEP"
	ReasonOther     = "OTHER"
)

// Record is the persisted boot record.
type Record struct {
	BootCount   uint32 `json:"boot_count"`
	WindowStart int64  `json:"win_start"`
	WindowCount uint32 `json:"win_count"`
	SafeMode    bool   `json:"safe_mode"`
	NextOK      int64  `json:"next_ok"`
	Strikes     uint32 `json:"rb_strikes"`
	LastReason  string `json:"last_reason"`
}

// Resetter performs the physical transition. Neither method returns on
// success on real hardware.
type Resetter interface {
	Restart() error
	DeepSleep(d time.Duration) error
}

// Governor is the reboot governor.
type Governor struct {
	ns       *store.Namespace
	clk      clock.Clock
	resetter Resetter
	log      *logger.Logger

	// BeforeReset, when set, runs after a request is accepted and before
	// the transition. The daemon uses it to snapshot the pump and flush
	// the command channel.
	BeforeReset func(Severity)

	mu          sync.Mutex
	state       State
	rec         Record
	resetReason string
	settled     bool
}

// New returns a Governor in the Fresh state. Call Begin once at startup.
func New(ns *store.Namespace, clk clock.Clock, resetter Resetter, log *logger.Logger) *Governor {
	if log == nil {
		log = logger.Nop()
	}
	return &Governor{ns: ns, clk: clk, resetter: resetter, log: log, resetReason: ReasonOther}
}

// Begin records this boot, derives the reset reason and evaluates the
// boot-storm window. The returned error reports persistence problems; the
// governor still moves to Normal or SafeMode using what it could read.
func (g *Governor) Begin() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var errs errList
	rec := g.loadLocked(&errs)

	pending, err := g.ns.String(keyPendingReset, "")
	errs.add(err)
	clean, err := g.ns.Uint32(keyCleanExit, 0)
	errs.add(err)
	switch {
	case pending == SeverityDeep.String():
		g.resetReason = ReasonDeepSleep
	case pending != "":
		g.resetReason = ReasonSoftware
	case clean == 1:
		g.resetReason = ReasonExternal
	case rec.BootCount == 0:
		g.resetReason = ReasonPowerOn
	default:
		g.resetReason = ReasonOther
	}
	errs.add(g.ns.Remove(keyPendingReset))
	errs.add(g.ns.Remove(keyCleanExit))

	rec.BootCount++
	now, synced := g.clk.Now()
	switch {
	case !synced:
		// Count into the current window; Settle closes it on uptime.
		rec.WindowCount++
	case rec.WindowStart == 0 || now.Unix() < rec.WindowStart || now.Unix()-rec.WindowStart > int64(Window/time.Second):
		rec.WindowStart = now.Unix()
		rec.WindowCount = 1
		rec.Strikes = 0
	default:
		rec.WindowCount++
	}
	rec.SafeMode = rec.WindowCount >= StormBoots

	g.rec = rec
	errs.add(g.saveLocked())
	if rec.SafeMode {
		g.state = StateSafeMode
		g.log.Warnw("boot storm detected, entering safe mode", "window_count", rec.WindowCount)
	} else {
		g.state = StateNormal
	}
	g.log.Infow("boot recorded", "summary", g.summaryLocked())
	return errs.err()
}

// Settle closes the boot-storm window once the device has stayed up for
// longer than Window. Call it from the main loop.
func (g *Governor) Settle() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.settled || g.state == StateFresh || g.clk.Uptime() <= Window {
		return
	}
	g.settled = true
	if g.rec.WindowCount <= 1 && !g.rec.SafeMode {
		return
	}

	g.rec.WindowCount = 1
	g.rec.WindowStart = 0
	if now, ok := g.clk.Now(); ok {
		g.rec.WindowStart = now.Unix()
	}
	wasSafe := g.rec.SafeMode
	g.rec.SafeMode = false
	g.state = StateNormal
	if err := g.saveLocked(); err != nil {
		g.log.Errorw("boot record write failed", "error", err)
	}
	if wasSafe {
		g.log.Infow("stable uptime reached, leaving safe mode")
	}
}

// RequestReboot asks for a reset with the default minimum uptime.
func (g *Governor) RequestReboot(reason string, severity Severity) bool {
	return g.RequestRebootAfter(reason, severity, DefaultMinUptime)
}

// RequestRebootAfter asks for a reset. Non-critical requests are refused
// before minUptime, in safe mode, and inside the strike backoff. An accepted
// request persists the reason and the next backoff, then resets; it returns
// false if the reset could not be carried out.
func (g *Governor) RequestRebootAfter(reason string, severity Severity, minUptime time.Duration) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	uptime := g.clk.Uptime()
	now, synced := g.clk.Now()

	if severity != SeverityCritical {
		switch {
		case g.state == StateFresh:
			g.log.Infow("reboot refused, governor not started", "reason", reason)
			return false
		case uptime < minUptime:
			g.log.Infow("reboot refused, uptime too low", "reason", reason, "uptime", uptime, "min", minUptime)
			return false
		case g.state == StateSafeMode:
			g.log.Warnw("reboot refused, safe mode", "reason", reason)
			return false
		case synced && g.rec.NextOK != 0 && now.Unix() < g.rec.NextOK:
			g.log.Infow("reboot refused, backoff", "reason", reason, "next_ok", g.rec.NextOK)
			return false
		case !synced && uptime < severity.backoff(g.rec.Strikes):
			g.log.Infow("reboot refused, backoff", "reason", reason, "strikes", g.rec.Strikes)
			return false
		}
	}

	if g.rec.Strikes < MaxStrikes {
		g.rec.Strikes++
	}
	g.rec.NextOK = 0
	if synced {
		g.rec.NextOK = now.Add(severity.backoff(g.rec.Strikes)).Unix()
	}
	g.rec.LastReason = reason
	if err := g.saveLocked(); err != nil {
		g.log.Errorw("boot record write failed", "error", err)
	}
	if err := g.ns.PutString(keyPendingReset, severity.String()); err != nil {
		g.log.Errorw("boot record write failed", "error", err)
	}

	g.log.Warnw("reboot accepted", "reason", reason, "severity", severity, "strikes", g.rec.Strikes)
	if err := g.transitionLocked(severity, DeepSleepDuration); err != nil {
		g.log.Errorw("reset failed", "reason", reason, "error", err)
		_ = g.ns.Remove(keyPendingReset)
		return false
	}
	return true
}

// EnterSleep puts the device into scheduled low-power sleep for d. It is a
// power-saving transition, not a reboot request, so no rule applies and no
// strike is counted.
func (g *Governor) EnterSleep(d time.Duration) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.ns.PutString(keyPendingReset, SeverityDeep.String()); err != nil {
		g.log.Errorw("boot record write failed", "error", err)
	}
	g.log.Infow("entering scheduled sleep", "duration", d)
	if err := g.transitionLocked(SeverityDeep, d); err != nil {
		_ = g.ns.Remove(keyPendingReset)
		return err
	}
	return nil
}

func (g *Governor) transitionLocked(severity Severity, sleep time.Duration) error {
	if g.BeforeReset != nil {
		g.BeforeReset(severity)
	}
	g.clk.Sleep(FlushDelay)
	if severity == SeverityDeep {
		return g.resetter.DeepSleep(sleep)
	}
	return g.resetter.Restart()
}

// MarkCleanExit records an orderly shutdown so the next boot reports an
// external reset rather than a crash.
func (g *Governor) MarkCleanExit() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.ns.PutUint32(keyCleanExit, 1); err != nil {
		g.log.Errorw("boot record write failed", "error", err)
	}
}

// State returns the lifecycle state.
func (g *Governor) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// IsSafeMode reports whether the governor is in safe mode.
func (g *Governor) IsSafeMode() bool {
	return g.State() == StateSafeMode
}

// Record returns a copy of the boot record.
func (g *Governor) Record() Record {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rec
}

// ResetReason returns why the previous run ended.
func (g *Governor) ResetReason() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.resetReason
}

// ResetSummary returns a one-line diagnostic of the boot record.
func (g *Governor) ResetSummary() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.summaryLocked()
}

func (g *Governor) summaryLocked() string {
	safe := 0
	if g.rec.SafeMode {
		safe = 1
	}
	return fmt.Sprintf("reset_reason=%s boot_count=%d safe_mode=%d last_reason=%s",
		g.resetReason, g.rec.BootCount, safe, g.rec.LastReason)
}

func (g *Governor) loadLocked(errs *errList) Record {
	return load(g.ns, errs)
}

func (g *Governor) saveLocked() error {
	var errs errList
	r := g.rec
	safe := uint32(0)
	if r.SafeMode {
		safe = 1
	}
	errs.add(g.ns.PutUint32(keyBootCount, r.BootCount))
	errs.add(g.ns.PutInt64(keyWindowStart, r.WindowStart))
	errs.add(g.ns.PutUint32(keyWindowCount, r.WindowCount))
	errs.add(g.ns.PutUint32(keySafeMode, safe))
	errs.add(g.ns.PutInt64(keyNextOK, r.NextOK))
	errs.add(g.ns.PutUint32(keyStrikes, r.Strikes))
	errs.add(g.ns.PutString(keyLastReason, r.LastReason))
	return errs.err()
}

// Load reads a boot record without claiming the namespace. Used by the
// state command.
func Load(ns *store.Namespace) (Record, error) {
	var errs errList
	rec := load(ns, &errs)
	return rec, errs.err()
}

func load(ns *store.Namespace, errs *errList) Record {
	var r Record
	var err error
	var safe uint32
	r.BootCount, err = ns.Uint32(keyBootCount, 0)
	errs.add(err)
	r.WindowStart, err = ns.Int64(keyWindowStart, 0)
	errs.add(err)
	r.WindowCount, err = ns.Uint32(keyWindowCount, 0)
	errs.add(err)
	safe, err = ns.Uint32(keySafeMode, 0)
	errs.add(err)
	r.SafeMode = safe != 0
	r.NextOK, err = ns.Int64(keyNextOK, 0)
	errs.add(err)
	r.Strikes, err = ns.Uint32(keyStrikes, 0)
	errs.add(err)
	r.LastReason, err = ns.String(keyLastReason, "")
	errs.add(err)
	return r
}

// errList keeps the first error of a sequence of store calls.
type errList struct{ first error }

func (e *errList) add(err error) {
	if err != nil && e.first == nil {
		e.first = err
	}
}

func (e *errList) err() error { return e.first }
