package update

import (
	"math"
	"sync"
	"time"

	"github.com/sweeney/bonsai-node/internal/clock"
	"github.com/sweeney/bonsai-node/internal/logger"
	"github.com/sweeney/bonsai-node/internal/store"
)

// Fuse limits.
const (
	MaxFails = 3
	Cooldown = 24 * time.Hour
)

// FuseNamespace is the store namespace owned by the Governor.
const FuseNamespace = "fuse"

// Fuse is the persisted failure record of one domain.
type Fuse struct {
	Failures uint32
	// Until is the end of the cooldown in unix seconds. Zero with
	// Failures >= MaxFails means the fuse tripped while the wall clock was
	// unavailable.
	Until int64
}

// Tripped reports whether the failure threshold has been reached.
func (f Fuse) Tripped() bool { return f.Failures >= MaxFails }

// Governor is the per-domain failure fuse. After MaxFails consecutive
// failures a domain is skipped until Cooldown has passed; one success
// resets it.
type Governor struct {
	ns  *store.Namespace
	clk clock.Clock
	log *logger.Logger

	mu sync.Mutex
	// trippedAt is the uptime at which a fuse tripped without wall time.
	trippedAt map[string]time.Duration
}

// NewGovernor returns a Governor persisting to ns.
func NewGovernor(ns *store.Namespace, clk clock.Clock, log *logger.Logger) *Governor {
	if log == nil {
		log = logger.Nop()
	}
	return &Governor{ns: ns, clk: clk, log: log, trippedAt: make(map[string]time.Duration)}
}

func failsKey(domain string) string { return domain + ".fails" }
func untilKey(domain string) string { return domain + ".until" }

// Fuse returns the persisted record for domain.
func (g *Governor) Fuse(domain string) Fuse {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.loadLocked(domain)
}

func (g *Governor) loadLocked(domain string) Fuse {
	fails, err := g.ns.Uint32(failsKey(domain), 0)
	if err != nil {
		g.log.Warnw("fuse read failed", "domain", domain, "error", err)
	}
	until, err := g.ns.Int64(untilKey(domain), 0)
	if err != nil {
		g.log.Warnw("fuse read failed", "domain", domain, "error", err)
	}
	return Fuse{Failures: fails, Until: until}
}

// Allow reports whether domain may be checked now. A refusal is a skipped
// cycle, not an error.
func (g *Governor) Allow(domain string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	f := g.loadLocked(domain)
	if !f.Tripped() {
		return true
	}

	now, synced := g.clk.Now()
	if synced && f.Until != 0 {
		return now.Unix() >= f.Until
	}
	// No usable wall time: measure the cooldown on uptime from the trip, or
	// from process start if it tripped in an earlier run.
	return g.clk.Uptime()-g.trippedAt[domain] >= Cooldown
}

// RecordFailure counts a failure. Reaching MaxFails starts a cooldown; the
// count is held until a success.
func (g *Governor) RecordFailure(domain string) Fuse {
	g.mu.Lock()
	defer g.mu.Unlock()

	f := g.loadLocked(domain)
	if f.Failures < math.MaxUint32 {
		f.Failures++
	}
	if f.Tripped() {
		f.Until = 0
		if now, ok := g.clk.Now(); ok {
			f.Until = now.Add(Cooldown).Unix()
		}
		g.trippedAt[domain] = g.clk.Uptime()
		g.log.Warnw("update fuse tripped", "domain", domain, "failures", f.Failures, "until", f.Until)
	}

	if err := g.ns.PutUint32(failsKey(domain), f.Failures); err != nil {
		g.log.Errorw("fuse write failed", "domain", domain, "error", err)
	}
	if err := g.ns.PutInt64(untilKey(domain), f.Until); err != nil {
		g.log.Errorw("fuse write failed", "domain", domain, "error", err)
	}
	return f
}

// RecordSuccess resets the fuse.
func (g *Governor) RecordSuccess(domain string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.trippedAt, domain)
	if f := g.loadLocked(domain); f == (Fuse{}) {
		return
	}
	if err := g.ns.PutUint32(failsKey(domain), 0); err != nil {
		g.log.Errorw("fuse write failed", "domain", domain, "error", err)
	}
	if err := g.ns.PutInt64(untilKey(domain), 0); err != nil {
		g.log.Errorw("fuse write failed", "domain", domain, "error", err)
	}
}
