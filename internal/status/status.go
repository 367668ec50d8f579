// Package status provides a thread-safe status tracker for the bonsai-node
// daemon. It is written by the control loop and read by HTTP handlers and
// the heartbeat publisher.
package status

import (
	"sort"
	"sync"
	"time"

	"github.com/sweeney/bonsai-node/internal/clock"
	"github.com/sweeney/bonsai-node/internal/logic"
	"github.com/sweeney/bonsai-node/internal/update"
)

// NetworkInfo contains network state reported by the host.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon settings for display.
type Config struct {
	DeviceID    string
	Version     string
	PollMs      int64
	DebounceMs  int64
	HeartbeatMs int64
	MaxRunMs    int64
	Broker      string
	HTTPAddr    string
}

// PumpInfo is the pump part of a snapshot.
type PumpInfo struct {
	On            bool
	EmergencyStop bool
}

// RebootInfo is the boot record part of a snapshot.
type RebootInfo struct {
	ResetReason string
	BootCount   uint32
	SafeMode    bool
	State       string
}

// FuseInfo is one update domain's fuse.
type FuseInfo struct {
	Domain   string
	Failures uint32
	Until    int64 // epoch seconds, 0 when unknown or not tripped
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Soil          logic.SoilState
	Moisture      int
	Raw           int
	Baselined     bool
	Counts        logic.EventCounts
	Pump          PumpInfo
	Reboot        RebootInfo
	Fuses         []FuseInfo
	LastUpdate    *update.Outcome
	StartTime     time.Time // zero when the wall clock was not valid at start
	Now           time.Time // zero when the wall clock is not valid
	Uptime        time.Duration
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	clk   clock.Clock
	mu    sync.RWMutex
	snap  Snapshot
	fuses map[string]FuseInfo
}

// NewTracker creates a Tracker with the given settings.
func NewTracker(clk clock.Clock, cfg Config) *Tracker {
	t := &Tracker{
		clk:   clk,
		snap:  Snapshot{Config: cfg},
		fuses: make(map[string]FuseInfo),
	}
	if now, ok := clk.Now(); ok {
		t.snap.StartTime = now.Add(-clk.Uptime())
	}
	return t
}

// UpdateSoil sets the latest soil reading and detector state.
// Called from runLoop on every sample.
func (t *Tracker) UpdateSoil(soil logic.SoilState, moisture, raw int, baselined bool, counts logic.EventCounts) {
	t.mu.Lock()
	t.snap.Soil = soil
	t.snap.Moisture = moisture
	t.snap.Raw = raw
	t.snap.Baselined = baselined
	t.snap.Counts = counts
	t.mu.Unlock()
}

// SetPump sets the pump state.
func (t *Tracker) SetPump(on, emergencyStop bool) {
	t.mu.Lock()
	t.snap.Pump = PumpInfo{On: on, EmergencyStop: emergencyStop}
	t.mu.Unlock()
}

// SetReboot sets the boot record summary.
func (t *Tracker) SetReboot(info RebootInfo) {
	t.mu.Lock()
	t.snap.Reboot = info
	t.mu.Unlock()
}

// SetFuse records a domain's fuse.
func (t *Tracker) SetFuse(domain string, f update.Fuse) {
	t.mu.Lock()
	t.fuses[domain] = FuseInfo{Domain: domain, Failures: f.Failures, Until: f.Until}
	t.mu.Unlock()
}

// SetLastUpdate records the most recent update outcome.
func (t *Tracker) SetLastUpdate(o update.Outcome) {
	t.mu.Lock()
	t.snap.LastUpdate = &o
	t.mu.Unlock()
}

// SetMQTTConnected sets the command channel connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetBroker changes the displayed broker after a reconnect.
func (t *Tracker) SetBroker(broker string) {
	t.mu.Lock()
	t.snap.Config.Broker = broker
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Fuses = make([]FuseInfo, 0, len(t.fuses))
	for _, f := range t.fuses {
		s.Fuses = append(s.Fuses, f)
	}
	if s.LastUpdate != nil {
		o := *s.LastUpdate
		s.LastUpdate = &o
	}
	t.mu.RUnlock()

	sort.Slice(s.Fuses, func(i, j int) bool { return s.Fuses[i].Domain < s.Fuses[j].Domain })
	s.Uptime = t.clk.Uptime()
	if now, ok := t.clk.Now(); ok {
		s.Now = now
	}
	return s
}
