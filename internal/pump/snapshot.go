package pump

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/sweeney/bonsai-node/internal/store"
)

// Namespace is the store namespace owned by the controller.
const Namespace = "pump"

const snapshotKey = "snapshot"

// Snapshot is the state carried across a sleep or restart.
type Snapshot struct {
	IsOn          bool          `cbor:"1,keyasint"`
	Elapsed       time.Duration `cbor:"2,keyasint"`
	EmergencyStop bool          `cbor:"3,keyasint"`
	// TakenAt is wall time in unix seconds, zero when unknown.
	TakenAt int64 `cbor:"4,keyasint,omitempty"`
}

var (
	snapshotEncMode cbor.EncMode
	snapshotDecMode cbor.DecMode
)

func init() {
	var err error
	snapshotEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("pump: CBOR encoder initialization failed: " + err.Error())
	}
	snapshotDecMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("pump: CBOR decoder initialization failed: " + err.Error())
	}
}

// Snapshot captures the current state, enforcing the ceiling first.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.enforceLocked()
	s := Snapshot{IsOn: c.st.IsOn, EmergencyStop: c.st.EmergencyStop}
	if s.IsOn {
		s.Elapsed = c.clk.Uptime() - c.st.StartedAt
	}
	if now, ok := c.clk.Now(); ok {
		s.TakenAt = now.Unix()
	}
	return s
}

// Restore applies a snapshot taken before the last sleep. Run time already
// spent counts against the ceiling; a snapshot already past the ceiling
// restores as an emergency stop without energizing the pump.
func (c *Controller) Restore(s Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case s.EmergencyStop:
		c.setLocked(false, 0)
		c.st.EmergencyStop = true
	case s.IsOn && s.Elapsed > c.maxRun:
		c.setLocked(false, 0)
		c.st.EmergencyStop = true
		now := c.clk.Uptime()
		c.event = &Event{RanFor: s.Elapsed, At: now}
	case s.IsOn:
		c.setLocked(true, s.Elapsed)
	default:
		c.setLocked(false, 0)
	}
	c.log.Infow("pump state restored", "on", c.st.IsOn, "emergency_stop", c.st.EmergencyStop, "elapsed", s.Elapsed)
}

// SaveSnapshot persists s. Call immediately before a sleep or restart.
func SaveSnapshot(ns *store.Namespace, s Snapshot) error {
	data, err := snapshotEncMode.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode pump snapshot: %w", err)
	}
	return ns.PutBytes(snapshotKey, data)
}

// TakeSnapshot reads and deletes the persisted snapshot. ok is false when
// there is none.
func TakeSnapshot(ns *store.Namespace) (s Snapshot, ok bool, err error) {
	data, found, err := ns.Bytes(snapshotKey)
	if err != nil || !found {
		return Snapshot{}, false, err
	}
	if err := ns.Remove(snapshotKey); err != nil {
		return Snapshot{}, false, err
	}
	if err := snapshotDecMode.Unmarshal(data, &s); err != nil {
		return Snapshot{}, false, fmt.Errorf("decode pump snapshot: %w", err)
	}
	return s, true, nil
}

// PeekSnapshot reads the persisted snapshot without consuming it.
func PeekSnapshot(ns *store.Namespace) (s Snapshot, ok bool, err error) {
	data, found, err := ns.Bytes(snapshotKey)
	if err != nil || !found {
		return Snapshot{}, false, err
	}
	if err := snapshotDecMode.Unmarshal(data, &s); err != nil {
		return Snapshot{}, false, fmt.Errorf("decode pump snapshot: %w", err)
	}
	return s, true, nil
}
