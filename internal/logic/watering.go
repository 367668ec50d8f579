package logic

import "time"

// Action is what the loop should do with the pump.
type Action int

const (
	ActionNone Action = iota
	ActionStart
	ActionStop
)

// Watering decides automatic watering runs. It never touches the pump; the
// loop carries out the returned Action through the safety controller.
type Watering struct {
	duration time.Duration
	minGap   time.Duration

	running   bool
	startedAt time.Time
	lastStart time.Time
	everRan   bool
}

// NewWatering creates a watering timer. Each run lasts duration; runs start
// at least minGap apart.
func NewWatering(duration, minGap time.Duration) *Watering {
	return &Watering{duration: duration, minGap: minGap}
}

// SetTiming updates the run length and gap, for configuration changes.
func (w *Watering) SetTiming(duration, minGap time.Duration) {
	w.duration = duration
	w.minGap = minGap
}

// Running reports whether a run is in progress.
func (w *Watering) Running() bool {
	return w.running
}

// Decide returns the next action given the soil state, whether automatic
// watering is enabled, and whether the pump is currently on.
func (w *Watering) Decide(now time.Time, soil SoilState, enabled, pumpOn bool) Action {
	if w.running {
		if !pumpOn {
			// Stopped elsewhere: operator command or the safety ceiling.
			w.running = false
			return ActionNone
		}
		if now.Sub(w.startedAt) >= w.duration {
			w.running = false
			return ActionStop
		}
		return ActionNone
	}

	if !enabled || w.duration <= 0 || soil != SoilDry || pumpOn {
		return ActionNone
	}
	if w.everRan && now.Sub(w.lastStart) < w.minGap {
		return ActionNone
	}
	return ActionStart
}

// Started records that the pump was turned on for a run at now.
func (w *Watering) Started(now time.Time) {
	w.running = true
	w.everRan = true
	w.startedAt = now
	w.lastStart = now
}
