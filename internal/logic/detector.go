package logic

import "time"

// Detector tracks soil state and detects debounced transitions.
type Detector struct {
	debounceDuration time.Duration
	threshold        int
	soil             ChannelState
	moisture         int
	startTime        time.Time
	eventCounts      EventCounts
	lastHeartbeat    time.Time
}

// NewDetector creates a new transition detector. Soil below threshold
// percent is dry. The startTime is used for calculating uptime in heartbeat
// events.
func NewDetector(debounceDuration time.Duration, threshold int, startTime time.Time) *Detector {
	return &Detector{
		debounceDuration: debounceDuration,
		threshold:        threshold,
		startTime:        startTime,
		lastHeartbeat:    startTime,
	}
}

// SetThreshold changes the dry threshold. The new value applies from the
// next sample, still subject to debounce.
func (d *Detector) SetThreshold(threshold int) {
	d.threshold = threshold
}

// Process takes a new input sample and returns any events that should be emitted.
// Events are only returned after baseline is established and on state transitions.
func (d *Detector) Process(input Input) []Event {
	d.moisture = Percent(input.Raw)
	state := SoilWet
	if d.moisture < d.threshold {
		state = SoilDry
	}

	transition := d.processChannel(&d.soil, state, input.Time)
	if transition == nil {
		return nil
	}

	switch *transition {
	case EventDry:
		d.eventCounts.Dry++
	case EventWet:
		d.eventCounts.Wet++
	}
	return []Event{{
		Timestamp: input.Time,
		Type:      *transition,
		Soil:      d.soil.Stable,
		Moisture:  d.moisture,
	}}
}

// processChannel handles debounce logic.
// Returns the event type if a transition occurred, nil otherwise.
func (d *Detector) processChannel(ch *ChannelState, newState SoilState, now time.Time) *EventType {
	if !ch.Baselined {
		if ch.Pending != newState {
			// First sample, or the reading moved during baseline: restart.
			ch.Pending = newState
			ch.PendingSince = now
			return nil
		}
		if now.Sub(ch.PendingSince) >= d.debounceDuration {
			ch.Stable = newState
			ch.Baselined = true
			ch.Pending = ""
		}
		return nil
	}

	if newState == ch.Stable {
		ch.Pending = ""
		return nil
	}

	if ch.Pending != newState {
		ch.Pending = newState
		ch.PendingSince = now
		return nil
	}

	if now.Sub(ch.PendingSince) >= d.debounceDuration {
		ch.Stable = newState
		ch.Pending = ""
		event := EventWet
		if newState == SoilDry {
			event = EventDry
		}
		return &event
	}

	return nil
}

// IsBaselined returns whether the detector has established a baseline.
func (d *Detector) IsBaselined() bool {
	return d.soil.Baselined
}

// CurrentState returns the stable soil state, empty before baseline.
func (d *Detector) CurrentState() SoilState {
	return d.soil.Stable
}

// Moisture returns the most recent moisture percentage.
func (d *Detector) Moisture() int {
	return d.moisture
}

// Counts returns event counts since startup.
func (d *Detector) Counts() EventCounts {
	return d.eventCounts
}

// RecordWatering counts an automatic watering run.
func (d *Detector) RecordWatering() {
	d.eventCounts.Waterings++
}

// CheckHeartbeat returns heartbeat data if the interval has elapsed since the
// last heartbeat (or startup). Returns nil if not yet baselined, if the
// interval has not elapsed, or if interval is <= 0 (disabled).
func (d *Detector) CheckHeartbeat(now time.Time, interval time.Duration) *HeartbeatData {
	if interval <= 0 {
		return nil
	}

	if !d.soil.Baselined {
		return nil
	}

	if now.Sub(d.lastHeartbeat) < interval {
		return nil
	}

	d.lastHeartbeat = now
	return &HeartbeatData{
		Timestamp: now,
		Uptime:    now.Sub(d.startTime),
		Counts:    d.eventCounts,
		Soil:      d.soil.Stable,
		Moisture:  d.moisture,
	}
}
