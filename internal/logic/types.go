// Package logic contains pure watering logic: debounced soil state
// tracking, heartbeat cadence and the automatic watering decision.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import "time"

// SoilState is the debounced state of the soil.
type SoilState string

const (
	SoilDry SoilState = "DRY"
	SoilWet SoilState = "WET"
)

// EventType represents a soil state transition.
type EventType string

const (
	EventDry EventType = "SOIL_DRY"
	EventWet EventType = "SOIL_WET"
)

// Event represents a state transition to be published.
type Event struct {
	Timestamp time.Time
	Type      EventType
	Soil      SoilState
	Moisture  int // percent
}

// ChannelState tracks debounce state for the soil reading.
type ChannelState struct {
	// Current stable (debounced) state
	Stable SoilState
	// Pending state during debounce
	Pending SoilState
	// Time when pending state was first observed
	PendingSince time.Time
	// Whether we have established a baseline
	Baselined bool
}

// Input is a single raw sensor sample.
type Input struct {
	Raw  int // ADC counts, 0..RawMax
	Time time.Time
}

// EventCounts tracks the number of each event type since startup.
type EventCounts struct {
	Dry       int
	Wet       int
	Waterings int
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
	Counts    EventCounts
	Soil      SoilState
	Moisture  int
}

// RawMax is the full-scale reading of the 12-bit soil sensor ADC. A dry
// capacitive probe reads high.
const RawMax = 4095

// Percent maps a raw reading to moisture percent: RawMax is 0%, 0 is 100%.
func Percent(raw int) int {
	if raw < 0 {
		raw = 0
	}
	if raw > RawMax {
		raw = RawMax
	}
	return (RawMax - raw) * 100 / RawMax
}
