package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/bonsai-node/internal/update"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	DeviceID      string       `json:"device_id"`
	Version       string       `json:"version"`
	Soil          string       `json:"soil"`
	Moisture      int          `json:"moisture_percent"`
	Raw           int          `json:"raw"`
	Ready         bool         `json:"ready"`
	Pump          PumpJSON     `json:"pump"`
	Reboot        RebootJSON   `json:"reboot"`
	Updates       UpdatesJSON  `json:"updates"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time,omitempty"`
	Timestamp     string       `json:"timestamp,omitempty"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Counts        CountsJSON   `json:"event_counts"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// PumpJSON reports the pump.
type PumpJSON struct {
	On            bool `json:"on"`
	EmergencyStop bool `json:"emergency_stop"`
}

// RebootJSON reports the boot record.
type RebootJSON struct {
	ResetReason string `json:"reset_reason"`
	BootCount   uint32 `json:"boot_count"`
	SafeMode    bool   `json:"safe_mode"`
	State       string `json:"state"`
}

// UpdatesJSON reports update fuses and the last outcome.
type UpdatesJSON struct {
	Fuses []FuseJSON      `json:"fuses"`
	Last  *update.Outcome `json:"last,omitempty"`
}

// FuseJSON is one domain's fuse.
type FuseJSON struct {
	Domain   string `json:"domain"`
	Failures uint32 `json:"failures"`
	Tripped  bool   `json:"tripped"`
	Until    string `json:"until,omitempty"`
}

// MQTTStatus reports command channel state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	Dry       int `json:"dry"`
	Wet       int `json:"wet"`
	Waterings int `json:"waterings"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon settings.
type ConfigJSON struct {
	PollMs      int64  `json:"poll_ms"`
	DebounceMs  int64  `json:"debounce_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	MaxRunMs    int64  `json:"max_run_ms"`
	Broker      string `json:"broker"`
	HTTPAddr    string `json:"http_addr"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func buildInner(snap Snapshot) StatusInner {
	soil := string(snap.Soil)
	if soil == "" {
		soil = "UNKNOWN"
	}

	fuses := make([]FuseJSON, 0, len(snap.Fuses))
	for _, f := range snap.Fuses {
		fj := FuseJSON{
			Domain:   f.Domain,
			Failures: f.Failures,
			Tripped:  update.Fuse{Failures: f.Failures}.Tripped(),
		}
		if f.Until > 0 {
			fj.Until = formatTime(time.Unix(f.Until, 0))
		}
		fuses = append(fuses, fj)
	}

	inner := StatusInner{
		DeviceID: snap.Config.DeviceID,
		Version:  snap.Config.Version,
		Soil:     soil,
		Moisture: snap.Moisture,
		Raw:      snap.Raw,
		Ready:    snap.Baselined,
		Pump:     PumpJSON{On: snap.Pump.On, EmergencyStop: snap.Pump.EmergencyStop},
		Reboot: RebootJSON{
			ResetReason: snap.Reboot.ResetReason,
			BootCount:   snap.Reboot.BootCount,
			SafeMode:    snap.Reboot.SafeMode,
			State:       snap.Reboot.State,
		},
		Updates:       UpdatesJSON{Fuses: fuses, Last: snap.LastUpdate},
		UptimeSeconds: int64(snap.Uptime.Truncate(time.Second).Seconds()),
		StartTime:     formatTime(snap.StartTime),
		Timestamp:     formatTime(snap.Now),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Dry:       snap.Counts.Dry,
			Wet:       snap.Counts.Wet,
			Waterings: snap.Counts.Waterings,
		},
		Config: ConfigJSON{
			PollMs:      snap.Config.PollMs,
			DebounceMs:  snap.Config.DebounceMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			MaxRunMs:    snap.Config.MaxRunMs,
			Broker:      snap.Config.Broker,
			HTTPAddr:    snap.Config.HTTPAddr,
		},
	}
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for a status/system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
