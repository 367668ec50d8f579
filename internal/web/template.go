package web

import (
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	"github.com/sweeney/bonsai-node/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": formatUptime,
	"stateOrUnknown": func(s string) string {
		if s == "" {
			return "UNKNOWN"
		}
		return s
	},
	"timeOrDash": func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.UTC().Format("2006-01-02T15:04:05Z")
	},
	"epoch": func(sec int64) string {
		if sec <= 0 {
			return "-"
		}
		return time.Unix(sec, 0).UTC().Format("2006-01-02T15:04:05Z")
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Bonsai {{.Config.DeviceID}}</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.dry { color: #b5651d; font-weight: bold; }
.wet { color: green; font-weight: bold; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.unknown { color: orange; }
.connected { color: green; }
.disconnected, .alarm { color: red; font-weight: bold; }
</style>
</head>
<body>
<h1>Bonsai {{.Config.DeviceID}}</h1>

<h2>Soil</h2>
<table>
<tr><th>State</th><td class="{{if eq (stateOrUnknown (printf "%s" .Soil)) "DRY"}}dry{{else if eq (stateOrUnknown (printf "%s" .Soil)) "WET"}}wet{{else}}unknown{{end}}">{{stateOrUnknown (printf "%s" .Soil)}}</td></tr>
<tr><th>Moisture</th><td>{{.Moisture}}% (raw {{.Raw}})</td></tr>
<tr><th>Ready</th><td>{{if .Baselined}}yes{{else}}no{{end}}</td></tr>
</table>

<h2>Pump</h2>
<table>
<tr><th>Pump</th><td class="{{if .Pump.On}}on{{else}}off{{end}}">{{if .Pump.On}}ON{{else}}OFF{{end}}</td></tr>
<tr><th>Emergency stop</th><td{{if .Pump.EmergencyStop}} class="alarm"{{end}}>{{if .Pump.EmergencyStop}}ACTIVE{{else}}no{{end}}</td></tr>
<tr><th>Run ceiling</th><td>{{.Config.MaxRunMs}}ms</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Updates</h2>
<table>
{{range .Fuses}}<tr><th>{{.Domain}}</th><td>{{.Failures}} failures{{if gt .Until 0}}, cooldown until {{epoch .Until}}{{end}}</td></tr>
{{else}}<tr><th>Fuses</th><td>none recorded</td></tr>
{{end}}{{if .LastUpdate}}<tr><th>Last run</th><td>{{.LastUpdate.Domain}}: {{.LastUpdate.Result}}{{if .LastUpdate.ErrorClass}} ({{.LastUpdate.ErrorClass}}){{end}}</td></tr>{{end}}
</table>

<h2>Event Counts</h2>
<table>
<tr><th>Dry</th><td>{{.Counts.Dry}}</td></tr>
<tr><th>Wet</th><td>{{.Counts.Wet}}</td></tr>
<tr><th>Waterings</th><td>{{.Counts.Waterings}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Version</th><td>{{.Config.Version}}</td></tr>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{timeOrDash .StartTime}}</td></tr>
<tr><th>Reset reason</th><td>{{.Reboot.ResetReason}}</td></tr>
<tr><th>Boot count</th><td>{{.Reboot.BootCount}}</td></tr>
<tr><th>Safe mode</th><td{{if .Reboot.SafeMode}} class="alarm"{{end}}>{{if .Reboot.SafeMode}}yes{{else}}no{{end}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Debounce</th><td>{{.Config.DebounceMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/api/config">Config</a> | <a href="/metrics">Metrics</a></p>
</body>
</html>
`

// formatUptime renders d as "2d 3h 4m 5s", dropping leading zero units.
func formatUptime(d time.Duration) string {
	secs := int64(d / time.Second)
	units := []struct {
		size   int64
		suffix string
	}{{86400, "d"}, {3600, "h"}, {60, "m"}}
	var b strings.Builder
	for _, u := range units {
		if n := secs / u.size; n > 0 || b.Len() > 0 {
			fmt.Fprintf(&b, "%d%s ", n, u.suffix)
		}
		secs %= u.size
	}
	fmt.Fprintf(&b, "%ds", secs)
	return b.String()
}

func renderHTML(w io.Writer, snap status.Snapshot) {
	indexTmpl.Execute(w, snap)
}
