// Package metrics holds the daemon's Prometheus collectors.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sweeney/bonsai-node/internal/update"
)

const namespace = "bonsai"

// Metrics groups every collector the daemon updates.
type Metrics struct {
	// UpdateOutcomes counts update attempts.
	// Labels: domain (program, config), result (cooldown, up_to_date, applied, failed)
	UpdateOutcomes *prometheus.CounterVec

	// UpdateErrors counts failed attempts by error class.
	// Labels: domain, class
	UpdateErrors *prometheus.CounterVec

	// FuseFailures is the persisted consecutive failure count per domain.
	FuseFailures *prometheus.GaugeVec

	// RebootRequests counts reboot requests by severity and decision.
	// Labels: severity (normal, deep, critical), accepted (true, false)
	RebootRequests *prometheus.CounterVec

	BootCount prometheus.Gauge
	SafeMode  prometheus.Gauge

	PumpOn         prometheus.Gauge
	PumpStarts     prometheus.Counter
	EmergencyStops prometheus.Counter

	Moisture prometheus.Gauge
	SoilRaw  prometheus.Gauge

	// Commands counts inbound commands.
	// Labels: command, ok (true, false)
	Commands *prometheus.CounterVec

	MQTTConnected prometheus.Gauge
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		UpdateOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "update",
			Name:      "outcomes_total",
			Help:      "Update attempts by domain and result",
		}, []string{"domain", "result"}),
		UpdateErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "update",
			Name:      "errors_total",
			Help:      "Failed update attempts by domain and error class",
		}, []string{"domain", "class"}),
		FuseFailures: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "update",
			Name:      "fuse_failures",
			Help:      "Consecutive counted failures per update domain",
		}, []string{"domain"}),
		RebootRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reboot",
			Name:      "requests_total",
			Help:      "Reboot requests by severity and decision",
		}, []string{"severity", "accepted"}),
		BootCount: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reboot",
			Name:      "boot_count",
			Help:      "Boots recorded since the store was created",
		}),
		SafeMode: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reboot",
			Name:      "safe_mode",
			Help:      "1 while the device is in safe mode",
		}),
		PumpOn: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pump",
			Name:      "on",
			Help:      "1 while the pump is energized",
		}),
		PumpStarts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pump",
			Name:      "starts_total",
			Help:      "Accepted pump start requests",
		}),
		EmergencyStops: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pump",
			Name:      "emergency_stops_total",
			Help:      "Forced stops on exceeding the run-time ceiling",
		}),
		Moisture: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "soil",
			Name:      "moisture_percent",
			Help:      "Last soil moisture reading",
		}),
		SoilRaw: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "soil",
			Name:      "raw",
			Help:      "Last raw soil sensor reading",
		}),
		Commands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "command",
			Name:      "received_total",
			Help:      "Inbound commands by name and result",
		}, []string{"command", "ok"}),
		MQTTConnected: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "mqtt",
			Name:      "connected",
			Help:      "1 while the broker session is up",
		}),
	}
}

// ObserveOutcome records one update outcome.
func (m *Metrics) ObserveOutcome(o update.Outcome) {
	m.UpdateOutcomes.WithLabelValues(o.Domain, string(o.Result)).Inc()
	if o.ErrorClass != "" {
		m.UpdateErrors.WithLabelValues(o.Domain, string(o.ErrorClass)).Inc()
	}
}

// ObserveFuse records a domain's fuse.
func (m *Metrics) ObserveFuse(domain string, f update.Fuse) {
	m.FuseFailures.WithLabelValues(domain).Set(float64(f.Failures))
}

// ObserveReboot records one reboot request.
func (m *Metrics) ObserveReboot(severity string, accepted bool) {
	m.RebootRequests.WithLabelValues(severity, strconv.FormatBool(accepted)).Inc()
}

// ObserveCommand records one inbound command.
func (m *Metrics) ObserveCommand(name string, ok bool) {
	m.Commands.WithLabelValues(name, strconv.FormatBool(ok)).Inc()
}

// ObserveSoil records a soil sample.
func (m *Metrics) ObserveSoil(raw, percent int) {
	m.SoilRaw.Set(float64(raw))
	m.Moisture.Set(float64(percent))
}

// SetBool sets g to 1 or 0.
func SetBool(g prometheus.Gauge, v bool) {
	if v {
		g.Set(1)
		return
	}
	g.Set(0)
}
