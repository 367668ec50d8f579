// Package command routes inbound command-channel messages to the pump
// controller, update manager, reboot governor and configuration handle,
// and acknowledges each one.
package command

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/jsonc"
	"golang.org/x/time/rate"

	"github.com/sweeney/bonsai-node/internal/clock"
	"github.com/sweeney/bonsai-node/internal/devconfig"
	"github.com/sweeney/bonsai-node/internal/logger"
	"github.com/sweeney/bonsai-node/internal/metrics"
	"github.com/sweeney/bonsai-node/internal/mqtt"
	"github.com/sweeney/bonsai-node/internal/reboot"
	"github.com/sweeney/bonsai-node/internal/update"
)

// Ack reasons.
const (
	ReasonBadPayload    = "bad_payload"
	ReasonRefused       = "refused"
	ReasonEmergencyStop = "emergency_stop"
	ReasonNotStopped    = "not_stopped"
	ReasonUnknown       = "unknown_command"
	ReasonUnknownDomain = "unknown_domain"
	ReasonRateLimited   = "rate_limited"
)

// Update commands may burst to UpdateBurst, then one per UpdateEvery.
const (
	UpdateEvery = time.Minute
	UpdateBurst = 2
)

// Pump is the actuator surface commands may touch.
type Pump interface {
	TurnOn() bool
	TurnOff() bool
	State() bool
	IsEmergencyStop() bool
	ClearEmergencyStop() bool
}

// Updater runs one update domain on demand.
type Updater interface {
	RunDomain(ctx context.Context, name string) (update.Report, error)
}

// Rebooter accepts or refuses reboot requests.
type Rebooter interface {
	RequestReboot(reason string, severity reboot.Severity) bool
}

// Dispatcher handles inbound messages. It is driven from the daemon loop
// and is not safe for concurrent use.
type Dispatcher struct {
	client  mqtt.Client
	topics  mqtt.Topics
	pump    Pump
	updates Updater
	reboots Rebooter
	config  *devconfig.Handle
	clock   clock.Clock
	limiter *rate.Limiter
	metrics *metrics.Metrics
	log     *logger.Logger

	// OnConfig, when set, is called after a configuration change applied
	// over the command channel.
	OnConfig func(devconfig.Result)

	pending *pendingAck
	newID   func() string
}

// Deps bundles the components a Dispatcher drives.
type Deps struct {
	Client  mqtt.Client
	Topics  mqtt.Topics
	Pump    Pump
	Updates Updater
	Reboots Rebooter
	Config  *devconfig.Handle
	Clock   clock.Clock
	Metrics *metrics.Metrics
	Log     *logger.Logger
}

// New returns a Dispatcher over deps.
func New(deps Deps) *Dispatcher {
	log := deps.Log
	if log == nil {
		log = logger.Nop()
	}
	return &Dispatcher{
		client:  deps.Client,
		topics:  deps.Topics,
		pump:    deps.Pump,
		updates: deps.Updates,
		reboots: deps.Reboots,
		config:  deps.Config,
		clock:   deps.Clock,
		limiter: rate.NewLimiter(rate.Every(UpdateEvery), UpdateBurst),
		metrics: deps.Metrics,
		log:     log,
		newID:   uuid.NewString,
	}
}

// Handle processes msg. It reports false for topics it does not own.
func (d *Dispatcher) Handle(ctx context.Context, msg mqtt.Message) bool {
	if d.topics.IsConfigSet(msg.Topic) {
		d.setConfig(msg.Payload)
		return true
	}
	name, ok := d.topics.CommandName(msg.Topic)
	if !ok {
		return false
	}

	payload := strings.TrimSpace(string(msg.Payload))
	d.log.Infow("command received", "command", name, "payload", payload)

	var ack mqtt.Ack
	switch name {
	case mqtt.CommandPump:
		ack = d.setPump(payload)
	case mqtt.CommandReboot, mqtt.CommandRestart:
		d.reboot(name, reboot.SeverityCritical)
		return true
	case mqtt.CommandOTA:
		ack = d.runUpdate(ctx, update.DomainProgram)
	case mqtt.CommandUpdate:
		ack = d.runUpdate(ctx, strings.ToLower(payload))
	case mqtt.CommandEstopClear:
		ack = d.clearEmergencyStop()
	default:
		ack = mqtt.Ack{Reason: ReasonUnknown}
	}
	ack.Command = name
	d.ack(d.topics.CommandAck(), ack)
	return true
}

func (d *Dispatcher) ackTo(topic string, a mqtt.Ack) {
	if topic != "" {
		d.ack(topic, a)
	}
}

func (d *Dispatcher) ack(topic string, a mqtt.Ack) {
	a.ID = d.newID()
	if d.metrics != nil && a.Command != "" {
		d.metrics.ObserveCommand(a.Command, a.OK)
	}
	if err := d.client.Publish(mqtt.Message{Topic: topic, Payload: mqtt.FormatAck(a), QoS: 1}); err != nil {
		d.log.Warnw("ack publish failed", "topic", topic, "error", err)
	}
}

// pumpArg accepts "on"/"off" or {"pump":"on"}.
func pumpArg(payload string) (on bool, ok bool) {
	arg := payload
	if strings.HasPrefix(payload, "{") {
		var body struct {
			Pump string `json:"pump"`
		}
		if err := json.Unmarshal([]byte(payload), &body); err != nil {
			return false, false
		}
		arg = body.Pump
	}
	switch strings.ToLower(strings.TrimSpace(arg)) {
	case "on":
		return true, true
	case "off":
		return false, true
	}
	return false, false
}

func (d *Dispatcher) setPump(payload string) mqtt.Ack {
	on, ok := pumpArg(payload)
	if !ok {
		return mqtt.Ack{Reason: ReasonBadPayload}
	}
	return d.SetPump(on)
}

// SetPump switches the pump through the controller's guards and publishes
// the resulting state.
func (d *Dispatcher) SetPump(on bool) mqtt.Ack {
	if on {
		if !d.pump.TurnOn() {
			if d.pump.IsEmergencyStop() {
				return mqtt.Ack{Reason: ReasonEmergencyStop}
			}
			return mqtt.Ack{Reason: ReasonRefused}
		}
		if d.metrics != nil {
			d.metrics.PumpStarts.Inc()
		}
		d.PublishPump(true)
		return mqtt.Ack{OK: true}
	}
	d.pump.TurnOff()
	if d.pump.State() {
		return mqtt.Ack{Reason: ReasonRefused}
	}
	d.PublishPump(false)
	return mqtt.Ack{OK: true}
}

// PublishPump publishes the retained pump state and, when the wall clock
// is valid, the epoch-millisecond time of the last start.
func (d *Dispatcher) PublishPump(on bool) {
	if d.metrics != nil {
		metrics.SetBool(d.metrics.PumpOn, on)
	}
	d.publish(mqtt.Message{Topic: d.topics.Pump(), Payload: mqtt.PumpPayload(on), QoS: 1, Retained: true})
	if !on {
		return
	}
	if now, ok := d.clock.Now(); ok {
		ms := strconv.FormatInt(now.UnixMilli(), 10)
		d.publish(mqtt.Message{Topic: d.topics.LastOn(), Payload: []byte(ms), QoS: 1, Retained: true})
	}
}

func (d *Dispatcher) publish(msg mqtt.Message) {
	if err := d.client.Publish(msg); err != nil {
		d.log.Warnw("publish failed", "topic", msg.Topic, "error", err)
	}
}

// pendingAck is an ack held back until just before a reset, since an
// accepted reboot does not return on real hardware.
type pendingAck struct {
	topic string
	ack   mqtt.Ack
}

// requestReboot asks for a reboot with p pending. p is published by
// FlushPending from the reset hook, or here once the request returns.
func (d *Dispatcher) requestReboot(reason string, sev reboot.Severity, p pendingAck) bool {
	d.pending = &p
	accepted := d.reboots.RequestReboot(reason, sev)
	left := d.pending
	d.pending = nil
	if accepted && left != nil {
		d.ackTo(left.topic, left.ack)
	}
	return accepted
}

func (d *Dispatcher) reboot(name string, sev reboot.Severity) {
	ok := mqtt.Ack{OK: true, Command: name}
	if !d.requestReboot("command:"+name, sev, pendingAck{topic: d.topics.CommandAck(), ack: ok}) {
		d.ack(d.topics.CommandAck(), mqtt.Ack{Reason: ReasonRefused, Command: name})
	}
}

// FlushPending publishes an ack held back for a reboot in progress.
func (d *Dispatcher) FlushPending() {
	if d.pending == nil {
		return
	}
	p := *d.pending
	d.pending = nil
	d.ackTo(p.topic, p.ack)
}

func (d *Dispatcher) runUpdate(ctx context.Context, domain string) mqtt.Ack {
	if !d.limiter.Allow() {
		return mqtt.Ack{Reason: ReasonRateLimited}
	}
	report, err := d.updates.RunDomain(ctx, domain)
	if errors.Is(err, update.ErrUnknownDomain) {
		return mqtt.Ack{Reason: ReasonUnknownDomain}
	}
	if err != nil {
		return mqtt.Ack{Reason: err.Error()}
	}
	if len(report.Outcomes) == 0 {
		return mqtt.Ack{Reason: ReasonUnknownDomain}
	}
	out := report.Outcomes[0]
	if !out.Succeeded {
		if out.ErrorClass != "" {
			return mqtt.Ack{Reason: string(out.ErrorClass)}
		}
		return mqtt.Ack{Reason: string(out.Result)}
	}
	return mqtt.Ack{OK: true, Reason: string(out.Result)}
}

func (d *Dispatcher) clearEmergencyStop() mqtt.Ack {
	if !d.pump.ClearEmergencyStop() {
		return mqtt.Ack{Reason: ReasonNotStopped}
	}
	return mqtt.Ack{OK: true}
}

// wantsReboot reports whether a config/set payload asks for a reboot once
// applied.
func wantsReboot(payload []byte) bool {
	var body struct {
		Reboot bool `json:"reboot"`
	}
	if err := json.Unmarshal(jsonc.ToJSON(payload), &body); err != nil {
		return false
	}
	return body.Reboot
}

func (d *Dispatcher) setConfig(payload []byte) {
	d.ApplyConfig(payload, d.topics.ConfigAck())
}

// ApplyConfig applies a configuration payload and, when the payload asks
// for it, requests a reboot afterwards. The ack is published on ackTopic
// unless it is empty, ahead of any reboot.
func (d *Dispatcher) ApplyConfig(payload []byte, ackTopic string) mqtt.Ack {
	res, err := d.config.Apply(payload)
	if err != nil {
		d.log.Warnw("config set rejected", "error", err)
		a := mqtt.Ack{Reason: devconfig.Reason(err)}
		d.ackTo(ackTopic, a)
		return a
	}
	d.log.Infow("config set applied", "changed", res.Changed, "critical", res.Critical)
	if res.Changed && d.OnConfig != nil {
		d.OnConfig(res)
	}

	a := mqtt.Ack{OK: true}
	if !wantsReboot(payload) {
		d.ackTo(ackTopic, a)
		return a
	}
	if !d.requestReboot("config:set", reboot.SeverityNormal, pendingAck{topic: ackTopic, ack: a}) {
		d.log.Infow("reboot after config set refused")
		d.ackTo(ackTopic, a)
	}
	return a
}
