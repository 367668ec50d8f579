package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sweeney/bonsai-node/internal/clock"
	"github.com/sweeney/bonsai-node/internal/command"
	"github.com/sweeney/bonsai-node/internal/devconfig"
	"github.com/sweeney/bonsai-node/internal/logger"
	"github.com/sweeney/bonsai-node/internal/logic"
	"github.com/sweeney/bonsai-node/internal/metrics"
	"github.com/sweeney/bonsai-node/internal/mqtt"
	"github.com/sweeney/bonsai-node/internal/pump"
	"github.com/sweeney/bonsai-node/internal/reboot"
	"github.com/sweeney/bonsai-node/internal/sensor"
	"github.com/sweeney/bonsai-node/internal/settings"
	"github.com/sweeney/bonsai-node/internal/status"
	"github.com/sweeney/bonsai-node/internal/store"
	"github.com/sweeney/bonsai-node/internal/update"
	"github.com/sweeney/bonsai-node/internal/watchdog"
	"github.com/sweeney/bonsai-node/internal/web"
)

// Update and sleep scheduling, as uptime offsets.
const (
	firstUpdateCheck    = time.Minute
	updateCheckInterval = 6 * time.Hour
	sleepAfter          = 2 * time.Minute
	sleepRetry          = time.Minute
)

// System event names published on status/system.
const (
	eventStartup   = "STARTUP"
	eventHeartbeat = "HEARTBEAT"
	eventShutdown  = "SHUTDOWN"
)

// parts are the hardware-facing and persistent collaborators of the daemon.
// run builds the real ones; tests pass fakes.
type parts struct {
	Settings settings.Settings
	Log      *logger.Logger
	Clock    clock.Clock
	Client   mqtt.Client
	Pump     *pump.Controller
	PumpNS   *store.Namespace
	Reboots  *reboot.Governor
	Fuses    *update.Governor
	Config   *devconfig.Handle
	Sensor   sensor.Reader
	Watchdog watchdog.Kicker
	Fetcher  update.Fetcher
	Metrics  *metrics.Metrics
}

// daemon is the control loop state. Every method runs on the loop
// goroutine except beforeReset, which the reboot governor calls from
// whichever goroutine requested the reset.
type daemon struct {
	set      settings.Settings
	log      *logger.Logger
	clk      clock.Clock
	client   mqtt.Client
	topics   mqtt.Topics
	pump     *pump.Controller
	pumpNS   *store.Namespace
	reboots  *reboot.Governor
	fuses    *update.Governor
	updates  *update.Manager
	config   *devconfig.Handle
	cmds     *command.Dispatcher
	sensor   sensor.Reader
	watchdog watchdog.Kicker
	tracker  *status.Tracker
	metrics  *metrics.Metrics
	detector *logic.Detector
	watering *logic.Watering

	connected   bool
	measured    bool
	lastMeasure time.Duration
	nextCheck   time.Duration
	nextSleep   time.Duration
	// stopped holds forced stops seen while the loop was blocked in an
	// update download.
	stopped []pump.Event
}

// observedRebooter counts reboot requests by severity and result.
type observedRebooter struct {
	gov     *reboot.Governor
	metrics *metrics.Metrics
}

func (r observedRebooter) RequestReboot(reason string, severity reboot.Severity) bool {
	ok := r.gov.RequestReboot(reason, severity)
	r.metrics.ObserveReboot(severity.String(), ok)
	return ok
}

func newDaemon(p parts) (*daemon, error) {
	s := p.Settings
	cfg := p.Config.Get()
	d := &daemon{
		set:       s,
		log:       p.Log,
		clk:       p.Clock,
		client:    p.Client,
		topics:    mqtt.NewTopics(s.DeviceID),
		pump:      p.Pump,
		pumpNS:    p.PumpNS,
		reboots:   p.Reboots,
		fuses:     p.Fuses,
		config:    p.Config,
		sensor:    p.Sensor,
		watchdog:  p.Watchdog,
		metrics:   p.Metrics,
		nextCheck: firstUpdateCheck,
		nextSleep: sleepAfter,
	}
	d.tracker = status.NewTracker(p.Clock, status.Config{
		DeviceID:    s.DeviceID,
		Version:     s.ProgramVersion,
		PollMs:      s.Poll.Milliseconds(),
		DebounceMs:  s.Debounce.Milliseconds(),
		HeartbeatMs: s.Heartbeat.Milliseconds(),
		MaxRunMs:    p.Pump.MaxRun().Milliseconds(),
		Broker:      cfg.MQTTBroker,
		HTTPAddr:    s.HTTP,
	})
	d.detector = logic.NewDetector(s.Debounce, cfg.MoistureThreshold, d.mono())
	d.watering = logic.NewWatering(d.wateringTiming(cfg))

	rebooter := observedRebooter{gov: p.Reboots, metrics: p.Metrics}
	deps := update.Deps{
		Fetcher: p.Fetcher,
		Config:  p.Config,
		Clock:   p.Clock,
		Kicker:  d,
		Log:     p.Log.Named("update"),
	}
	mode := update.ModeReconnect
	if s.ConfigReboot {
		mode = update.ModeReboot
	}
	d.updates = update.NewManager(p.Fuses, rebooter, p.Log.Named("update"))
	d.updates.OnOutcome = d.onOutcome
	d.updates.OnCritical = func() { d.reconnect(d.config.Get()) }
	if err := d.updates.Register(update.NewProgramStrategy(deps, update.Slots{Dir: s.SlotDir}, s.ProgramVersion)); err != nil {
		return nil, err
	}
	if err := d.updates.Register(update.NewConfigStrategy(deps, mode)); err != nil {
		return nil, err
	}

	d.cmds = command.New(command.Deps{
		Client:  p.Client,
		Topics:  d.topics,
		Pump:    p.Pump,
		Updates: d.updates,
		Reboots: rebooter,
		Config:  p.Config,
		Clock:   p.Clock,
		Metrics: p.Metrics,
		Log:     p.Log.Named("command"),
	})
	d.cmds.OnConfig = d.configChanged
	p.Reboots.BeforeReset = d.beforeReset

	for _, domain := range d.updates.Domains() {
		d.observeFuse(domain)
	}
	d.refreshReboot()
	return d, nil
}

// mono maps uptime onto a time.Time for the pure logic package. Wall time
// may be missing or jump, uptime does neither.
func (d *daemon) mono() time.Time {
	return time.Time{}.Add(d.clk.Uptime())
}

// wateringTiming derives the run length and minimum gap between runs. The
// run ends one poll before the pump ceiling so a long pump_duration does
// not end in an emergency stop.
func (d *daemon) wateringTiming(cfg devconfig.Config) (duration, minGap time.Duration) {
	duration = time.Duration(cfg.PumpDuration) * time.Second
	minGap = time.Duration(cfg.MeasurementInterval) * time.Millisecond
	if limit := d.pump.MaxRun() - d.set.Poll; duration > limit {
		d.log.Warnw("pump_duration exceeds the pump run ceiling, shortening runs",
			"pump_duration", duration, "max_run", d.pump.MaxRun(), "run", limit)
		duration = limit
	}
	return duration, minGap
}

// Kick feeds the watchdog and enforces the pump ceiling. Update downloads
// call it while they hold the loop.
func (d *daemon) Kick() {
	d.watchdog.Kick()
	if ev, ok := d.pump.Tick(); ok {
		d.stopped = append(d.stopped, ev)
	}
}

// restorePump applies the snapshot saved before the last reset, if any.
func (d *daemon) restorePump() {
	snap, ok, err := pump.TakeSnapshot(d.pumpNS)
	if err != nil {
		d.log.Warnw("pump snapshot unreadable, starting off", "error", err)
		return
	}
	if !ok {
		return
	}
	d.pump.Restore(snap)
}

// start publishes the startup state. The client queues while offline.
func (d *daemon) start() {
	if net := readNetworkInfo(); net != nil {
		d.tracker.SetNetwork(net)
	}
	d.syncPump()
	d.publishSystem(eventStartup, d.reboots.ResetReason(), true)
	d.publishConfig()
}

func (d *daemon) runLoop(ctx context.Context, tick <-chan time.Time, sig <-chan os.Signal, requests <-chan web.Request, files <-chan fsnotify.Event) error {
	for {
		select {
		case s := <-sig:
			d.shutdown(s)
			return nil

		case msg := <-d.client.Messages():
			if !d.cmds.Handle(ctx, msg) {
				d.log.Debugw("message on unhandled topic", "topic", msg.Topic)
			}
			d.drainStops()
			d.syncPump()

		case req := <-requests:
			req.Respond(d.answer(req))

		case ev := <-files:
			if d.isConfigEvent(ev) {
				d.reloadConfig()
			}

		case <-tick:
			d.step(ctx)
		}
	}
}

// step is one loop iteration.
func (d *daemon) step(ctx context.Context) {
	d.Kick()
	d.drainStops()
	d.reboots.Settle()
	d.refreshReboot()
	d.checkConnection()

	uptime := d.clk.Uptime()
	cfg := d.config.Get()

	if raw, err := d.sensor.Read(); err != nil {
		d.log.Warnw("soil read failed", "error", err)
	} else {
		d.sample(raw, cfg)
	}

	if d.set.Heartbeat > 0 {
		if hb := d.detector.CheckHeartbeat(d.mono(), d.set.Heartbeat); hb != nil {
			if net := readNetworkInfo(); net != nil {
				d.tracker.SetNetwork(net)
			}
			d.publishSystem(eventHeartbeat, "", false)
		}
	}

	if uptime >= d.nextCheck {
		d.nextCheck = uptime + updateCheckInterval
		d.updates.RunAll(ctx)
		d.drainStops()
	}

	d.maybeSleep(cfg)
}

// sample feeds one raw reading through the detector and watering timer.
func (d *daemon) sample(raw int, cfg devconfig.Config) {
	now := d.mono()
	events := d.detector.Process(logic.Input{Raw: raw, Time: now})
	moisture := logic.Percent(raw)
	d.metrics.ObserveSoil(raw, moisture)
	d.tracker.UpdateSoil(d.detector.CurrentState(), moisture, raw, d.detector.IsBaselined(), d.detector.Counts())

	for _, ev := range events {
		d.log.Infow("soil event", "event", ev.Type, "moisture", ev.Moisture)
		d.publishMoisture(string(ev.Type), raw)
	}
	if !d.detector.IsBaselined() {
		return
	}

	interval := time.Duration(cfg.MeasurementInterval) * time.Millisecond
	uptime := d.clk.Uptime()
	if !d.measured || (interval > 0 && uptime-d.lastMeasure >= interval) {
		d.measured = true
		d.lastMeasure = uptime
		d.publishMoisture("", raw)
	}

	switch d.watering.Decide(now, d.detector.CurrentState(), cfg.UsePump, d.pump.State()) {
	case logic.ActionStart:
		if a := d.cmds.SetPump(true); a.OK {
			d.watering.Started(now)
			d.detector.RecordWatering()
			d.log.Infow("watering started", "moisture", moisture, "duration", cfg.PumpDuration)
		} else {
			d.log.Warnw("watering refused", "reason", a.Reason)
		}
	case logic.ActionStop:
		d.cmds.SetPump(false)
		d.log.Infow("watering finished")
	}
	d.syncPump()
}

type moistureJSON struct {
	Event    string `json:"event,omitempty"`
	Moisture int    `json:"moisture"`
	Raw      int    `json:"raw"`
	Soil     string `json:"soil"`
}

func (d *daemon) publishMoisture(event string, raw int) {
	payload, _ := json.Marshal(moistureJSON{
		Event:    event,
		Moisture: logic.Percent(raw),
		Raw:      raw,
		Soil:     string(d.detector.CurrentState()),
	})
	d.publish(mqtt.Message{Topic: d.topics.Moisture(), Payload: payload})
}

// drainStops reports forced pump stops.
func (d *daemon) drainStops() {
	if ev, ok := d.pump.Tick(); ok {
		d.stopped = append(d.stopped, ev)
	}
	for _, ev := range d.stopped {
		d.metrics.EmergencyStops.Inc()
		d.cmds.PublishPump(false)
		payload, _ := json.Marshal(struct {
			Event    string `json:"event"`
			RanForMs int64  `json:"ran_for_ms"`
			MaxRunMs int64  `json:"max_run_ms"`
		}{"EMERGENCY_STOP", ev.RanFor.Milliseconds(), d.pump.MaxRun().Milliseconds()})
		d.publish(mqtt.Message{Topic: d.topics.Alert(), Payload: payload, QoS: 1})
	}
	if len(d.stopped) > 0 {
		d.stopped = d.stopped[:0]
		d.syncPump()
	}
}

// syncPump copies the pump state into the tracker.
func (d *daemon) syncPump() {
	st := d.pump.Status()
	d.tracker.SetPump(st.IsOn, st.EmergencyStop)
	metrics.SetBool(d.metrics.PumpOn, st.IsOn)
}

func (d *daemon) refreshReboot() {
	rec := d.reboots.Record()
	d.tracker.SetReboot(status.RebootInfo{
		ResetReason: d.reboots.ResetReason(),
		BootCount:   rec.BootCount,
		SafeMode:    rec.SafeMode,
		State:       d.reboots.State().String(),
	})
	d.metrics.BootCount.Set(float64(rec.BootCount))
	metrics.SetBool(d.metrics.SafeMode, d.reboots.IsSafeMode())
}

// checkConnection republishes retained state when the broker session
// comes back.
func (d *daemon) checkConnection() {
	up := d.client.IsConnected()
	if up && !d.connected {
		d.log.Infow("command channel up")
		d.publishConfig()
		d.cmds.PublishPump(d.pump.State())
	}
	d.connected = up
	d.tracker.SetMQTTConnected(up)
	metrics.SetBool(d.metrics.MQTTConnected, up)
}

func (d *daemon) onOutcome(o update.Outcome) {
	d.tracker.SetLastUpdate(o)
	d.metrics.ObserveOutcome(o)
	d.observeFuse(o.Domain)
	if payload, err := json.Marshal(o); err == nil {
		d.publish(mqtt.Message{Topic: d.topics.Update(), Payload: payload, QoS: 1})
	}
	if o.Domain == update.DomainConfig && o.Result == update.ResultApplied {
		d.applyTiming(d.config.Get())
		d.publishConfig()
	}
}

func (d *daemon) observeFuse(domain string) {
	f := d.fuses.Fuse(domain)
	d.tracker.SetFuse(domain, f)
	d.metrics.ObserveFuse(domain, f)
}

// configChanged applies an accepted configuration change.
func (d *daemon) configChanged(res devconfig.Result) {
	d.applyTiming(res.Current)
	if res.Critical {
		d.reconnect(res.Current)
	}
	d.publishConfig()
}

func (d *daemon) applyTiming(cfg devconfig.Config) {
	d.detector.SetThreshold(cfg.MoistureThreshold)
	d.watering.SetTiming(d.wateringTiming(cfg))
}

func (d *daemon) reconnect(cfg devconfig.Config) {
	opts := mqtt.OptionsFromConfig(cfg, d.set.DeviceID)
	d.tracker.SetBroker(cfg.MQTTBroker)
	if err := d.client.Reconnect(opts); err != nil {
		d.log.Errorw("reconnect failed", "broker", opts.URL(), "error", err)
		return
	}
	d.log.Infow("reconnecting with new broker settings", "broker", opts.URL())
}

func (d *daemon) publishConfig() {
	payload, err := json.Marshal(d.config.Get().Redacted())
	if err != nil {
		d.log.Errorw("config encode failed", "error", err)
		return
	}
	d.publish(mqtt.Message{Topic: d.topics.Config(), Payload: payload, QoS: 1, Retained: true})
}

func (d *daemon) publishSystem(event, reason string, retained bool) {
	d.tracker.SetMQTTConnected(d.client.IsConnected())
	snap := d.tracker.Snapshot()
	d.publish(mqtt.Message{
		Topic:    d.topics.System(),
		Payload:  status.FormatStatusEvent(snap, event, reason),
		QoS:      1,
		Retained: retained,
	})
}

func (d *daemon) publish(msg mqtt.Message) {
	if err := d.client.Publish(msg); err != nil {
		d.log.Warnw("publish failed", "topic", msg.Topic, "error", err)
	}
}

// beforeReset runs with the reboot governor locked, so it must not call
// back into it.
func (d *daemon) beforeReset(sev reboot.Severity) {
	d.cmds.FlushPending()
	if err := pump.SaveSnapshot(d.pumpNS, d.pump.Snapshot()); err != nil {
		d.log.Errorw("pump snapshot write failed", "error", err)
	}
	d.publishSystem(eventShutdown, sev.String(), true)
}

// maybeSleep enters the scheduled sleep once a measurement has gone out
// and the pump is idle.
func (d *daemon) maybeSleep(cfg devconfig.Config) {
	if cfg.SleepHours <= 0 || cfg.Debug || !d.measured {
		return
	}
	uptime := d.clk.Uptime()
	if uptime < d.nextSleep || d.pump.State() || d.watering.Running() {
		return
	}
	d.nextSleep = uptime + sleepRetry
	if err := d.reboots.EnterSleep(time.Duration(cfg.SleepHours) * time.Hour); err != nil {
		d.log.Errorw("scheduled sleep failed", "error", err)
	}
}

func (d *daemon) shutdown(s os.Signal) {
	name := "UNKNOWN"
	switch s {
	case syscall.SIGINT:
		name = "SIGINT"
	case syscall.SIGTERM:
		name = "SIGTERM"
	}
	d.log.Infow("shutting down", "signal", name)
	if d.pump.State() {
		d.cmds.SetPump(false)
	}
	d.syncPump()
	d.publishSystem(eventShutdown, name, true)
	d.reboots.MarkCleanExit()
}

// answer serves a local API request.
func (d *daemon) answer(req web.Request) web.Reply {
	switch req.Kind {
	case web.KindConfigGet:
		return web.JSONReply(http.StatusOK, d.config.Get().Redacted())
	case web.KindConfigSet:
		a := d.cmds.ApplyConfig(req.Body, "")
		return web.JSONReply(ackStatus(a), a)
	case web.KindPumpOn, web.KindPumpOff:
		a := d.cmds.SetPump(req.Kind == web.KindPumpOn)
		d.syncPump()
		return web.JSONReply(ackStatus(a), a)
	}
	return web.JSONReply(http.StatusNotFound, mqtt.Ack{Reason: command.ReasonUnknown})
}

func ackStatus(a mqtt.Ack) int {
	switch {
	case a.OK:
		return http.StatusOK
	case a.Reason == "parse" || a.Reason == "invalid":
		return http.StatusBadRequest
	case a.Reason == "fs_write":
		return http.StatusInternalServerError
	default:
		return http.StatusConflict
	}
}

func (d *daemon) isConfigEvent(ev fsnotify.Event) bool {
	if filepath.Clean(ev.Name) != filepath.Clean(d.config.Path()) {
		return false
	}
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename)
}

// reloadConfig picks up an out-of-band edit of the configuration file.
func (d *daemon) reloadConfig() {
	res, err := d.config.Reload()
	if err != nil {
		d.log.Warnw("config file edit ignored", "error", err)
		return
	}
	if !res.Changed {
		return
	}
	d.log.Infow("config file reloaded", "critical", res.Critical)
	d.configChanged(res)
}
