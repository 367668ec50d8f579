// Command bonsai-node waters a plant: it reads the soil probe, runs the pump
// under a hard run-time ceiling, takes commands over MQTT and applies
// program and configuration updates.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/sweeney/bonsai-node/internal/clock"
	"github.com/sweeney/bonsai-node/internal/devconfig"
	"github.com/sweeney/bonsai-node/internal/gpio"
	"github.com/sweeney/bonsai-node/internal/logger"
	"github.com/sweeney/bonsai-node/internal/metrics"
	"github.com/sweeney/bonsai-node/internal/mqtt"
	"github.com/sweeney/bonsai-node/internal/power"
	"github.com/sweeney/bonsai-node/internal/pump"
	"github.com/sweeney/bonsai-node/internal/reboot"
	"github.com/sweeney/bonsai-node/internal/sensor"
	"github.com/sweeney/bonsai-node/internal/settings"
	"github.com/sweeney/bonsai-node/internal/status"
	"github.com/sweeney/bonsai-node/internal/store"
	"github.com/sweeney/bonsai-node/internal/update"
	"github.com/sweeney/bonsai-node/internal/version"
	"github.com/sweeney/bonsai-node/internal/watchdog"
	"github.com/sweeney/bonsai-node/internal/web"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var settingsFile string

	root := &cobra.Command{
		Use:          "bonsai-node",
		Short:        "Irrigation node daemon",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&settingsFile, "settings", settings.DefaultFile, "Settings file (YAML)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := settings.Load(cmd.Flags(), settingsFile)
			if err != nil {
				return err
			}
			return run(s)
		},
	}
	settings.BindFlags(runCmd.Flags())

	stateCmd := &cobra.Command{
		Use:   "state",
		Short: "Print the boot record, update fuses and pump snapshot, then exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := settings.Load(cmd.Flags(), settingsFile)
			if err != nil {
				return err
			}
			return printState(cmd.OutOrStdout(), s.StateDB)
		},
	}
	settings.BindFlags(stateCmd.Flags())

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the program version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Build)
		},
	}

	root.AddCommand(runCmd, stateCmd, versionCmd)
	return root
}

func run(s settings.Settings) error {
	log := logger.New(s.LogLevel)
	defer log.Sync()
	clk := clock.Real()

	st, err := store.Open(s.StateDB)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer st.Close()

	rebootNS, err := st.Claim(reboot.Namespace)
	if err != nil {
		return err
	}
	fuseNS, err := st.Claim(update.FuseNamespace)
	if err != nil {
		return err
	}
	pumpNS, err := st.Claim(pump.Namespace)
	if err != nil {
		return err
	}

	gov := reboot.New(rebootNS, clk, power.NewLinux(), log.Named("reboot"))
	if err := gov.Begin(); err != nil {
		log.Errorw("boot record incomplete", "error", err)
	}
	log.Infow("boot", "reset", gov.ResetSummary(), "state", gov.State())

	cfg, err := devconfig.Load(s.ConfigPath)
	switch {
	case errors.Is(err, devconfig.ErrNotFound):
		log.Warnw("no configuration file, using defaults", "path", s.ConfigPath)
	case err != nil:
		log.Errorw("configuration unusable, using defaults", "error", err)
	}
	cfgHandle := devconfig.NewHandle(s.ConfigPath, cfg)

	out, err := gpio.NewRealOutput(s.GPIOChip, cfg.PumpPin, s.RelayActiveLow)
	if err != nil {
		return fmt.Errorf("init pump line: %w", err)
	}
	defer out.Close()

	pc := pump.New(out, clk, s.MaxRun, log.Named("pump"))
	if err := pc.Begin(); err != nil {
		return fmt.Errorf("de-energize pump: %w", err)
	}

	var kicker watchdog.Kicker = watchdog.Nop{}
	if s.WatchdogDevice != "" {
		wd, err := watchdog.Open(s.WatchdogDevice, log.Named("watchdog"))
		if err != nil {
			return err
		}
		defer wd.Close()
		kicker = wd
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	client := mqtt.NewRealClient(mqtt.OptionsFromConfig(cfg, s.DeviceID), log.Named("mqtt"))
	defer client.Close()

	d, err := newDaemon(parts{
		Settings: s,
		Log:      log,
		Clock:    clk,
		Client:   client,
		Pump:     pc,
		PumpNS:   pumpNS,
		Reboots:  gov,
		Fuses:    update.NewGovernor(fuseNS, clk, log.Named("fuse")),
		Config:   cfgHandle,
		Sensor:   sensor.NewSysfsReader(s.SensorPath),
		Watchdog: kicker,
		Fetcher:  update.NewHTTPFetcher("bonsai-node/" + s.ProgramVersion),
		Metrics:  metrics.New(reg),
	})
	if err != nil {
		return err
	}
	d.restorePump()
	d.start()

	var requests <-chan web.Request
	if s.HTTP != "" {
		srv := web.New(s.HTTP, d.tracker, reg)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorw("http server error", "error", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		requests = srv.Requests()
		log.Infow("http status server listening", "addr", s.HTTP)
	}

	var files <-chan fsnotify.Event
	if w, err := fsnotify.NewWatcher(); err != nil {
		log.Warnw("config file watch unavailable", "error", err)
	} else {
		defer w.Close()
		if err := w.Add(filepath.Dir(s.ConfigPath)); err != nil {
			log.Warnw("config file watch unavailable", "error", err)
		} else {
			files = w.Events
		}
	}

	log.Infow("started", "device", s.DeviceID, "version", s.ProgramVersion,
		"poll", s.Poll, "debounce", s.Debounce, "heartbeat", s.Heartbeat, "max_run", pc.MaxRun())

	ticker := time.NewTicker(s.Poll)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return d.runLoop(context.Background(), ticker.C, sigCh, requests, files)
}

// printState reports persisted resilience state without claiming any
// namespace, so it is safe next to a running daemon.
func printState(w io.Writer, dbPath string) error {
	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer st.Close()

	rec, err := reboot.Load(st.ReadOnly(reboot.Namespace))
	if err != nil {
		return fmt.Errorf("read boot record: %w", err)
	}
	fmt.Fprintf(w, "Boots: %d, window: %d, safe mode: %s, strikes: %d, last reason: %s\n",
		rec.BootCount, rec.WindowCount, stateString(rec.SafeMode), rec.Strikes, orNone(rec.LastReason))

	fuses := update.NewGovernor(st.ReadOnly(update.FuseNamespace), clock.Real(), logger.Nop())
	for _, domain := range []string{update.DomainProgram, update.DomainConfig} {
		f := fuses.Fuse(domain)
		until := "-"
		if f.Until > 0 {
			until = time.Unix(f.Until, 0).UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "Fuse %s: failures: %d, until: %s\n", domain, f.Failures, until)
	}

	snap, ok, err := pump.PeekSnapshot(st.ReadOnly(pump.Namespace))
	switch {
	case err != nil:
		return fmt.Errorf("read pump snapshot: %w", err)
	case !ok:
		fmt.Fprintln(w, "Pump snapshot: none")
	default:
		fmt.Fprintf(w, "Pump snapshot: %s, elapsed: %v, emergency stop: %s\n",
			stateString(snap.IsOn), snap.Elapsed, stateString(snap.EmergencyStop))
	}
	return nil
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}

func stateString(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
