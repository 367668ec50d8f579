// Package settings resolves daemon settings from flags, BONSAI_* environment
// variables and an optional YAML file, in that order of precedence.
package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sweeney/bonsai-node/internal/devconfig"
	"github.com/sweeney/bonsai-node/internal/logger"
	"github.com/sweeney/bonsai-node/internal/pump"
	"github.com/sweeney/bonsai-node/internal/sensor"
	"github.com/sweeney/bonsai-node/internal/version"
)

// DefaultFile is read when present.
const DefaultFile = "/etc/bonsai-node/settings.yaml"

// EnvPrefix prefixes every environment override, e.g. BONSAI_STATE_DB.
const EnvPrefix = "BONSAI"

// Settings are the daemon's process-level settings. Device behaviour lives
// in devconfig.
type Settings struct {
	DeviceID       string
	StateDB        string
	ConfigPath     string
	SlotDir        string
	HTTP           string
	Poll           time.Duration
	Heartbeat      time.Duration
	MaxRun         time.Duration
	Debounce       time.Duration
	SensorPath     string
	GPIOChip       string
	RelayActiveLow bool
	WatchdogDevice string
	LogLevel       string
	ConfigReboot   bool
	ProgramVersion string
}

// key maps a settings key to its flag.
type key struct {
	name string
	flag string
}

var keys = []key{
	{"device_id", "device-id"},
	{"state_db", "state-db"},
	{"config_path", "config"},
	{"slot_dir", "slot-dir"},
	{"http", "http"},
	{"poll", "poll"},
	{"heartbeat", "heartbeat"},
	{"max_run", "max-run"},
	{"debounce", "debounce"},
	{"sensor_path", "sensor"},
	{"gpio_chip", "gpio-chip"},
	{"relay_active_low", "relay-active-low"},
	{"watchdog_device", "watchdog"},
	{"log_level", "log-level"},
	{"config_reboot", "config-reboot"},
	{"program_version", "program-version"},
}

// BindFlags defines the daemon flags on fs.
func BindFlags(fs *pflag.FlagSet) {
	fs.String("device-id", "", "Device identifier used in topics (default: hostname)")
	fs.String("state-db", "/var/lib/bonsai-node/state.db", "SQLite state store")
	fs.String("config", devconfig.DefaultPath, "Device configuration file")
	fs.String("slot-dir", "/var/lib/bonsai-node/slots", "Program image slot directory")
	fs.String("http", ":80", "HTTP status address (empty to disable)")
	fs.Duration("poll", 200*time.Millisecond, "Control loop interval")
	fs.Duration("heartbeat", 15*time.Minute, "Heartbeat interval (0 to disable)")
	fs.Duration("max-run", pump.DefaultMaxRun, "Pump run-time ceiling")
	fs.Duration("debounce", 2*time.Second, "Soil state debounce")
	fs.String("sensor", sensor.DefaultPath, "IIO raw file of the soil sensor")
	fs.String("gpio-chip", "gpiochip0", "GPIO chip of the pump relay line")
	fs.Bool("relay-active-low", false, "Pump relay energizes on a low line")
	fs.String("watchdog", "", "Watchdog device to feed (empty to disable)")
	fs.String("log-level", logger.InfoLevel, "Log level: debug, info, warn, error")
	fs.Bool("config-reboot", false, "Reboot instead of reconnecting after a critical config update")
	fs.String("program-version", version.Build, "Running program version")
}

// Load resolves settings. file may be empty; a missing file is not an error.
func Load(flags *pflag.FlagSet, file string) (Settings, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, k := range keys {
		f := flags.Lookup(k.flag)
		if f == nil {
			return Settings{}, fmt.Errorf("settings: flag %q not defined", k.flag)
		}
		if err := v.BindPFlag(k.name, f); err != nil {
			return Settings{}, fmt.Errorf("settings: bind %s: %w", k.name, err)
		}
	}

	if file != "" {
		if _, err := os.Stat(file); err == nil {
			v.SetConfigFile(file)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return Settings{}, fmt.Errorf("settings: read %s: %w", file, err)
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return Settings{}, fmt.Errorf("settings: stat %s: %w", file, err)
		}
	}

	s := Settings{
		DeviceID:       v.GetString("device_id"),
		StateDB:        v.GetString("state_db"),
		ConfigPath:     v.GetString("config_path"),
		SlotDir:        v.GetString("slot_dir"),
		HTTP:           v.GetString("http"),
		Poll:           v.GetDuration("poll"),
		Heartbeat:      v.GetDuration("heartbeat"),
		MaxRun:         v.GetDuration("max_run"),
		Debounce:       v.GetDuration("debounce"),
		SensorPath:     v.GetString("sensor_path"),
		GPIOChip:       v.GetString("gpio_chip"),
		RelayActiveLow: v.GetBool("relay_active_low"),
		WatchdogDevice: v.GetString("watchdog_device"),
		LogLevel:       v.GetString("log_level"),
		ConfigReboot:   v.GetBool("config_reboot"),
		ProgramVersion: v.GetString("program_version"),
	}
	if s.DeviceID == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "bonsai"
		}
		s.DeviceID = host
	}
	return s, s.validate()
}

func (s Settings) validate() error {
	switch {
	case s.Poll <= 0:
		return fmt.Errorf("settings: poll must be positive, got %v", s.Poll)
	case s.MaxRun <= 0:
		return fmt.Errorf("settings: max_run must be positive, got %v", s.MaxRun)
	case s.Poll >= s.MaxRun:
		return fmt.Errorf("settings: poll %v must be shorter than max_run %v", s.Poll, s.MaxRun)
	case s.Heartbeat < 0 || s.Debounce < 0:
		return errors.New("settings: heartbeat and debounce must not be negative")
	case strings.ContainsAny(s.DeviceID, "/+#"):
		return fmt.Errorf("settings: device_id %q contains MQTT wildcard or separator", s.DeviceID)
	}
	return nil
}
