// Package devconfig holds the device configuration document: its defaults,
// validation rules, on-disk format, and the Handle through which every
// runtime change is applied.
package devconfig

// Config is the device configuration. JSON names are the persisted keys.
type Config struct {
	WifiSSID     string `json:"wifi_ssid" validate:"required"`
	WifiPassword string `json:"wifi_password"`

	MQTTBroker   string `json:"mqtt_broker"`
	MQTTPort     int    `json:"mqtt_port" validate:"min=1,max=65535"`
	MQTTUsername string `json:"mqtt_username"`
	MQTTPassword string `json:"mqtt_password"`

	LEDPin     int `json:"led_pin" validate:"pin"`
	SensorPin  int `json:"sensor_pin" validate:"pin"`
	PumpPin    int `json:"pump_pin" validate:"pin"`
	RelayPin   int `json:"relay_pin" validate:"pin"`
	BatteryPin int `json:"battery_pin" validate:"pin"`

	// MoistureThreshold is the soil moisture percentage below which the
	// soil counts as dry.
	MoistureThreshold int `json:"moisture_threshold" validate:"min=0,max=100"`
	// PumpDuration is the automatic watering run, in seconds.
	PumpDuration int `json:"pump_duration" validate:"min=0,max=3600"`
	// MeasurementInterval is the soil sampling period, in milliseconds.
	MeasurementInterval int64 `json:"measurement_interval" validate:"min=0"`
	UsePump             bool  `json:"use_pump"`
	Debug               bool  `json:"debug"`
	SleepHours          int   `json:"sleep_hours" validate:"min=0,max=24"`

	UseDHCP   bool   `json:"use_dhcp"`
	IPAddress string `json:"ip_address"`
	Gateway   string `json:"gateway"`
	Subnet    string `json:"subnet"`

	OTAManifestURL string `json:"ota_manifest_url"`
	UpdateServer   string `json:"update_server"`
	ConfigVersion  string `json:"config_version"`
	Timezone       string `json:"timezone"`
}

// Default returns the built-in configuration used when no valid file exists.
func Default() Config {
	return Config{
		MQTTPort:            1883,
		LEDPin:              4,
		SensorPin:           32,
		PumpPin:             26,
		RelayPin:            27,
		BatteryPin:          34,
		MoistureThreshold:   25,
		PumpDuration:        5,
		MeasurementInterval: 1800000,
		UsePump:             true,
		UseDHCP:             true,
		Timezone:            "Europe/Rome",
	}
}

// CriticalChanged reports whether any command-channel connection parameter
// differs between a and b. Such a change needs a reconnect to take effect.
func CriticalChanged(a, b Config) bool {
	return a.MQTTBroker != b.MQTTBroker ||
		a.MQTTPort != b.MQTTPort ||
		a.MQTTUsername != b.MQTTUsername ||
		a.MQTTPassword != b.MQTTPassword
}

// Redacted returns a copy with secrets blanked, for publishing.
func (c Config) Redacted() Config {
	if c.WifiPassword != "" {
		c.WifiPassword = redactedValue
	}
	if c.MQTTPassword != "" {
		c.MQTTPassword = redactedValue
	}
	return c
}

const redactedValue = "***"
