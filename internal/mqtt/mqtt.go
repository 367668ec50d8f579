// Package mqtt is the device command channel: status and event publishing
// plus delivery of inbound commands from the broker.
package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sweeney/bonsai-node/internal/devconfig"
)

// Message is a single MQTT message, inbound or outbound.
type Message struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// Client is the command channel used by the daemon.
type Client interface {
	// Publish sends msg, or queues it while the broker is unreachable.
	// Returns error if publishing fails (should not crash the process).
	Publish(msg Message) error

	// IsConnected reports whether the broker connection is up.
	IsConnected() bool

	// Messages delivers inbound messages on subscribed topics.
	Messages() <-chan Message

	// Reconnect drops the current session and connects with opts.
	Reconnect(opts Options) error

	// Close disconnects from the broker.
	Close() error
}

// Options configure the broker session.
type Options struct {
	Broker   string
	Port     int
	Username string
	Password string
	ClientID string
	DeviceID string
}

// OptionsFromConfig derives session options from the device configuration.
func OptionsFromConfig(cfg devconfig.Config, deviceID string) Options {
	return Options{
		Broker:   cfg.MQTTBroker,
		Port:     cfg.MQTTPort,
		Username: cfg.MQTTUsername,
		Password: cfg.MQTTPassword,
		ClientID: "bonsai-" + deviceID,
		DeviceID: deviceID,
	}
}

// Enabled reports whether a broker is configured.
func (o Options) Enabled() bool { return o.Broker != "" }

// URL returns the broker address in paho form. A broker that already carries
// a scheme is used as is.
func (o Options) URL() string {
	if strings.Contains(o.Broker, "://") {
		return o.Broker
	}
	return fmt.Sprintf("tcp://%s:%d", o.Broker, o.Port)
}

// TopicRoot is the first level of every device topic.
const TopicRoot = "bonsai"

// TopicGlobalConfigSet applies a configuration to every device.
const TopicGlobalConfigSet = TopicRoot + "/config/set"

// Command names accepted under <base>/command/.
const (
	CommandPump       = "pump"
	CommandReboot     = "reboot"
	CommandRestart    = "restart"
	CommandOTA        = "ota"
	CommandUpdate     = "update"
	CommandEstopClear = "estop/clear"
)

// Commands lists every subscribed command name.
var Commands = []string{
	CommandPump,
	CommandReboot,
	CommandRestart,
	CommandOTA,
	CommandUpdate,
	CommandEstopClear,
}

// Online/offline payloads for the retained presence topic. The offline
// payload doubles as the broker-held will.
const (
	PayloadOnline  = "1"
	PayloadOffline = "0"
)

// Topics builds the per-device topic names.
type Topics struct {
	base string
}

// NewTopics returns the topic set for deviceID.
func NewTopics(deviceID string) Topics {
	return Topics{base: TopicRoot + "/" + deviceID + "/"}
}

func (t Topics) Online() string { return t.base + "status/online" }
func (t Topics) Pump() string { return t.base + "status/pump" }
func (t Topics) LastOn() string { return t.base + "status/last_on" }
func (t Topics) Update() string { return t.base + "status/update" }
func (t Topics) System() string { return t.base + "status/system" }
func (t Topics) Moisture() string { return t.base + "status/moisture" }
func (t Topics) Config() string { return t.base + "config" }
func (t Topics) ConfigSet() string { return t.base + "config/set" }
func (t Topics) ConfigAck() string { return t.base + "config/ack" }
func (t Topics) CommandAck() string { return t.base + "command/ack" }
func (t Topics) Alert() string { return t.base + "alert" }

// Command returns the topic for the named command.
func (t Topics) Command(name string) string { return t.base + "command/" + name }

// CommandName extracts the command name from an inbound topic.
func (t Topics) CommandName(topic string) (string, bool) {
	name, ok := strings.CutPrefix(topic, t.base+"command/")
	if !ok || name == "" {
		return "", false
	}
	return name, true
}

// IsConfigSet reports whether topic carries a configuration to apply.
func (t Topics) IsConfigSet(topic string) bool {
	return topic == t.ConfigSet() || topic == TopicGlobalConfigSet
}

// Subscriptions lists every inbound topic. Acks share the command/ prefix,
// so commands are subscribed one by one rather than with a wildcard.
func (t Topics) Subscriptions() []string {
	subs := make([]string, 0, len(Commands)+2)
	for _, name := range Commands {
		subs = append(subs, t.Command(name))
	}
	return append(subs, t.ConfigSet(), TopicGlobalConfigSet)
}

// Ack is the reply published on config/ack and command/ack.
type Ack struct {
	OK      bool   `json:"ok"`
	Reason  string `json:"reason,omitempty"`
	ID      string `json:"id,omitempty"`
	Command string `json:"command,omitempty"`
}

// FormatAck creates the JSON payload for an ack.
func FormatAck(a Ack) []byte {
	data, _ := json.Marshal(a)
	return data
}

// PumpPayload is the status/pump value for a pump state.
func PumpPayload(on bool) []byte {
	if on {
		return []byte("on")
	}
	return []byte("off")
}
