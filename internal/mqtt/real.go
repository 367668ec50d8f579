package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/bonsai-node/internal/logger"
)

const (
	publishTimeout    = 5 * time.Second
	subscribeTimeout  = 5 * time.Second
	disconnectQuiesce = 1000 // ms
	retryInterval     = 5 * time.Second
	inboxSize         = 32
	outboxSize        = 64
)

// RealClient is the command channel on an actual MQTT broker. The session
// reconnects on its own; publishes made while offline are queued and
// replayed on the next connect.
type RealClient struct {
	mu     sync.Mutex
	client paho.Client
	opts   Options
	topics Topics
	out    *outbox
	inbox  chan Message
	log    *logger.Logger
}

// NewRealClient starts a session with opts. Connecting continues in the
// background, so an unreachable broker does not block startup. With no
// broker configured the client only queues.
func NewRealClient(opts Options, log *logger.Logger) *RealClient {
	c := &RealClient{
		inbox: make(chan Message, inboxSize),
		out:   newOutbox(outboxSize, log),
		log:   log,
	}
	c.mu.Lock()
	c.startLocked(opts)
	c.mu.Unlock()
	return c
}

func (c *RealClient) startLocked(opts Options) {
	c.opts = opts
	c.topics = NewTopics(opts.DeviceID)
	c.client = nil
	if !opts.Enabled() {
		c.log.Warnw("no broker configured, command channel idle")
		return
	}

	po := paho.NewClientOptions().
		AddBroker(opts.URL()).
		SetClientID(opts.ClientID).
		SetUsername(opts.Username).
		SetPassword(opts.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(retryInterval).
		SetOrderMatters(false).
		SetWill(c.topics.Online(), PayloadOffline, 1, true).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			c.log.Warnw("broker connection lost", "error", err)
		})

	c.client = paho.NewClient(po)
	c.client.Connect()
	c.log.Infow("connecting to broker", "broker", opts.URL(), "client_id", opts.ClientID)
}

func (c *RealClient) onConnect(pc paho.Client) {
	c.mu.Lock()
	topics := c.topics
	pending := c.out.drain()
	c.mu.Unlock()

	filters := make(map[string]byte)
	for _, t := range topics.Subscriptions() {
		filters[t] = 1
	}
	token := pc.SubscribeMultiple(filters, c.onMessage)
	if !token.WaitTimeout(subscribeTimeout) {
		c.log.Errorw("subscribe timed out")
	} else if err := token.Error(); err != nil {
		c.log.Errorw("subscribe failed", "error", err)
	}

	pc.Publish(topics.Online(), 1, true, PayloadOnline)
	for _, m := range pending {
		pc.Publish(m.Topic, m.QoS, m.Retained, m.Payload)
	}
	c.log.Infow("broker connected", "replayed", len(pending))
}

func (c *RealClient) onMessage(_ paho.Client, m paho.Message) {
	msg := Message{
		Topic:    m.Topic(),
		Payload:  append([]byte(nil), m.Payload()...),
		QoS:      m.Qos(),
		Retained: m.Retained(),
	}
	select {
	case c.inbox <- msg:
	default:
		c.log.Warnw("inbound queue full, dropping message", "topic", msg.Topic)
	}
}

// Publish sends msg, or queues it while disconnected.
func (c *RealClient) Publish(msg Message) error {
	c.mu.Lock()
	pc := c.client
	if pc == nil || !pc.IsConnectionOpen() {
		c.out.push(msg)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	token := pc.Publish(msg.Topic, msg.QoS, msg.Retained, msg.Payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timeout", msg.Topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Topic, err)
	}
	return nil
}

// IsConnected reports whether the broker session is up.
func (c *RealClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client != nil && c.client.IsConnectionOpen()
}

// Messages delivers inbound messages.
func (c *RealClient) Messages() <-chan Message {
	return c.inbox
}

// Reconnect closes the current session and starts a new one with opts.
// Queued publishes carry over.
func (c *RealClient) Reconnect(opts Options) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		c.client.Disconnect(disconnectQuiesce / 4)
	}
	c.startLocked(opts)
	return nil
}

// Close marks the device offline and disconnects. A clean disconnect does
// not fire the will, so the offline marker is published explicitly.
func (c *RealClient) Close() error {
	c.mu.Lock()
	pc := c.client
	topics := c.topics
	c.client = nil
	c.mu.Unlock()

	if pc == nil {
		return nil
	}
	if pc.IsConnectionOpen() {
		token := pc.Publish(topics.Online(), 1, true, PayloadOffline)
		token.WaitTimeout(publishTimeout)
	}
	pc.Disconnect(disconnectQuiesce)
	return nil
}
