package mqtt

import "sync"

// FakeClient records publishes and lets tests inject inbound messages.
type FakeClient struct {
	mu sync.Mutex

	// Published contains every message passed to Publish, in order.
	Published []Message

	// PublishError, if set, will be returned by Publish.
	PublishError error

	// ReconnectError, if set, will be returned by Reconnect.
	ReconnectError error

	// Reconnects records the options of each Reconnect call.
	Reconnects []Options

	// Connected controls the return value of IsConnected.
	Connected bool

	// Closed tracks if Close was called.
	Closed bool

	inbox chan Message
}

// NewFakeClient creates a connected FakeClient.
func NewFakeClient() *FakeClient {
	return &FakeClient{Connected: true, inbox: make(chan Message, inboxSize)}
}

// Publish records msg.
func (f *FakeClient) Publish(msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Published = append(f.Published, msg)
	return nil
}

// IsConnected reports whether the fake client is "connected".
func (f *FakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// SetConnected changes the connection state.
func (f *FakeClient) SetConnected(ok bool) {
	f.mu.Lock()
	f.Connected = ok
	f.mu.Unlock()
}

// Messages delivers injected messages.
func (f *FakeClient) Messages() <-chan Message {
	return f.inbox
}

// Inject queues an inbound message.
func (f *FakeClient) Inject(topic string, payload []byte) {
	f.inbox <- Message{Topic: topic, Payload: payload}
}

// Reconnect records opts.
func (f *FakeClient) Reconnect(opts Options) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReconnectError != nil {
		return f.ReconnectError
	}
	f.Reconnects = append(f.Reconnects, opts)
	return nil
}

// Close marks the client as closed.
func (f *FakeClient) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// On returns the messages published to topic, in order.
func (f *FakeClient) On(topic string) []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Message
	for _, m := range f.Published {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// Last returns the most recent message on topic.
func (f *FakeClient) Last(topic string) (Message, bool) {
	msgs := f.On(topic)
	if len(msgs) == 0 {
		return Message{}, false
	}
	return msgs[len(msgs)-1], true
}

// Reset clears recorded publishes.
func (f *FakeClient) Reset() {
	f.mu.Lock()
	f.Published = nil
	f.Reconnects = nil
	f.PublishError = nil
	f.mu.Unlock()
}
