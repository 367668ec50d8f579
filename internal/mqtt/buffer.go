package mqtt

import "github.com/sweeney/bonsai-node/internal/logger"

// outbox queues publishes while the broker is unreachable and replays them
// in order once the session is back. A retained message replaces any queued
// retained message for the same topic, since the broker keeps only the last.
// Not safe for concurrent use; the caller synchronizes.
type outbox struct {
	buf      []Message
	capacity int
	head     int // next write position
	count    int
	dropped  int // messages lost since last drain
	log      *logger.Logger
}

func newOutbox(capacity int, log *logger.Logger) *outbox {
	return &outbox{
		buf:      make([]Message, capacity),
		capacity: capacity,
		log:      log,
	}
}

func (o *outbox) index(i int) int {
	return (o.head - o.count + i + 2*o.capacity) % o.capacity
}

func (o *outbox) push(msg Message) {
	if msg.Retained {
		for i := 0; i < o.count; i++ {
			slot := &o.buf[o.index(i)]
			if slot.Retained && slot.Topic == msg.Topic {
				*slot = msg
				return
			}
		}
	}
	if o.count == o.capacity {
		if o.dropped == 0 {
			o.log.Warnw("publish queue full, dropping oldest", "capacity", o.capacity)
		}
		o.dropped++
		// head already points at the oldest entry
		o.buf[o.head] = msg
		o.head = (o.head + 1) % o.capacity
		return
	}
	o.buf[o.head] = msg
	o.head = (o.head + 1) % o.capacity
	o.count++
}

// drain returns the queued messages oldest first and empties the queue.
func (o *outbox) drain() []Message {
	if o.count == 0 {
		return nil
	}
	out := make([]Message, o.count)
	for i := range out {
		out[i] = o.buf[o.index(i)]
	}
	if o.dropped > 0 {
		o.log.Warnw("publish queue overflowed while offline", "dropped", o.dropped)
	}
	o.count = 0
	o.head = 0
	o.dropped = 0
	return out
}

func (o *outbox) len() int {
	return o.count
}
