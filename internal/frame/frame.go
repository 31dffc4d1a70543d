// Package frame defines the immutable unit of data flowing through the
// recording engine: one captured message from the pub/sub middleware.
package frame

import "time"

// Frame is one immutable captured message. It is created on the middleware
// receive path and shared by reference between the pre-buffer and zero or
// more writer queues; Go's garbage collector retires it once the last
// holder drops its reference, so no explicit refcounting is needed.
type Frame struct {
	Payload []byte

	// PublishTime is the publisher's wall-clock send time (external clock,
	// microsecond resolution).
	PublishTime time.Time

	// ReceiveTime is the wall-clock time the middleware delivered the
	// frame to this process.
	ReceiveTime time.Time

	// MonotonicReceiveTime is a steady-clock timestamp taken at receive;
	// used only for age comparisons (pre-buffer eviction, queue ordering).
	// Never compare it across process restarts.
	MonotonicReceiveTime time.Time

	Topic string

	// PublisherClock is the publisher's per-topic send counter, used to
	// detect gaps/reordering upstream of this process.
	PublisherClock int64

	// ID is an optional application-level identifier; zero value means unset.
	ID uint64
	HasID bool
}

// New constructs a Frame, stamping ReceiveTime and MonotonicReceiveTime at
// call time. Callers on the middleware receive path call this once per
// inbound message.
func New(topic string, payload []byte, publishTime time.Time, publisherClock int64) *Frame {
	now := time.Now()
	return &Frame{
		Payload:              payload,
		PublishTime:          publishTime,
		ReceiveTime:          now,
		MonotonicReceiveTime: now,
		Topic:                topic,
		PublisherClock:       publisherClock,
	}
}

// WithID returns a copy of f carrying the given application id. Frame is
// treated as immutable once published to a queue, so callers that need an
// id must set it before the frame is shared.
func (f *Frame) WithID(id uint64) *Frame {
	cp := *f
	cp.ID = id
	cp.HasID = true
	return &cp
}
