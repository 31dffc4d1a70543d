// Package middleware declares the interfaces the recording engine needs
// from the surrounding pub/sub middleware. The middleware implementation
// itself (topic discovery, transport, wire deserialization) is out of
// scope for this repository; this package is the seam the engine is
// written against, plus a small in-memory fake used by tests.
package middleware

import (
	"time"

	"github.com/otus-rec/rec-agent/internal/frame"
)

// FrameHandler receives every frame delivered on a subscription.
type FrameHandler func(f *frame.Frame)

// Subscriber receives frames published on one topic.
type Subscriber interface {
	// SetHandler installs the callback invoked for every delivered frame.
	// Implementations must not block the publisher inside the callback.
	SetHandler(h FrameHandler)
	// Close stops delivery and releases any underlying transport resources.
	Close() error
}

// PublisherInfo describes one known publisher of a topic, as surfaced by
// the middleware's discovery/monitoring layer.
type PublisherInfo struct {
	Host  string
	PID   int32
	Topic string
}

// TopicInfo describes one topic known to the middleware, independent of
// whether this process currently subscribes to it.
type TopicInfo struct {
	Topic       string
	Publishers  []PublisherInfo
	Description string
}

// Snapshot is a point-in-time view of every topic the middleware currently
// knows about, as consumed by the engine's monitoring timer (Component L).
type Snapshot struct {
	Topics    map[string]TopicInfo
	Timestamp time.Time
}

// Middleware is the full collaborator surface the engine needs: topic
// discovery plus subscription management (spec §4, "subscribes to
// pub/sub middleware").
type Middleware interface {
	// Snapshot returns the middleware's current view of known topics.
	Snapshot() Snapshot
	// Subscribe opens a subscription to topic. Calling Subscribe again for
	// a topic that already has a live subscription is an error.
	Subscribe(topic string) (Subscriber, error)
}
