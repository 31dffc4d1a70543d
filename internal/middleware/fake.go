package middleware

import (
	"fmt"
	"sync"
)

// Fake is an in-memory Middleware used by engine tests: topics are
// declared up front, and test code calls Publish to drive frame delivery
// to whatever Subscriber the engine installed.
type Fake struct {
	mu          sync.Mutex
	topics      map[string]TopicInfo
	subscribers map[string]*fakeSubscriber
}

// NewFake returns an empty Fake. Use Declare to seed topics before the
// engine's monitoring timer first calls Snapshot.
func NewFake() *Fake {
	return &Fake{
		topics:      make(map[string]TopicInfo),
		subscribers: make(map[string]*fakeSubscriber),
	}
}

// Declare adds or replaces a topic's discovery metadata.
func (f *Fake) Declare(info TopicInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics[info.Topic] = info
}

func (f *Fake) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]TopicInfo, len(f.topics))
	for k, v := range f.topics {
		out[k] = v
	}
	return Snapshot{Topics: out}
}

func (f *Fake) Subscribe(topic string) (Subscriber, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.subscribers[topic]; exists {
		return nil, fmt.Errorf("middleware: already subscribed to %s", topic)
	}
	sub := &fakeSubscriber{topic: topic, parent: f}
	f.subscribers[topic] = sub
	return sub, nil
}

// Publish delivers payload to topic's current subscriber, if any.
func (f *Fake) Publish(topic string, deliver func(h FrameHandler)) {
	f.mu.Lock()
	sub := f.subscribers[topic]
	f.mu.Unlock()
	if sub == nil {
		return
	}
	sub.mu.Lock()
	handler := sub.handler
	sub.mu.Unlock()
	if handler != nil {
		deliver(handler)
	}
}

type fakeSubscriber struct {
	topic  string
	parent *Fake

	mu      sync.Mutex
	handler FrameHandler
}

func (s *fakeSubscriber) SetHandler(h FrameHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

func (s *fakeSubscriber) Close() error {
	s.parent.mu.Lock()
	defer s.parent.mu.Unlock()
	delete(s.parent.subscribers, s.topic)
	return nil
}
