// Package events fans state changes out to per-user subscribers.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"autoforwardx/internal/constants"
	"autoforwardx/internal/metrics"
	"autoforwardx/internal/models"

	"github.com/sirupsen/logrus"
)

// Publisher is implemented by anything that accepts events. Publish must not block.
type Publisher interface {
	Publish(event models.Event)
}

// Sink receives every locally published event, e.g. to mirror it to other instances.
type Sink interface {
	Forward(event models.Event)
}

// Broadcaster is a topic-keyed pub/sub where the topic is the user id.
// Delivery is best effort: a full subscriber buffer loses its oldest event.
type Broadcaster struct {
	mu     sync.RWMutex
	topics map[string]map[uint64]*Subscription
	nextID uint64
	buffer int
	sinks  []Sink
	logger *logrus.Logger
}

// NewBroadcaster creates a broadcaster whose subscribers buffer up to buffer events.
func NewBroadcaster(buffer int, logger *logrus.Logger) *Broadcaster {
	if buffer <= 0 {
		buffer = constants.DefaultSubscriberBuffer
	}
	return &Broadcaster{
		topics: make(map[string]map[uint64]*Subscription),
		buffer: buffer,
		logger: logger,
	}
}

// AddSink registers a sink. Sinks must be added before publishing starts.
func (b *Broadcaster) AddSink(sink Sink) {
	b.mu.Lock()
	b.sinks = append(b.sinks, sink)
	b.mu.Unlock()
}

// Subscribe opens a subscription on a user's topic.
func (b *Broadcaster) Subscribe(userID string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:     b.nextID,
		userID: userID,
		ch:     make(chan models.Event, b.buffer),
		owner:  b,
	}
	if b.topics[userID] == nil {
		b.topics[userID] = make(map[uint64]*Subscription)
	}
	b.topics[userID][sub.id] = sub

	b.logger.WithFields(logrus.Fields{
		constants.LogFieldUserID:      userID,
		constants.LogFieldSubscribers: len(b.topics[userID]),
	}).Debug("Subscriber attached")
	return sub
}

// Publish delivers an event to local subscribers and forwards it to sinks.
func (b *Broadcaster) Publish(event models.Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	b.PublishLocal(event)

	b.mu.RLock()
	sinks := b.sinks
	b.mu.RUnlock()
	for _, sink := range sinks {
		sink.Forward(event)
	}
}

// PublishLocal delivers an event to this instance's subscribers only.
func (b *Broadcaster) PublishLocal(event models.Event) {
	b.mu.RLock()
	topic := b.topics[event.UserID]
	subs := make([]*Subscription, 0, len(topic))
	for _, sub := range topic {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	metrics.RecordEventPublished(string(event.Type))
	for _, sub := range subs {
		sub.deliver(event)
	}
}

// SubscriberCount returns the number of open subscriptions for a user.
func (b *Broadcaster) SubscriberCount(userID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[userID])
}

// Close closes every subscription.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	var subs []*Subscription
	for _, topic := range b.topics {
		for _, sub := range topic {
			subs = append(subs, sub)
		}
	}
	b.topics = make(map[string]map[uint64]*Subscription)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

func (b *Broadcaster) remove(sub *Subscription) {
	b.mu.Lock()
	if topic, ok := b.topics[sub.userID]; ok {
		delete(topic, sub.id)
		if len(topic) == 0 {
			delete(b.topics, sub.userID)
		}
	}
	b.mu.Unlock()
}

// Subscription is one consumer's bounded event stream.
type Subscription struct {
	id      uint64
	userID  string
	ch      chan models.Event
	owner   *Broadcaster
	mu      sync.Mutex
	closed  bool
	dropped atomic.Uint64
}

// Events returns the receive side of the subscription. It is closed by Close.
func (s *Subscription) Events() <-chan models.Event {
	return s.ch
}

// UserID returns the subscribed topic.
func (s *Subscription) UserID() string {
	return s.userID
}

// Dropped returns how many events were discarded for this subscriber.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close detaches the subscription and closes its channel. Safe to call twice.
func (s *Subscription) Close() {
	s.owner.remove(s)
	s.close()
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// deliver never blocks: when the buffer is full the oldest event makes room.
func (s *Subscription) deliver(event models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- event:
			return
		default:
		}
		select {
		case <-s.ch:
			s.dropped.Add(1)
			metrics.RecordEventDropped()
		default:
		}
	}
}
