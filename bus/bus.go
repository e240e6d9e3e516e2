// Package bus is the engine's notification bus: a topic-keyed multicast of
// change events. Publishers never block; each subscriber owns a bounded
// buffer and loses its oldest pending event when it falls behind.
package bus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/IvanBrykalov/syncache/model"
)

// Reason says why a collection changed.
type Reason string

const (
	ReasonOptimistic  Reason = "optimistic"
	ReasonConfirmed   Reason = "confirmed"
	ReasonRolledBack  Reason = "rolled-back"
	ReasonRefreshed   Reason = "refreshed"
	ReasonFetched     Reason = "fetched"
	ReasonInvalidated Reason = "invalidated"
	ReasonReset       Reason = "reset"
	ReasonFailed      Reason = "failed"
)

// Event is a change notification. Subscribers re-read Key from the cache
// to observe the new value.
type Event struct {
	Topic  model.Topic
	Key    model.Key
	Reason Reason
	At     time.Time
	// OpID links optimistic/confirmed/rolled-back events of one write.
	OpID string
	// Err is set on TopicRefreshFailed events.
	Err error
}

// Metrics receives publish/drop signals.
type Metrics interface {
	Published(topic model.Topic)
	Dropped(topic model.Topic)
}

// NoopMetrics does nothing.
type NoopMetrics struct{}

func (NoopMetrics) Published(model.Topic) {}
func (NoopMetrics) Dropped(model.Topic)   {}

// DefaultBuffer is the per-subscriber buffer when WithBuffer is not given.
const DefaultBuffer = 64

// Option configures a Bus.
type Option func(*Bus)

// WithBuffer sets the per-subscriber buffer size (minimum 1).
func WithBuffer(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.buffer = n
		}
	}
}

func WithMetrics(m Metrics) Option {
	return func(b *Bus) {
		if m != nil {
			b.metrics = m
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithClock overrides the time stamped on events published without At.
func WithClock(now func() time.Time) Option {
	return func(b *Bus) {
		if now != nil {
			b.now = now
		}
	}
}

// Bus multicasts events to subscribers. The zero value is not usable; use New.
type Bus struct {
	mu     sync.RWMutex // guards subs and closed
	subs   map[string]*Subscription
	closed bool

	buffer  int
	metrics Metrics
	logger  *zap.Logger
	now     func() time.Time

	published atomic.Uint64
	dropped   atomic.Uint64
}

// New constructs a Bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		subs:    make(map[string]*Subscription),
		buffer:  DefaultBuffer,
		metrics: NoopMetrics{},
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	b.logger = b.logger.Named("bus")
	return b
}

// Subscribe registers a subscriber for topics. No topics means every topic.
// Subscribing to a closed bus returns an already closed subscription.
// Delivery is lossy under backpressure: when the subscriber's buffer is
// full the oldest queued event is dropped to make room. Events only name
// what changed, so a subscriber that may lag should re-read the keys it
// shows rather than count events.
func (b *Bus) Subscribe(topics ...model.Topic) *Subscription {
	s := &Subscription{
		id:  uuid.NewString(),
		ch:  make(chan Event, b.buffer),
		bus: b,
	}
	if len(topics) > 0 {
		s.topics = make(map[model.Topic]struct{}, len(topics))
		for _, t := range topics {
			s.topics[t] = struct{}{}
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.shutdown()
		return s
	}
	b.subs[s.id] = s
	return s
}

// Publish delivers ev to every matching subscriber without blocking.
func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = b.now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	b.published.Add(1)
	b.metrics.Published(ev.Topic)
	for _, s := range b.subs {
		if !s.matches(ev.Topic) {
			continue
		}
		if s.deliver(ev) {
			b.dropped.Add(1)
			b.metrics.Dropped(ev.Topic)
			b.logger.Debug("subscriber lagging, dropped oldest event",
				zap.String("subscription", s.id),
				zap.String("topic", string(ev.Topic)),
			)
		}
	}
}

// Notify publishes a bare change on topic.
func (b *Bus) Notify(topic model.Topic) { b.Publish(Event{Topic: topic}) }

// Published returns the number of events accepted so far.
func (b *Bus) Published() uint64 { return b.published.Load() }

// Dropped returns the number of events lost to full subscriber buffers.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscription. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[string]*Subscription)
	b.mu.Unlock()

	for _, s := range subs {
		s.shutdown()
	}
}

func (b *Bus) unsubscribe(id string) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}
