// Package events provides the typed event stream the debate runner publishes
// progress on. Callers subscribe instead of passing callbacks, so a slow
// consumer can only drop events, never stall round progression.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	// Session lifecycle events
	EventDebateStarted   EventType = "debate.started"
	EventDebatePaused    EventType = "debate.paused"
	EventDebateResumed   EventType = "debate.resumed"
	EventDebateCompleted EventType = "debate.completed"
	EventDebateFailed    EventType = "debate.failed"

	// Round progress events
	EventRoundStarted     EventType = "debate.round.started"
	EventRoundCompleted   EventType = "debate.round.completed"
	EventMessageGenerated EventType = "debate.message.generated"
	EventConsensusChecked EventType = "debate.consensus.checked"
	EventIntervention     EventType = "debate.intervention"

	// Credit events
	EventCreditsDeducted EventType = "credits.deducted"
	EventCreditsRefunded EventType = "credits.refunded"
)

// Event is one progress notification from a running session.
type Event struct {
	ID        string
	Type      EventType
	SessionID string
	Payload   interface{}
	Timestamp time.Time
}

// NewEvent creates a new event for the given session.
func NewEvent(eventType EventType, sessionID string, payload interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		SessionID: sessionID,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// Subscriber holds one subscription channel.
type Subscriber struct {
	ID      string
	Channel chan *Event
	Types   []EventType
	closed  bool
	mu      sync.RWMutex
}

// Close closes the subscriber channel.
func (s *Subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.Channel)
	}
}

// trySend delivers an event unless the subscriber is closed or its buffer
// stays full past timeout.
func (s *Subscriber) trySend(event *Event, timeout time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case s.Channel <- event:
		return true
	case <-timer.C:
		return false
	}
}

// BusConfig holds configuration for the event bus.
type BusConfig struct {
	BufferSize     int           // Buffer size for subscriber channels
	PublishTimeout time.Duration // How long a full subscriber may block a publish
}

// DefaultBusConfig returns default bus configuration.
func DefaultBusConfig() *BusConfig {
	return &BusConfig{
		BufferSize:     256,
		PublishTimeout: 10 * time.Millisecond,
	}
}

// BusMetrics tracks event bus statistics.
type BusMetrics struct {
	EventsPublished   int64
	EventsDelivered   int64
	EventsDropped     int64
	SubscribersActive int64
}

// Bus provides pub/sub for session progress events.
type Bus struct {
	subscribers map[EventType][]*Subscriber
	allSubs     []*Subscriber
	mu          sync.RWMutex
	config      *BusConfig
	metrics     *BusMetrics
	closed      bool
}

// NewBus creates a new event bus.
func NewBus(config *BusConfig) *Bus {
	if config == nil {
		config = DefaultBusConfig()
	}
	return &Bus{
		subscribers: make(map[EventType][]*Subscriber),
		allSubs:     make([]*Subscriber, 0),
		config:      config,
		metrics:     &BusMetrics{},
	}
}

// Publish sends an event to all matching subscribers. Delivery to a full
// subscriber is dropped after the publish timeout.
func (b *Bus) Publish(event *Event) {
	if event == nil {
		return
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	subs := b.subscribers[event.Type]
	allSubs := b.allSubs
	b.mu.RUnlock()

	atomic.AddInt64(&b.metrics.EventsPublished, 1)

	for _, sub := range subs {
		b.deliver(sub, event)
	}
	for _, sub := range allSubs {
		b.deliver(sub, event)
	}
}

func (b *Bus) deliver(sub *Subscriber, event *Event) {
	if sub.trySend(event, b.config.PublishTimeout) {
		atomic.AddInt64(&b.metrics.EventsDelivered, 1)
	} else {
		atomic.AddInt64(&b.metrics.EventsDropped, 1)
	}
}

// Subscribe subscribes to events of the given types. Subscribing to no types
// subscribes to every event.
func (b *Bus) Subscribe(types ...EventType) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscriber{
		ID:      uuid.New().String(),
		Channel: make(chan *Event, b.config.BufferSize),
		Types:   types,
	}

	if b.closed {
		sub.closed = true
		close(sub.Channel)
		return sub
	}

	if len(types) == 0 {
		b.allSubs = append(b.allSubs, sub)
	} else {
		for _, eventType := range types {
			b.subscribers[eventType] = append(b.subscribers[eventType], sub)
		}
	}
	atomic.AddInt64(&b.metrics.SubscribersActive, 1)

	return sub
}

// Unsubscribe removes the subscriber and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}

	found := false
	b.mu.Lock()
	for _, eventType := range sub.Types {
		list := b.subscribers[eventType]
		for i, s := range list {
			if s.ID == sub.ID {
				b.subscribers[eventType] = append(list[:i], list[i+1:]...)
				found = true
				break
			}
		}
	}
	for i, s := range b.allSubs {
		if s.ID == sub.ID {
			b.allSubs = append(b.allSubs[:i], b.allSubs[i+1:]...)
			found = true
			break
		}
	}
	b.mu.Unlock()

	sub.Close()
	// An already-removed subscriber must not decrement the gauge again.
	if found {
		atomic.AddInt64(&b.metrics.SubscribersActive, -1)
	}
}

// Metrics returns a snapshot of the bus counters.
func (b *Bus) Metrics() BusMetrics {
	return BusMetrics{
		EventsPublished:   atomic.LoadInt64(&b.metrics.EventsPublished),
		EventsDelivered:   atomic.LoadInt64(&b.metrics.EventsDelivered),
		EventsDropped:     atomic.LoadInt64(&b.metrics.EventsDropped),
		SubscribersActive: atomic.LoadInt64(&b.metrics.SubscribersActive),
	}
}

// Close shuts the bus down and closes every subscriber channel.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	seen := make(map[string]*Subscriber)
	for _, list := range b.subscribers {
		for _, s := range list {
			seen[s.ID] = s
		}
	}
	for _, s := range b.allSubs {
		seen[s.ID] = s
	}
	b.subscribers = make(map[EventType][]*Subscriber)
	b.allSubs = nil
	b.mu.Unlock()

	for _, s := range seen {
		s.Close()
	}
}
