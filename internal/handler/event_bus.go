// internal/handler/event_bus.go
package handler

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"can-bridge-service/internal/model"
)

// EventBus fans bridge events out to subscribers
type EventBus struct {
	subscribers map[uuid.UUID]*Subscription
	events      chan model.BridgeEvent
	done        chan struct{}
	stopOnce    sync.Once
	mutex       sync.RWMutex
	logger      *zap.Logger
}

// Subscription receives the events of one session, or of all sessions when
// SessionID is uuid.Nil
type Subscription struct {
	ID        uuid.UUID
	SessionID uuid.UUID
	Events    chan model.BridgeEvent
	dropped   atomic.Int64
}

// Dropped returns how many events were skipped because the subscriber was full
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// NewEventBus creates a new event bus
func NewEventBus(logger *zap.Logger) *EventBus {
	return &EventBus{
		subscribers: make(map[uuid.UUID]*Subscription),
		events:      make(chan model.BridgeEvent, 1000),
		done:        make(chan struct{}),
		logger:      logger.With(zap.String("component", "event_bus")),
	}
}

// Start distributes events until Stop is called
func (eb *EventBus) Start() {
	for {
		select {
		case event := <-eb.events:
			eb.distributeEvent(event)
		case <-eb.done:
			return
		}
	}
}

// Stop ends distribution
func (eb *EventBus) Stop() {
	eb.stopOnce.Do(func() { close(eb.done) })
}

// Publish queues an event; it never blocks the caller
func (eb *EventBus) Publish(event model.BridgeEvent) {
	select {
	case eb.events <- event:
	default:
		eb.logger.Warn("Event bus full, dropping event",
			zap.String("event_type", string(event.EventType)),
			zap.String("session_id", event.SessionID.String()),
		)
	}
}

// Subscribe registers a subscriber with the given buffer size
func (eb *EventBus) Subscribe(sessionID uuid.UUID, buffer int) *Subscription {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	if buffer < 1 {
		buffer = 100
	}
	sub := &Subscription{
		ID:        uuid.New(),
		SessionID: sessionID,
		Events:    make(chan model.BridgeEvent, buffer),
	}
	eb.subscribers[sub.ID] = sub
	return sub
}

// Unsubscribe removes a subscriber and closes its channel
func (eb *EventBus) Unsubscribe(sub *Subscription) {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	if _, ok := eb.subscribers[sub.ID]; ok {
		delete(eb.subscribers, sub.ID)
		close(sub.Events)
	}
}

// SubscriberCount returns the number of active subscribers
func (eb *EventBus) SubscriberCount() int {
	eb.mutex.RLock()
	defer eb.mutex.RUnlock()
	return len(eb.subscribers)
}

// distributeEvent delivers event to matching subscribers, skipping full ones
func (eb *EventBus) distributeEvent(event model.BridgeEvent) {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	for _, sub := range eb.subscribers {
		if sub.SessionID != uuid.Nil && sub.SessionID != event.SessionID {
			continue
		}
		select {
		case sub.Events <- event:
		default:
			sub.dropped.Add(1)
			eb.logger.Debug("Subscriber full, dropping event",
				zap.String("subscription_id", sub.ID.String()),
				zap.String("event_type", string(event.EventType)),
			)
		}
	}
}
