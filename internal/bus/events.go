// Package bus is the in-process change notification channel. Delivery is
// synchronous, with no queue and no replay.
package bus

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Event represents a change notification.
type Event struct {
	Type      string         // e.g. "conversations.changed"
	Source    string         // originating component
	Payload   map[string]any // event-specific data
	Timestamp time.Time      // when the event was created
}

// EventHandler is a callback for events.
type EventHandler func(Event)

// EventBus fans events out to subscribers in registration order.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[string][]*subscription
	nextID   uint64
	logger   *slog.Logger
}

type subscription struct {
	id      uint64
	handler EventHandler
	active  atomic.Bool
}

func NewEventBus(logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{
		handlers: make(map[string][]*subscription),
		logger:   logger,
	}
}

// Subscribe registers handler for every event type.
func (eb *EventBus) Subscribe(handler EventHandler) (unsubscribe func()) {
	return eb.On("*", handler)
}

// On registers a handler for the given event type; "*" matches all events.
// The returned function removes the handler. It is idempotent and may be called
// from inside a handler.
func (eb *EventBus) On(eventType string, handler EventHandler) (unsubscribe func()) {
	eb.mu.Lock()
	eb.nextID++
	sub := &subscription{id: eb.nextID, handler: handler}
	sub.active.Store(true)
	eb.handlers[eventType] = append(eb.handlers[eventType], sub)
	eb.mu.Unlock()

	return func() {
		if !sub.active.CompareAndSwap(true, false) {
			return
		}
		eb.mu.Lock()
		defer eb.mu.Unlock()
		subs := eb.handlers[eventType]
		for i, s := range subs {
			if s.id == sub.id {
				eb.handlers[eventType] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		if len(eb.handlers[eventType]) == 0 {
			delete(eb.handlers, eventType)
		}
	}
}

// Publish delivers event to the current subscribers. Handlers run without the
// bus lock held; one removed mid-publish is skipped.
func (eb *EventBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.RLock()
	subs := make([]*subscription, 0, len(eb.handlers[event.Type])+len(eb.handlers["*"]))
	subs = append(subs, eb.handlers[event.Type]...)
	if event.Type != "*" {
		subs = append(subs, eb.handlers["*"]...)
	}
	eb.mu.RUnlock()

	for _, s := range subs {
		if !s.active.Load() {
			continue
		}
		eb.dispatch(s, event)
	}
}

func (eb *EventBus) dispatch(s *subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.logger.Error("event handler panic", "event", event.Type, "handler", s.id, "panic", r)
		}
	}()
	s.handler(event)
}

// Len returns the number of registered handlers across all event types.
func (eb *EventBus) Len() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	n := 0
	for _, subs := range eb.handlers {
		n += len(subs)
	}
	return n
}

// --- Well-known event types ---
const (
	EventConversationsChanged = "conversations.changed"
	EventTranslationsUpdated  = "translations.updated"
)
