package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventRunStarted   EventType = "RUN_STARTED"
	EventRunCompleted EventType = "RUN_COMPLETED"
	EventRunFailed    EventType = "RUN_FAILED"
	EventCacheHit     EventType = "CACHE_HIT"
	EventError        EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber // Subscribers to all events
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	// Set timestamp if not provided
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Notify specific subscribers
	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event) // Run in goroutine to avoid blocking
		}
	}

	// Notify all-event subscribers
	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishRunStarted publishes a run started event
func (eb *EventBus) PublishRunStarted(runID, inputHash string, periodCount, partnerCount int) {
	eb.Publish(Event{
		Type: EventRunStarted,
		Data: map[string]interface{}{
			"run_id":        runID,
			"input_hash":    inputHash,
			"period_count":  periodCount,
			"partner_count": partnerCount,
		},
	})
}

// PublishRunCompleted publishes a run completed event
func (eb *EventBus) PublishRunCompleted(runID, inputHash string, totalDistributed string, durationMs int64) {
	eb.Publish(Event{
		Type: EventRunCompleted,
		Data: map[string]interface{}{
			"run_id":            runID,
			"input_hash":        inputHash,
			"total_distributed": totalDistributed,
			"duration_ms":       durationMs,
		},
	})
}

// PublishRunFailed publishes a run failed event
func (eb *EventBus) PublishRunFailed(runID, inputHash, reason string) {
	eb.Publish(Event{
		Type: EventRunFailed,
		Data: map[string]interface{}{
			"run_id":     runID,
			"input_hash": inputHash,
			"reason":     reason,
		},
	})
}

// PublishCacheHit publishes a cache hit event for a previously computed run
func (eb *EventBus) PublishCacheHit(inputHash string) {
	eb.Publish(Event{
		Type: EventCacheHit,
		Data: map[string]interface{}{
			"input_hash": inputHash,
		},
	})
}

// PublishError publishes an error event
func (eb *EventBus) PublishError(source string, err error) {
	eb.Publish(Event{
		Type: EventError,
		Data: map[string]interface{}{
			"source": source,
			"error":  err.Error(),
		},
	})
}
