package events

import (
	"sync"
	"time"
)

// EventType represents the kinds of events the bridge publishes.
type EventType string

const (
	EventSweepStarted         EventType = "SWEEP_STARTED"
	EventSweepCompleted       EventType = "SWEEP_COMPLETED"
	EventSweepAborted         EventType = "SWEEP_ABORTED"
	EventAccountRefreshed     EventType = "ACCOUNT_REFRESHED"
	EventAccountRefreshFailed EventType = "ACCOUNT_REFRESH_FAILED"
	EventVerificationMismatch EventType = "VERIFICATION_MISMATCH"
	EventError                EventType = "ERROR"
)

// Event represents a system event.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events.
type Subscriber func(Event)

// Bus manages event publishing and subscriptions.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type.
func (b *Bus) Subscribe(eventType EventType, subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subscribers[eventType] = append(b.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events.
func (b *Bus) SubscribeAll(subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.allSubs = append(b.allSubs, subscriber)
}

// Publish sends an event to all subscribers. Subscribers run in their own
// goroutines so a slow consumer cannot stall the scheduler.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if subs, ok := b.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event)
		}
	}

	for _, sub := range b.allSubs {
		go sub(event)
	}
}

// PublishSweepStarted publishes a sweep start event.
func (b *Bus) PublishSweepStarted(sweepID string, accountCount int) {
	b.Publish(Event{
		Type: EventSweepStarted,
		Data: map[string]interface{}{
			"sweep_id": sweepID,
			"accounts": accountCount,
		},
	})
}

// PublishSweepCompleted publishes a sweep completion event.
func (b *Bus) PublishSweepCompleted(sweepID string, refreshed, failed int, duration time.Duration) {
	b.Publish(Event{
		Type: EventSweepCompleted,
		Data: map[string]interface{}{
			"sweep_id":  sweepID,
			"refreshed": refreshed,
			"failed":    failed,
			"duration":  duration.String(),
		},
	})
}

// PublishSweepAborted publishes a sweep abort event (terminal unavailable).
func (b *Bus) PublishSweepAborted(sweepID, reason string) {
	b.Publish(Event{
		Type: EventSweepAborted,
		Data: map[string]interface{}{
			"sweep_id": sweepID,
			"reason":   reason,
		},
	})
}

// PublishAccountRefreshed publishes a per-account refresh event.
func (b *Bus) PublishAccountRefreshed(sweepID string, accountID int64, balance, equity, floatingProfit float64) {
	b.Publish(Event{
		Type: EventAccountRefreshed,
		Data: map[string]interface{}{
			"sweep_id":        sweepID,
			"account_id":      accountID,
			"balance":         balance,
			"equity":          equity,
			"floating_profit": floatingProfit,
		},
	})
}

// PublishAccountRefreshFailed publishes a per-account failure event.
func (b *Bus) PublishAccountRefreshFailed(sweepID string, accountID int64, reason string) {
	b.Publish(Event{
		Type: EventAccountRefreshFailed,
		Data: map[string]interface{}{
			"sweep_id":   sweepID,
			"account_id": accountID,
			"reason":     reason,
		},
	})
}

// PublishVerificationMismatch publishes a reconciliation mismatch event.
func (b *Bus) PublishVerificationMismatch(label string, delta, tolerance float64) {
	b.Publish(Event{
		Type: EventVerificationMismatch,
		Data: map[string]interface{}{
			"label":     label,
			"delta":     delta,
			"tolerance": tolerance,
		},
	})
}

// PublishError publishes an error event.
func (b *Bus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	b.Publish(Event{
		Type: EventError,
		Data: data,
	})
}
