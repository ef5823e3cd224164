package events

import "sync"

// EventType defines the type of event being broadcast.
type EventType string

const (
	EventSessionChanged     EventType = "session_changed"
	EventBalanceUpdated     EventType = "balance_updated"
	EventBalanceUnavailable EventType = "balance_unavailable"
	EventTxUpdated          EventType = "tx_updated"
	EventReport             EventType = "report"
)

// Event represents a core state change.
type Event struct {
	Type EventType   `json:"type"`
	Data interface{} `json:"data"`
}

// Subscriber is a channel that receives events.
type Subscriber chan Event

// Bus fans events out to every subscriber without blocking the publisher.
type Bus struct {
	mu          sync.RWMutex
	subscribers []Subscriber
	buffer      int
}

func NewBus() *Bus {
	return &Bus{buffer: 100}
}

// Subscribe adds a new subscriber and returns a channel to receive events.
func (b *Bus) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(Subscriber, b.buffer)
	b.subscribers = append(b.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(ch Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subscribers {
		if sub == ch {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			close(ch)
			break
		}
	}
}

// Publish delivers event to all subscribers. Slow subscribers whose buffer
// is full miss the event.
func (b *Bus) Publish(event Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subscribers {
		select {
		case sub <- event:
		default:
		}
	}
}
