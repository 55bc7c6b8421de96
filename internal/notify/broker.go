// Package notify persists user notifications and fans them out to live
// subscribers over a pub/sub broker.
package notify

import (
	"context"
	"sync"

	"github.com/oralhistory/backend/internal/models"
)

// Event types delivered to stream subscribers.
const (
	EventConnected       = "connected"
	EventNewNotification = "new_notification"
	EventCountUpdate     = "count_update"
)

const defaultBuffer = 32

// Event is a frame delivered to a user's notification stream.
type Event struct {
	Type         string               `json:"type"`
	Count        *int                 `json:"count,omitempty"`
	Notification *models.Notification `json:"notification,omitempty"`
}

// Connected is the first frame of every stream.
func Connected() Event { return Event{Type: EventConnected} }

// CountUpdate reports the unread total.
func CountUpdate(n int) Event { return Event{Type: EventCountUpdate, Count: &n} }

// NewNotification carries a freshly created notification.
func NewNotification(n models.Notification) Event {
	return Event{Type: EventNewNotification, Notification: &n}
}

// Broker delivers events to the subscribers of a user. Delivery never
// blocks the publisher: a subscriber whose buffer is full misses the event.
type Broker interface {
	Subscribe(userID string) (<-chan Event, func())
	Publish(ctx context.Context, userID string, evt Event) error
	Close() error
}

// LocalBroker is an in-process Broker.
type LocalBroker struct {
	mu     sync.Mutex
	buffer int
	subs   map[string]map[chan Event]struct{}
	closed bool
}

// NewLocalBroker creates a broker whose subscribers buffer up to buffer events.
func NewLocalBroker(buffer int) *LocalBroker {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &LocalBroker{buffer: buffer, subs: make(map[string]map[chan Event]struct{})}
}

// Subscribe returns a channel receiving userID's events and an idempotent
// cancel function that closes it.
func (b *LocalBroker) Subscribe(userID string) (<-chan Event, func()) {
	ch := make(chan Event, b.buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	set, ok := b.subs[userID]
	if !ok {
		set = make(map[chan Event]struct{})
		b.subs[userID] = set
	}
	set[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		set, ok := b.subs[userID]
		if !ok {
			return
		}
		if _, ok := set[ch]; ok {
			delete(set, ch)
			close(ch)
		}
		if len(set) == 0 {
			delete(b.subs, userID)
		}
	}
	return ch, cancel
}

// Publish delivers evt to every current subscriber of userID.
func (b *LocalBroker) Publish(_ context.Context, userID string, evt Event) error {
	b.deliver(userID, evt)
	return nil
}

func (b *LocalBroker) deliver(userID string, evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs[userID] {
		select {
		case sub <- evt:
		default:
			// Drop rather than block the publisher.
		}
	}
}

// Subscribers returns the number of open subscriptions for userID.
func (b *LocalBroker) Subscribers(userID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[userID])
}

// Close closes every open subscription.
func (b *LocalBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for userID, set := range b.subs {
		for ch := range set {
			close(ch)
		}
		delete(b.subs, userID)
	}
	return nil
}

var _ Broker = (*LocalBroker)(nil)
