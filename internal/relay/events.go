package relay

import (
	"sync"

	"murmur/internal/store"
)

// EventType names a relay notification.
type EventType string

const (
	EventMessageReceived EventType = "message_received"
	EventMessageDeleted  EventType = "message_deleted"
	EventMessageUpdated  EventType = "message_updated"
)

// Event is delivered to subscribers. Message is set for received and
// updated events; deletions carry only the id.
type Event struct {
	Type      EventType      `json:"type"`
	MessageID string         `json:"message_id"`
	Message   *store.Message `json:"message,omitempty"`
	Expired   bool           `json:"expired,omitempty"`
}

type subscriber struct {
	id int
	fn func(Event)
}

// observers is a multi-subscriber registry. Callbacks run synchronously on
// the publishing goroutine, outside the lock.
type observers struct {
	mu   sync.RWMutex
	next int
	subs []subscriber
}

func (o *observers) subscribe(fn func(Event)) func() {
	if fn == nil {
		return func() {}
	}
	o.mu.Lock()
	o.next++
	id := o.next
	o.subs = append(o.subs, subscriber{id: id, fn: fn})
	o.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			for i, sub := range o.subs {
				if sub.id == id {
					o.subs = append(o.subs[:i:i], o.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (o *observers) publish(ev Event) {
	o.mu.RLock()
	subs := make([]subscriber, len(o.subs))
	copy(subs, o.subs)
	o.mu.RUnlock()
	for _, sub := range subs {
		sub.fn(ev)
	}
}

// Subscribe registers fn for every relay event and returns a function that
// removes it.
func (r *Relay) Subscribe(fn func(Event)) (cancel func()) {
	return r.events.subscribe(fn)
}

// OnMessageReceived registers fn for incoming messages.
func (r *Relay) OnMessageReceived(fn func(store.Message)) (cancel func()) {
	return r.events.subscribe(func(ev Event) {
		if ev.Type == EventMessageReceived && ev.Message != nil {
			fn(*ev.Message)
		}
	})
}

// OnMessageDeleted registers fn for deletions, whether explicit or by TTL.
func (r *Relay) OnMessageDeleted(fn func(id string)) (cancel func()) {
	return r.events.subscribe(func(ev Event) {
		if ev.Type == EventMessageDeleted {
			fn(ev.MessageID)
		}
	})
}
