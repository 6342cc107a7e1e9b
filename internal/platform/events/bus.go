// Package events carries typed notifications between the transport layer and
// the components that react to them (session store, navigation, notices).
// Delivery is synchronous and in subscription order.
package events

import (
	"sync"
	"time"
)

// Topic names an event kind.
type Topic string

const (
	TopicSessionInvalidated Topic = "session.invalidated"
	TopicSessionChanged     Topic = "session.changed"
	TopicAccessDenied       Topic = "access.denied"
	TopicNotice             Topic = "notice"
)

// Event is anything that can travel on a Bus.
type Event interface {
	Topic() Topic
}

// SessionInvalidated is published when the server rejects the credential of
// an authenticated call.
type SessionInvalidated struct {
	Method    string
	Path      string
	RequestID string
	At        time.Time
}

func (SessionInvalidated) Topic() Topic { return TopicSessionInvalidated }

// AccessDenied is published when the server refuses an authenticated caller
// access to a resource.
type AccessDenied struct {
	Method    string
	Path      string
	RequestID string
	At        time.Time
}

func (AccessDenied) Topic() Topic { return TopicAccessDenied }

// SessionChanged reports a session state transition. States are the string
// forms of session.State.
type SessionChanged struct {
	From string
	To   string
}

func (SessionChanged) Topic() Topic { return TopicSessionChanged }

// Level is the severity of a user-facing notice.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notice is a user-facing message. Category is the error category for
// failures ("authentication", "network", ...) and empty otherwise.
type Notice struct {
	Level    Level
	Category string
	Message  string
}

func (Notice) Topic() Topic { return TopicNotice }

// Handler receives published events.
type Handler func(Event)

type subscription struct {
	id uint64
	fn Handler
}

// Bus is a synchronous publish/subscribe hub keyed by topic. It is safe for
// concurrent use; handlers run on the publishing goroutine.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[Topic][]subscription
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Topic][]subscription)}
}

// Subscribe registers fn for the given topics and returns a function that
// removes the registration.
func (b *Bus) Subscribe(fn Handler, topics ...Topic) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	for _, t := range topics {
		b.subs[t] = append(b.subs[t], subscription{id: id, fn: fn})
	}

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id, topics) })
	}
}

func (b *Bus) remove(id uint64, topics []Topic) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, t := range topics {
		subs := b.subs[t]
		for i, s := range subs {
			if s.id == id {
				b.subs[t] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		if len(b.subs[t]) == 0 {
			delete(b.subs, t)
		}
	}
}

// Publish delivers ev to every handler subscribed to its topic. Handlers may
// publish further events; the subscriber list is snapshotted before delivery.
func (b *Bus) Publish(ev Event) {
	if b == nil || ev == nil {
		return
	}
	b.mu.RLock()
	subs := make([]subscription, len(b.subs[ev.Topic()]))
	copy(subs, b.subs[ev.Topic()])
	b.mu.RUnlock()

	for _, s := range subs {
		s.fn(ev)
	}
}

// SubscriberCount returns the number of handlers registered for topic.
func (b *Bus) SubscriberCount(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
