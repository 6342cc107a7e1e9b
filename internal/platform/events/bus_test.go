package events

import (
	"sync"
	"testing"
)

func TestBus_PublishDeliversToTopicSubscribers(t *testing.T) {
	bus := NewBus()

	var got []Event
	bus.Subscribe(func(ev Event) { got = append(got, ev) }, TopicSessionInvalidated)

	bus.Publish(SessionInvalidated{Path: "/doctor/patients"})
	bus.Publish(AccessDenied{Path: "/receptionist/patients"})

	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}
	if ev, ok := got[0].(SessionInvalidated); !ok || ev.Path != "/doctor/patients" {
		t.Errorf("unexpected event %#v", got[0])
	}
}

func TestBus_SubscribeMultipleTopics(t *testing.T) {
	bus := NewBus()

	count := 0
	bus.Subscribe(func(Event) { count++ }, TopicSessionInvalidated, TopicAccessDenied)

	bus.Publish(SessionInvalidated{})
	bus.Publish(AccessDenied{})
	bus.Publish(Notice{Message: "ignored"})

	if count != 2 {
		t.Errorf("expected 2 deliveries, got %d", count)
	}
}

func TestBus_DeliveryOrder(t *testing.T) {
	bus := NewBus()

	var order []int
	bus.Subscribe(func(Event) { order = append(order, 1) }, TopicNotice)
	bus.Subscribe(func(Event) { order = append(order, 2) }, TopicNotice)
	bus.Subscribe(func(Event) { order = append(order, 3) }, TopicNotice)

	bus.Publish(Notice{})

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("expected delivery order [1 2 3], got %v", order)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()

	count := 0
	unsubscribe := bus.Subscribe(func(Event) { count++ }, TopicNotice, TopicAccessDenied)
	bus.Publish(Notice{})
	unsubscribe()
	unsubscribe()
	bus.Publish(Notice{})
	bus.Publish(AccessDenied{})

	if count != 1 {
		t.Errorf("expected 1 delivery before unsubscribe, got %d", count)
	}
	if n := bus.SubscriberCount(TopicNotice); n != 0 {
		t.Errorf("expected no notice subscribers, got %d", n)
	}
}

func TestBus_HandlerMayPublish(t *testing.T) {
	bus := NewBus()

	var notices []Notice
	bus.Subscribe(func(Event) {
		bus.Publish(Notice{Level: LevelError, Message: "Your session has expired. Please log in again."})
	}, TopicSessionInvalidated)
	bus.Subscribe(func(ev Event) { notices = append(notices, ev.(Notice)) }, TopicNotice)

	bus.Publish(SessionInvalidated{})

	if len(notices) != 1 {
		t.Fatalf("expected 1 notice, got %d", len(notices))
	}
}

func TestBus_NilSafe(t *testing.T) {
	var bus *Bus
	bus.Publish(Notice{})

	NewBus().Publish(nil)
}

func TestBus_ConcurrentPublish(t *testing.T) {
	bus := NewBus()

	var mu sync.Mutex
	count := 0
	bus.Subscribe(func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	}, TopicNotice)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Publish(Notice{})
		}()
	}
	wg.Wait()

	if count != 50 {
		t.Errorf("expected 50 deliveries, got %d", count)
	}
}
