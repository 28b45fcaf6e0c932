package hooks

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestEventBus_Subscribe(t *testing.T) {
	bus := NewEventBus()
	defer bus.Shutdown()

	var got *EventContext
	sub := bus.Subscribe(EventTurnCompleted, func(ev *EventContext) { got = ev })
	if sub == nil || sub.ID == "" {
		t.Fatal("Subscribe returned an unusable subscription")
	}

	bus.Publish(&EventContext{Event: EventTurnCompleted, SessionID: "s1", Error: errors.New("late")})

	if got == nil {
		t.Fatal("Callback should have been called")
	}
	if got.Timestamp.IsZero() {
		t.Error("Publish should stamp the event")
	}
	if got.ErrorMessage != "late" {
		t.Errorf("Expected error message to be filled, got %q", got.ErrorMessage)
	}
}

func TestEventBus_SubscribeWithFilter(t *testing.T) {
	bus := NewEventBus()
	defer bus.Shutdown()

	var calls int32
	bus.SubscribeWithFilter(EventAgentFailed, func(*EventContext) {
		atomic.AddInt32(&calls, 1)
	}, func(ev *EventContext) bool {
		return ev.AgentID == "faq"
	})

	bus.Publish(&EventContext{Event: EventAgentFailed, AgentID: "general"})
	bus.Publish(&EventContext{Event: EventAgentFailed, AgentID: "faq"})

	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("Expected 1 callback call, got %d", calls)
	}
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := NewEventBus()
	defer bus.Shutdown()

	var first, second int32
	sub := bus.Subscribe(EventTurnDegraded, func(*EventContext) { atomic.AddInt32(&first, 1) })
	bus.Subscribe(EventTurnDegraded, func(*EventContext) { atomic.AddInt32(&second, 1) })

	sub.Unsubscribe()
	bus.Publish(&EventContext{Event: EventTurnDegraded})

	if first != 0 || second != 1 {
		t.Errorf("Expected only the remaining subscriber to run, got %d/%d", first, second)
	}
}

func TestEventBus_PanicIsolation(t *testing.T) {
	bus := NewEventBus()
	defer bus.Shutdown()

	var reached bool
	bus.Subscribe(EventTurnCompleted, func(*EventContext) { panic("bad subscriber") })
	bus.Subscribe(EventTurnCompleted, func(*EventContext) { reached = true })

	bus.Publish(&EventContext{Event: EventTurnCompleted})
	if !reached {
		t.Error("A panicking subscriber must not stop delivery")
	}
}

func TestEventBus_Async(t *testing.T) {
	bus := NewEventBus()
	defer bus.Shutdown()

	received := make(chan string, 1)
	bus.Subscribe(EventSessionStarted, func(ev *EventContext) { received <- ev.SessionID })
	bus.PublishAsync(&EventContext{Event: EventSessionStarted, SessionID: "s9"})

	select {
	case id := <-received:
		if id != "s9" {
			t.Errorf("Expected s9, got %s", id)
		}
	case <-time.After(time.Second):
		t.Fatal("Async event not received")
	}
}

func TestEventBus_DropsWhenFull(t *testing.T) {
	bus := newEventBus(1)
	block := make(chan struct{})
	bus.Subscribe(EventTurnCompleted, func(*EventContext) { <-block })

	for i := 0; i < 10; i++ {
		bus.PublishAsync(&EventContext{Event: EventTurnCompleted})
	}
	if bus.Dropped() == 0 {
		t.Error("Expected events to be dropped once the queue is full")
	}
	close(block)
	bus.Shutdown()

	// Publishing after shutdown is a no-op.
	bus.PublishAsync(&EventContext{Event: EventTurnCompleted})
}
