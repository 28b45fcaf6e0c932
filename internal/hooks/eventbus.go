package hooks

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// defaultQueueSize bounds the async event queue.
const defaultQueueSize = 1000

// Subscription is a handle for a registered subscriber.
type Subscription struct {
	ID          string
	Event       HookEvent
	Callback    func(*EventContext)
	Filter      func(*EventContext) bool
	Unsubscribe func()
}

// EventBus manages event distribution to subscribers.
type EventBus struct {
	subscribers  map[HookEvent][]*Subscription
	mu           sync.RWMutex
	eventQueue   chan *EventContext
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
	done         chan struct{}
	dropped      atomic.Int64
}

// NewEventBus creates a new event bus and starts its async dispatcher.
func NewEventBus() *EventBus {
	return newEventBus(defaultQueueSize)
}

func newEventBus(queueSize int) *EventBus {
	ctx, cancel := context.WithCancel(context.Background())
	bus := &EventBus{
		subscribers: make(map[HookEvent][]*Subscription),
		eventQueue:  make(chan *EventContext, queueSize),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	go bus.processQueue()
	return bus
}

// Subscribe registers a callback for a specific event type.
func (b *EventBus) Subscribe(event HookEvent, callback func(*EventContext)) *Subscription {
	return b.SubscribeWithFilter(event, callback, nil)
}

// SubscribeWithFilter registers a callback with an optional filter function.
func (b *EventBus) SubscribeWithFilter(event HookEvent, callback func(*EventContext), filter func(*EventContext) bool) *Subscription {
	sub := &Subscription{
		ID:       uuid.NewString(),
		Event:    event,
		Callback: callback,
		Filter:   filter,
	}
	sub.Unsubscribe = func() { b.unsubscribe(sub) }

	b.mu.Lock()
	b.subscribers[event] = append(b.subscribers[event], sub)
	b.mu.Unlock()
	return sub
}

func (b *EventBus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[sub.Event]
	for i, s := range subs {
		if s.ID == sub.ID {
			b.subscribers[sub.Event] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
}

// Publish delivers an event to all subscribers synchronously. A panicking
// subscriber is logged and does not affect the others.
func (b *EventBus) Publish(ev *EventContext) {
	if ev == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if ev.Error != nil && ev.ErrorMessage == "" {
		ev.ErrorMessage = ev.Error.Error()
	}

	b.mu.RLock()
	subs := make([]*Subscription, len(b.subscribers[ev.Event]))
	copy(subs, b.subscribers[ev.Event])
	b.mu.RUnlock()

	for _, sub := range subs {
		if sub.Filter != nil && !sub.Filter(ev) {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Errorf("Panic in event subscriber for %s: %v", ev.Event, r)
				}
			}()
			sub.Callback(ev)
		}()
	}
}

// PublishAsync queues an event. Events are dropped when the queue is full or the
// bus has shut down; the dispatcher never waits on subscribers.
func (b *EventBus) PublishAsync(ev *EventContext) {
	if ev == nil {
		return
	}
	select {
	case <-b.ctx.Done():
		return
	default:
	}
	select {
	case b.eventQueue <- ev:
	default:
		b.dropped.Add(1)
		log.Warnf("Event queue full, dropping event: %s", ev.Event)
	}
}

// Dropped returns how many async events were discarded.
func (b *EventBus) Dropped() int64 {
	return b.dropped.Load()
}

func (b *EventBus) processQueue() {
	defer close(b.done)
	for {
		select {
		case <-b.ctx.Done():
			return
		case ev := <-b.eventQueue:
			b.Publish(ev)
		}
	}
}

// Shutdown stops the async dispatcher. Queued events not yet delivered are discarded.
func (b *EventBus) Shutdown() {
	b.shutdownOnce.Do(func() {
		b.cancel()
		<-b.done
	})
}
