// Package events provides a lightweight pub/sub event bus for session observability.
//
// Events are delivered in publish order by a single dispatch goroutine.
// Publish never blocks: when the queue is full the event is dropped and
// counted, so audio and network paths are never slowed by listeners.
package events

import (
	"sync"
	"sync/atomic"
)

// DefaultQueueSize is the number of events buffered before Publish drops.
const DefaultQueueSize = 1024

// Listener is a function that handles events.
type Listener func(*Event)

// EventBus manages event distribution to listeners.
type EventBus struct {
	mu              sync.RWMutex
	listeners       map[EventType][]Listener
	globalListeners []Listener

	queue     chan *Event
	done      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
	dropped   atomic.Int64
}

// NewEventBus creates a new event bus with the default queue size.
func NewEventBus() *EventBus {
	return NewEventBusWithQueue(DefaultQueueSize)
}

// NewEventBusWithQueue creates a new event bus buffering up to size events.
func NewEventBusWithQueue(size int) *EventBus {
	if size <= 0 {
		size = DefaultQueueSize
	}
	eb := &EventBus{
		listeners: make(map[EventType][]Listener),
		queue:     make(chan *Event, size),
		done:      make(chan struct{}),
	}
	go eb.dispatch()
	return eb
}

// Subscribe registers a listener for a specific event type.
func (eb *EventBus) Subscribe(eventType EventType, listener Listener) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.listeners[eventType] = append(eb.listeners[eventType], listener)
}

// SubscribeAll registers a listener for all event types.
func (eb *EventBus) SubscribeAll(listener Listener) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.globalListeners = append(eb.globalListeners, listener)
}

// Publish queues an event for asynchronous delivery.
func (eb *EventBus) Publish(event *Event) {
	if eb == nil || event == nil || eb.closed.Load() {
		return
	}
	defer func() {
		// Close may race with a publish in flight.
		if recover() != nil {
			eb.dropped.Add(1)
		}
	}()
	select {
	case eb.queue <- event:
	default:
		eb.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (eb *EventBus) Dropped() int64 {
	return eb.dropped.Load()
}

// Close stops accepting events, delivers everything already queued, and
// waits for the dispatcher to exit.
func (eb *EventBus) Close() {
	eb.closeOnce.Do(func() {
		eb.closed.Store(true)
		close(eb.queue)
	})
	<-eb.done
}

// Clear removes all listeners (primarily for tests).
func (eb *EventBus) Clear() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.listeners = make(map[EventType][]Listener)
	eb.globalListeners = nil
}

func (eb *EventBus) dispatch() {
	defer close(eb.done)
	for event := range eb.queue {
		eb.mu.RLock()
		specific := append([]Listener(nil), eb.listeners[event.Type]...)
		global := append([]Listener(nil), eb.globalListeners...)
		eb.mu.RUnlock()

		for _, listener := range specific {
			safeInvoke(listener, event)
		}
		for _, listener := range global {
			safeInvoke(listener, event)
		}
	}
}

func safeInvoke(listener Listener, event *Event) {
	defer func() { _ = recover() }()
	listener(event)
}
