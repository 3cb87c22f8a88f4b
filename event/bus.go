package event

import "sync"

// Bus fans appended events out to subscribers. The engine publishes every
// event it appends; the WebSocket facade and other observers subscribe to
// all executions or to one execution id.
//
// Publishing never blocks: a subscriber that falls behind its buffer misses
// events rather than stalling the engine. Subscribers needing a complete
// history read the log instead.
type Bus struct {
	mutex   sync.RWMutex
	nextID  int
	subs    map[int]*subscription
}

type subscription struct {
	executionID string // empty subscribes to all executions
	ch          chan *Event
}

// NewBus creates an event bus with no subscribers.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[int]*subscription),
	}
}

// Subscribe registers a subscriber for one execution id, or for all events
// when executionID is empty. The returned cancel function unregisters the
// subscriber and closes the channel.
func (b *Bus) Subscribe(executionID string, buffer int) (<-chan *Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	sub := &subscription{
		executionID: executionID,
		ch:          make(chan *Event, buffer),
	}

	b.mutex.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mutex.Unlock()

	cancel := func() {
		b.mutex.Lock()
		defer b.mutex.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub.ch)
		}
	}
	return sub.ch, cancel
}

// Publish delivers an event to matching subscribers without blocking.
func (b *Bus) Publish(ev *Event) {
	if b == nil || ev == nil {
		return
	}
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	for _, sub := range b.subs {
		if sub.executionID != "" && sub.executionID != ev.ExecutionID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			// Slow subscriber: drop rather than stall the publisher.
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return len(b.subs)
}
