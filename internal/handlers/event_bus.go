package handlers

import (
	"sync"
)

const (
	TopicPlaybackState = "playback.state"
	TopicTrackStarted  = "playback.track_started"
	TopicPlaybackError = "playback.error"
)

type EventHandler func(data interface{})

// Subscription identifies one handler registration.
type Subscription struct {
	Topic string
	id    uint64
}

type subscriber struct {
	id      uint64
	handler EventHandler
}

// EventBus delivers events to the handlers of a topic synchronously, in
// registration order. Handlers must not block for long.
type EventBus struct {
	subscribers map[string][]subscriber
	nextID      uint64
	mutex       sync.RWMutex
}

func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[string][]subscriber),
	}
}

func (bus *EventBus) Subscribe(topic string, handler EventHandler) Subscription {
	bus.mutex.Lock()
	defer bus.mutex.Unlock()
	bus.nextID++
	bus.subscribers[topic] = append(bus.subscribers[topic], subscriber{id: bus.nextID, handler: handler})
	return Subscription{Topic: topic, id: bus.nextID}
}

func (bus *EventBus) Publish(topic string, data interface{}) {
	bus.mutex.RLock()
	subs := bus.subscribers[topic]
	bus.mutex.RUnlock()

	for _, s := range subs {
		s.handler(data)
	}
}

// Unsubscribe removes a single registration. Unknown subscriptions are ignored.
func (bus *EventBus) Unsubscribe(sub Subscription) {
	bus.mutex.Lock()
	defer bus.mutex.Unlock()

	subs := bus.subscribers[sub.Topic]
	kept := make([]subscriber, 0, len(subs))
	for _, s := range subs {
		if s.id != sub.id {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		delete(bus.subscribers, sub.Topic)
		return
	}
	bus.subscribers[sub.Topic] = kept
}

// UnsubscribeAll drops every handler of a topic.
func (bus *EventBus) UnsubscribeAll(topic string) {
	bus.mutex.Lock()
	defer bus.mutex.Unlock()
	delete(bus.subscribers, topic)
}
