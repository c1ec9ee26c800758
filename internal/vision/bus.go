package vision

import (
	"sync"
)

// StateUpdate is published after every completed analysis.
type StateUpdate struct {
	EntityID string
	View     View
}

// StateObserver receives state updates.
type StateObserver interface {
	OnStateUpdate(update StateUpdate)
}

// Bus provides pub/sub for camera state updates. Observers must treat the
// delivered views as immutable.
type Bus struct {
	subscribers map[*busSubscription]bool
	mu          sync.RWMutex
}

type busSubscription struct {
	entityFilter string // empty means receive all cameras
	channel      chan StateUpdate
	observer     StateObserver
}

func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[*busSubscription]bool),
	}
}

// Subscribe registers an observer for updates from all cameras.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(observer StateObserver) func() {
	sub := &busSubscription{observer: observer}

	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subscribers, sub)
		b.mu.Unlock()
	}
}

// SubscribeChannel returns a buffered channel of updates and an unsubscribe
// function. Updates are dropped when the channel is full.
func (b *Bus) SubscribeChannel(bufferSize int) (<-chan StateUpdate, func()) {
	if bufferSize <= 0 {
		bufferSize = 10
	}

	ch := make(chan StateUpdate, bufferSize)
	sub := &busSubscription{channel: ch}

	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if _, ok := b.subscribers[sub]; ok {
			delete(b.subscribers, sub)
			close(ch)
		}
		b.mu.Unlock()
	}

	return ch, unsubscribe
}

// SubscribeCamera registers an observer for a single camera.
func (b *Bus) SubscribeCamera(entityID string, observer StateObserver) func() {
	sub := &busSubscription{entityFilter: entityID, observer: observer}

	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subscribers, sub)
		b.mu.Unlock()
	}
}

// Publish delivers an update to all matching subscribers. Observers are
// called synchronously so updates arrive in order.
func (b *Bus) Publish(update StateUpdate) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		if sub.entityFilter != "" && sub.entityFilter != update.EntityID {
			continue
		}
		if sub.observer != nil {
			sub.observer.OnStateUpdate(update)
		} else if sub.channel != nil {
			select {
			case sub.channel <- update:
			default:
				// Channel full, drop this update.
			}
		}
	}
}

// Close unsubscribes everything and closes channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subscribers {
		if sub.channel != nil {
			close(sub.channel)
		}
		delete(b.subscribers, sub)
	}
}
