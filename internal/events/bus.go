// Package events carries the "active client changed" signal as an
// explicit subscription instead of an ambient global. Session managers
// subscribe on construction and release the subscription when closed.
package events

import "sync"

// Bus fans a client-changed notification out to all subscribers.
// Delivery is non-blocking: a subscriber that is not draining its
// channel misses intermediate notifications but always sees the latest.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan string
	next int
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan string)}
}

// Subscribe registers a subscriber. The returned release func removes
// the subscription and closes the channel; it is safe to call twice.
func (b *Bus) Subscribe() (<-chan string, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan string, 1)
	b.subs[id] = ch

	var once sync.Once
	release := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(ch)
		})
	}
	return ch, release
}

// Publish notifies every subscriber that the acting client changed.
func (b *Bus) Publish(clientID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- clientID:
		default:
			// Replace the stale pending notification with the latest.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- clientID:
			default:
			}
		}
	}
}
