package healing

import (
	"sync"

	"github.com/automesh/meshheal/internal/domain"
)

// DefaultSubscriberBuffer is the per-subscriber channel capacity
const DefaultSubscriberBuffer = 256

// Broker fans orchestrator events out to subscribers. Publish never
// blocks: a subscriber whose buffer is full misses the event.
type Broker struct {
	mu       sync.RWMutex
	subs     map[*subscription]struct{}
	buffer   int
	onDrop   func()
	shutdown bool
}

type subscription struct {
	ch        chan domain.Event
	closeOnce sync.Once
}

func (s *subscription) close() {
	s.closeOnce.Do(func() { close(s.ch) })
}

// NewBroker creates a Broker. onDrop, if set, runs once per dropped event
// per subscriber.
func NewBroker(buffer int, onDrop func()) *Broker {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Broker{
		subs:   make(map[*subscription]struct{}),
		buffer: buffer,
		onDrop: onDrop,
	}
}

// Subscribe registers a new subscriber. The returned function removes it
// and closes the channel; calling it more than once is harmless.
func (b *Broker) Subscribe() (<-chan domain.Event, func()) {
	sub := &subscription{ch: make(chan domain.Event, b.buffer)}

	b.mu.Lock()
	if b.shutdown {
		b.mu.Unlock()
		sub.close()
		return sub.ch, func() {}
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	return sub.ch, func() {
		b.mu.Lock()
		delete(b.subs, sub)
		b.mu.Unlock()
		sub.close()
	}
}

// Publish delivers ev to every subscriber with room for it
func (b *Broker) Publish(ev domain.Event) {
	// The read lock is held across the sends so an unsubscribe cannot
	// close a channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			if b.onDrop != nil {
				b.onDrop()
			}
		}
	}
}

// Len returns the number of live subscribers
func (b *Broker) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Shutdown closes every subscriber channel and rejects new subscribers
func (b *Broker) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.shutdown = true
	for sub := range b.subs {
		sub.close()
		delete(b.subs, sub)
	}
}
