package bus

import (
	"strings"
	"sync"
	"sync/atomic"
)

// Bus carries daemon events to the control API's watch streams. Kinds are
// dotted ("conversation.updated") and subscribers select them by prefix.
// Publish never blocks; a subscriber whose buffer is full misses the event.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]*subscription
	next    int
	dropped atomic.Int64
}

type subscription struct {
	prefixes []string
	ch       chan Event
}

func (s *subscription) wants(kind string) bool {
	if len(s.prefixes) == 0 {
		return true
	}
	for _, p := range s.prefixes {
		if strings.HasPrefix(kind, p) {
			return true
		}
	}
	return false
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[int]*subscription)}
}

// Publish delivers evt to every subscriber that selected its kind.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !sub.wants(evt.Kind) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe returns a channel receiving, in publish order, every event whose
// kind starts with one of prefixes; no prefix selects everything. The
// returned function unsubscribes and may be called more than once.
func (b *Bus) Subscribe(bufSize int, prefixes ...string) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscription{prefixes: prefixes, ch: ch}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Dropped returns how many deliveries were skipped on full buffers.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}
