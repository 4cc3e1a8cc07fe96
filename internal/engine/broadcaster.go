package engine

import (
	"sync"
	"sync/atomic"

	"github.com/zacharyburnett/matrixci/pkg/types"
)

// subscriberBuffer is the per-subscriber channel capacity. A subscriber
// that falls this far behind starts losing events instead of blocking the
// run.
const subscriberBuffer = 256

// Broadcaster fans run events out to subscribers. Publishing never blocks:
// events a full subscriber cannot take are dropped and counted.
type Broadcaster struct {
	mu      sync.RWMutex
	subs    map[<-chan *types.RunEvent]chan *types.RunEvent
	dropped atomic.Uint64
	closed  bool
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs: make(map[<-chan *types.RunEvent]chan *types.RunEvent),
	}
}

// Subscribe registers a new subscriber and returns its event channel. The
// channel is closed by Unsubscribe or Close.
func (b *Broadcaster) Subscribe() <-chan *types.RunEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *types.RunEvent, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch
	}
	b.subs[ch] = ch
	return ch
}

// Unsubscribe removes a subscriber and closes its channel. Unknown channels
// are ignored.
func (b *Broadcaster) Unsubscribe(ch <-chan *types.RunEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(sub)
	}
}

// Publish delivers an event to every subscriber that has buffer space.
func (b *Broadcaster) Publish(ev *types.RunEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, sub := range b.subs {
		select {
		case sub <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many events were lost to full subscriber buffers.
func (b *Broadcaster) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes every subscriber channel. Further publishes are discarded
// and further subscribers get an already-closed channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subs {
		close(sub)
	}
	b.subs = make(map[<-chan *types.RunEvent]chan *types.RunEvent)
}
