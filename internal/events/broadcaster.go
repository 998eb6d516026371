// Package events implements the local push channel of the bridge. What
// the LoRA Manager frontend receives as WebSocket pushes when it runs
// inside its own host arrives here as named events fanned out to SSE
// subscribers. Publishing never blocks: a slow subscriber loses events
// rather than stalling the handler that emitted them.
package events

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/lm-remote/LMBridge/internal/api/middleware"
)

// subscriberBuffer is the per-subscriber channel depth. A browser tab
// that stops reading for longer than this backlog starts losing events.
const subscriberBuffer = 64

// Event is one named push with its payload.
type Event struct {
	Name    string         `json:"name"`
	Payload map[string]any `json:"payload"`
	At      time.Time      `json:"at"`
}

// Broadcaster fans events out to subscribers and keeps a short history
// for the status surface.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
	history     *History
}

// NewBroadcaster returns an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[chan Event]struct{}),
		history:     NewHistory(DefaultHistorySize),
	}
}

// Subscribe registers a new subscriber and returns its channel. The
// channel stays open until Unsubscribe.
func (b *Broadcaster) Subscribe() chan Event {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	n := len(b.subscribers)
	b.mu.Unlock()
	middleware.SetSSESubscribers(n)
	return ch
}

// Unsubscribe removes a subscriber and closes its channel. Unknown
// channels are ignored, so double unsubscribes are harmless.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
	n := len(b.subscribers)
	b.mu.Unlock()
	middleware.SetSSESubscribers(n)
}

// Emit publishes one named event to every subscriber without blocking.
func (b *Broadcaster) Emit(name string, payload map[string]any) {
	evt := Event{Name: name, Payload: payload, At: time.Now()}
	b.history.Append(evt)
	middleware.RecordEventEmitted(name)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
			log.Debugf("events: dropping %s for a slow subscriber", name)
		}
	}
}

// Count returns the current number of subscribers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Recent returns up to n most recently emitted events, oldest first.
func (b *Broadcaster) Recent(n int) []Event {
	return b.history.Recent(n)
}
