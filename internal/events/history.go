package events

import "sync"

// DefaultHistorySize is the default capacity of the event history.
const DefaultHistorySize = 100

// History is a thread-safe circular buffer of recently emitted events.
// It backs the status endpoint so an operator can see what the bridge
// pushed lately without holding an SSE subscription open.
type History struct {
	mu       sync.RWMutex
	entries  []Event
	capacity int
	head     int // index where the next entry will be written
	count    int
	full     bool
}

// NewHistory creates a history with the given capacity.
// Non-positive capacities fall back to DefaultHistorySize.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &History{
		entries:  make([]Event, capacity),
		capacity: capacity,
	}
}

// Append records one event, overwriting the oldest once full.
func (h *History) Append(evt Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries[h.head] = evt
	h.head = (h.head + 1) % h.capacity
	if h.count < h.capacity {
		h.count++
	} else {
		h.full = true
	}
}

// Recent returns a copy of up to n most recent events, oldest first.
// n <= 0 or n past the stored count returns everything.
func (h *History) Recent(n int) []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.count == 0 {
		return []Event{}
	}

	all := make([]Event, h.count)
	if h.full {
		// Wrapped: the oldest entry sits at head.
		copied := copy(all, h.entries[h.head:])
		copy(all[copied:], h.entries[:h.head])
	} else {
		copy(all, h.entries[:h.count])
	}

	if n <= 0 || n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

// Len returns the number of stored events.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}
