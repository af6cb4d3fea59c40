package relay

import (
	"sync"

	"v2v-service/internal/domain/v2v"
)

// History keeps the most recent relayed messages for diagnostics. A capacity
// of zero keeps everything.
type History struct {
	mu       sync.Mutex
	capacity int
	items    []v2v.Message
	start    int
	total    uint64
}

func NewHistory(capacity int) *History {
	if capacity < 0 {
		capacity = 0
	}
	return &History{capacity: capacity}
}

func (h *History) Append(msg v2v.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.total++
	if h.capacity == 0 || len(h.items) < h.capacity {
		h.items = append(h.items, msg)
		return
	}
	h.items[h.start] = msg
	h.start = (h.start + 1) % h.capacity
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.items)
}

// Total counts every message ever appended, including evicted ones.
func (h *History) Total() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.total
}

// Snapshot returns the retained messages, oldest first.
func (h *History) Snapshot() []v2v.Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]v2v.Message, 0, len(h.items))
	out = append(out, h.items[h.start:]...)
	out = append(out, h.items[:h.start]...)
	return out
}
