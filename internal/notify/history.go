package notify

import (
	"encoding/json"
	"sync"
	"time"

	"voltguard/internal/events"
)

type Record struct {
	ReceivedAt time.Time       `json:"received_at"`
	Topic      string          `json:"topic"`
	Kind       events.Kind     `json:"kind,omitempty"`
	RequestID  string          `json:"request_id,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

// history keeps the latest records in a fixed circular buffer.
type history struct {
	mu    sync.Mutex
	slots []Record
	next  int
	full  bool
}

func newHistory(size int) *history {
	if size <= 0 {
		size = 50
	}
	return &history{slots: make([]Record, size)}
}

func (h *history) add(r Record) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.slots[h.next] = r
	h.next = (h.next + 1) % len(h.slots)
	if h.next == 0 {
		h.full = true
	}
}

// snapshot returns the records oldest first, only those of kind when kind is set.
func (h *history) snapshot(kind events.Kind) []Record {
	h.mu.Lock()
	defer h.mu.Unlock()

	ordered := h.slots[:h.next]
	if h.full {
		ordered = append(append([]Record(nil), h.slots[h.next:]...), h.slots[:h.next]...)
	}
	out := make([]Record, 0, len(ordered))
	for _, r := range ordered {
		if kind == "" || r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}
