package events

import (
	"sync"
	"time"

	"voltguard/internal/faults"
	"voltguard/internal/metrics"
)

type Kind string

const (
	RequestCreated   Kind = "request_created"
	RequestAccepted  Kind = "request_accepted"
	RequestStarted   Kind = "request_started"
	SessionCompleted Kind = "session_completed"
	RequestCancelled Kind = "request_cancelled"
	RequestClosed    Kind = "request_closed"
	MessageSent      Kind = "message_sent"
)

type Event struct {
	Kind      Kind          `json:"event"`
	RequestID string        `json:"request_id"`
	ActorID   string        `json:"actor_id,omitempty"`
	Status    faults.Status `json:"status,omitempty"`
	At        time.Time     `json:"at"`
}

// Bus fans typed events out to subscribers. Slow subscribers drop events rather than block
// publishers.
type Bus struct {
	mu     sync.Mutex
	subs   map[*subscription]struct{}
	closed bool
}

type subscription struct {
	ch    chan Event
	kinds map[Kind]bool
}

func NewBus() *Bus {
	return &Bus{subs: make(map[*subscription]struct{})}
}

// Subscribe returns a channel receiving events of the given kinds (all kinds when none are given)
// and a function that ends the subscription and closes the channel.
func (b *Bus) Subscribe(buffer int, kinds ...Kind) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	s := &subscription{ch: make(chan Event, buffer)}
	if len(kinds) > 0 {
		s.kinds = make(map[Kind]bool, len(kinds))
		for _, k := range kinds {
			s.kinds[k] = true
		}
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(s.ch)
		return s.ch, func() {}
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if _, ok := b.subs[s]; ok {
				delete(b.subs, s)
				close(s.ch)
			}
			b.mu.Unlock()
		})
	}
}

func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	metrics.EventsPublished.WithLabelValues(string(e.Kind)).Inc()

	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		if s.kinds != nil && !s.kinds[e.Kind] {
			continue
		}
		select {
		case s.ch <- e:
		default:
		}
	}
}

// Close ends every subscription.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		close(s.ch)
		delete(b.subs, s)
	}
}
