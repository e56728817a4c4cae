// Package stream fans structured mutation events out to subscribers. It is
// the sole channel through which the external synchronization layer learns of
// state changes; every mutating core operation publishes exactly one event.
package stream

import (
	"context"
	"sync"
	"time"
)

// Event describes one committed mutation: the operation name, the resolved
// entity, and the key fields an indexer needs to mirror the change.
type Event struct {
	Sequence  uint64            `json:"sequence"`
	Operation string            `json:"operation"`
	Entity    string            `json:"entity"`
	EntityID  string            `json:"entity_id"`
	Fields    map[string]string `json:"fields,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Stream fan-outs mutation events to all active subscribers.
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
	seq  uint64
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 64)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish stamps the event with a sequence number and timestamp, then fans it
// out to all subscribers.
func (s *Stream) Publish(evt Event) Event {
	s.mu.Lock()
	s.seq++
	evt.Sequence = s.seq
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	s.mu.Unlock()

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
	return evt
}
