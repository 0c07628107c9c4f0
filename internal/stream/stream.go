package stream

import (
	"context"
	"sync"
	"time"
)

// Event kinds published on the moderation feed.
const (
	KindSubmitted = "submission.created"
	KindReviewed  = "submission.reviewed"
	KindImages    = "submission.images"
)

// Event describes a change admins watching the queue care about.
type Event struct {
	Kind         string    `json:"kind"`
	SubmissionID string    `json:"submission_id"`
	Status       string    `json:"status,omitempty"`
	ActorID      string    `json:"actor_id,omitempty"`
	Title        string    `json:"title,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Stream fan-outs moderation events to all active subscribers (SSE clients).
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber and returns a channel which will receive events.
// The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)

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

// Publish fan-outs the event to all subscribers. Slow subscribers miss events.
func (s *Stream) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Subscribers reports the number of live subscriptions.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}
