package scheduler

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

type Kind string

const (
	KindInfo        Kind = "info"
	KindSkipped     Kind = "skipped"
	KindRetry       Kind = "retry"
	KindWarning     Kind = "warning"
	KindSoldOut     Kind = "sold_out"
	KindSearchError Kind = "search_error"
	KindBooked      Kind = "booked"
	KindFatal       Kind = "fatal"
	KindTerminal    Kind = "terminal"
)

// Event is one immutable line of a run's progress log.
type Event struct {
	Seq       int       `json:"seq"`
	Time      time.Time `json:"time"`
	Kind      Kind      `json:"kind"`
	Candidate string    `json:"candidate,omitempty"`
	Attempt   int       `json:"attempt,omitempty"`
	Message   string    `json:"message"`
	// Outcome is set on the terminal event only.
	Outcome Outcome `json:"outcome,omitempty"`
}

func (e Event) Terminal() bool { return e.Kind == KindTerminal }

// String renders the event as one progress line.
func (e Event) String() string {
	switch {
	case e.Candidate != "" && e.Attempt > 0:
		return fmt.Sprintf("[%s] (attempt %d) %s", e.Candidate, e.Attempt, e.Message)
	case e.Candidate != "":
		return fmt.Sprintf("[%s] %s", e.Candidate, e.Message)
	default:
		return e.Message
	}
}

// Stream is the append-only progress log of one run. The scheduler appends
// without ever blocking; consumers read incrementally with Next and may
// reconnect from any sequence number. Sequence numbers start at 1.
type Stream struct {
	mu      sync.Mutex
	events  []Event
	closed  bool
	changed chan struct{}
	now     func() time.Time
}

func NewStream() *Stream {
	return &Stream{changed: make(chan struct{}), now: time.Now}
}

func (s *Stream) append(e Event) Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Event{}
	}
	e.Seq = len(s.events) + 1
	e.Time = s.now()
	s.events = append(s.events, e)
	if e.Terminal() {
		s.closed = true
	}
	close(s.changed)
	s.changed = make(chan struct{})
	return e
}

// Next returns the events with Seq > after, waiting until at least one
// exists. A negative after reads from the start. Once the terminal event has been returned it reports io.EOF.
func (s *Stream) Next(ctx context.Context, after int) ([]Event, error) {
	if after < 0 {
		after = 0
	}
	for {
		s.mu.Lock()
		if after < len(s.events) {
			out := make([]Event, len(s.events)-after)
			copy(out, s.events[after:])
			s.mu.Unlock()
			return out, nil
		}
		if s.closed {
			s.mu.Unlock()
			return nil, io.EOF
		}
		wait := s.changed
		s.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Events returns a snapshot of everything appended so far.
func (s *Stream) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
