package broadcast

import (
	"github.com/google/uuid"
)

// Subscriber is one viewer's bounded delta queue.
type Subscriber struct {
	ID        uuid.UUID
	SessionID uuid.UUID

	fromSeq uint64
	ch      chan Event
	hub     *Hub
	// closed and lagged are guarded by hub.mu.
	closed bool
	lagged bool
}

// Events returns the delta stream. It is closed when the subscriber is
// unregistered or falls behind; in the latter case the last event received
// is an EventTypeResync.
func (s *Subscriber) Events() <-chan Event {
	return s.ch
}

// FromSeq is the commit sequence the subscriber's snapshot was taken at.
func (s *Subscriber) FromSeq() uint64 {
	return s.fromSeq
}

// Lagged reports whether the subscriber was dropped for falling behind.
func (s *Subscriber) Lagged() bool {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return s.lagged
}

// Close unregisters the subscriber. Safe to call more than once.
func (s *Subscriber) Close() {
	s.hub.Unregister(s)
}

// offer must be called with hub.mu held.
func (s *Subscriber) offer(ev Event) bool {
	if s.closed || ev.Seq <= s.fromSeq {
		return true
	}
	select {
	case s.ch <- ev:
		return true
	default:
		return false
	}
}

// overflow drops everything queued, leaves a resync marker and closes the
// stream. Must be called with hub.mu held.
func (s *Subscriber) overflow(ev Event) {
	for drained := false; !drained; {
		select {
		case <-s.ch:
		default:
			drained = true
		}
	}
	resync := NewEvent(EventTypeResync, s.SessionID, ev.Seq, ev.Timestamp)
	s.ch <- resync
	s.lagged = true
	s.closed = true
	close(s.ch)
}
