// Package broadcast fans committed session deltas out to viewers and sinks in
// commit order.
package broadcast

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrUnknownStream is returned when publishing to a session the hub was never
// told about.
var ErrUnknownStream = errors.New("broadcast stream not opened")

// DefaultQueueSize is the per-subscriber buffer used when none is given.
const DefaultQueueSize = 256

// Sink receives every delivered event of every session in commit order.
// Deliver is called with the hub lock held and must not block.
type Sink interface {
	Deliver(ev Event)
}

// Hub orders and delivers session events. Committers may publish out of
// order once they have left their exclusive section; the hub holds events
// back until every earlier sequence number of the session has arrived.
type Hub struct {
	mu      sync.Mutex
	streams map[uuid.UUID]*stream
	sinks   []Sink
	lagged  uint64
}

type stream struct {
	next    uint64
	pending map[uint64][]Event
	subs    map[*Subscriber]struct{}

	// final is the last sequence of a finished session.
	final    uint64
	finished bool
}

// Stats is a point-in-time view of the hub.
type Stats struct {
	Sessions      int            `json:"sessions"`
	Subscribers   int            `json:"subscribers"`
	Pending       int            `json:"pending"`
	PerSession    map[string]int `json:"perSession"`
	LaggedDropped uint64         `json:"laggedDropped"`
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		streams: make(map[uuid.UUID]*stream),
	}
}

// AddSink registers an ordered consumer of all events.
func (h *Hub) AddSink(s Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sinks = append(h.sinks, s)
}

// Open prepares the stream of a session whose last committed sequence is
// lastSeq. Opening an existing stream is a no-op.
func (h *Hub) Open(sessionID uuid.UUID, lastSeq uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.streams[sessionID]; ok {
		return
	}
	h.streams[sessionID] = &stream{
		next:    lastSeq + 1,
		pending: make(map[uint64][]Event),
		subs:    make(map[*Subscriber]struct{}),
	}
}

// Publish hands over the events of one commit. All events must carry the
// same session and sequence number.
func (h *Hub) Publish(events ...Event) error {
	if len(events) == 0 {
		return nil
	}
	sessionID, seq := events[0].SessionID, events[0].Seq
	for _, ev := range events[1:] {
		if ev.SessionID != sessionID || ev.Seq != seq {
			return fmt.Errorf("publish: mixed commit %s/%d and %s/%d", sessionID, seq, ev.SessionID, ev.Seq)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	st, ok := h.streams[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStream, sessionID)
	}
	if st.finished && seq > st.final {
		return fmt.Errorf("publish: commit %d after final commit %d of %s", seq, st.final, sessionID)
	}
	if seq < st.next {
		log.Warn().
			Str("session_id", sessionID.String()).
			Uint64("seq", seq).
			Uint64("next", st.next).
			Msg("dropping already delivered commit")
		return nil
	}
	st.pending[seq] = append(st.pending[seq], events...)

	for {
		batch, ready := st.pending[st.next]
		if !ready {
			break
		}
		delete(st.pending, st.next)
		st.next++
		for _, ev := range batch {
			h.deliver(st, ev)
		}
	}
	h.retire(sessionID, st)
	return nil
}

// Finish marks finalSeq as the last commit of a session. The stream is
// dropped once that commit is delivered and its last subscriber has left.
func (h *Hub) Finish(sessionID uuid.UUID, finalSeq uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	st, ok := h.streams[sessionID]
	if !ok {
		return
	}
	st.final = finalSeq
	st.finished = true
	h.retire(sessionID, st)
}

// retire must be called with h.mu held.
func (h *Hub) retire(sessionID uuid.UUID, st *stream) {
	if !st.finished || st.next <= st.final || len(st.subs) > 0 {
		return
	}
	delete(h.streams, sessionID)
	log.Debug().
		Str("session_id", sessionID.String()).
		Uint64("final_seq", st.final).
		Msg("broadcast stream retired")
}

func (h *Hub) deliver(st *stream, ev Event) {
	for _, sink := range h.sinks {
		sink.Deliver(ev)
	}
	for sub := range st.subs {
		if sub.offer(ev) {
			continue
		}
		sub.overflow(ev)
		delete(st.subs, sub)
		h.lagged++
		log.Warn().
			Str("session_id", ev.SessionID.String()).
			Str("subscriber_id", sub.ID.String()).
			Uint64("seq", ev.Seq).
			Msg("subscriber queue full, forcing resync")
	}
}

// Register adds a subscriber whose snapshot reflects every commit up to and
// including fromSeq. Callers must hold whatever lock serializes commits of
// the session so that no commit after fromSeq has been published yet.
func (h *Hub) Register(sessionID uuid.UUID, fromSeq uint64, queueSize int) (*Subscriber, error) {
	if queueSize < 1 {
		queueSize = DefaultQueueSize
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	st, ok := h.streams[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStream, sessionID)
	}
	sub := &Subscriber{
		ID:        uuid.New(),
		SessionID: sessionID,
		fromSeq:   fromSeq,
		ch:        make(chan Event, queueSize),
		hub:       h,
	}
	st.subs[sub] = struct{}{}

	log.Debug().
		Str("session_id", sessionID.String()).
		Str("subscriber_id", sub.ID.String()).
		Uint64("from_seq", fromSeq).
		Int("subscribers", len(st.subs)).
		Msg("subscriber registered")
	return sub, nil
}

// Idle returns a subscriber for a finished session whose snapshot is at
// seq. No events follow; its channel closes when the subscriber is closed.
func (h *Hub) Idle(sessionID uuid.UUID, seq uint64) *Subscriber {
	return &Subscriber{
		ID:        uuid.New(),
		SessionID: sessionID,
		fromSeq:   seq,
		ch:        make(chan Event),
		hub:       h,
	}
}

// Unregister removes sub and closes its stream.
func (h *Hub) Unregister(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sub.closed {
		return
	}
	if st, ok := h.streams[sub.SessionID]; ok {
		delete(st.subs, sub)
		h.retire(sub.SessionID, st)
	}
	sub.closed = true
	close(sub.ch)
}

// Stats reports stream and subscriber counts.
func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := Stats{
		Sessions:      len(h.streams),
		PerSession:    make(map[string]int, len(h.streams)),
		LaggedDropped: h.lagged,
	}
	for id, st := range h.streams {
		s.Subscribers += len(st.subs)
		s.PerSession[id.String()] = len(st.subs)
		for _, evs := range st.pending {
			s.Pending += len(evs)
		}
	}
	return s
}
