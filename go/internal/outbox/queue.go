package outbox

import (
	"sync"

	"github.com/mcdev12/aln/go/internal/broadcast"
)

// eventQueue is an unbounded FIFO. Enqueue never blocks, so the hub can
// hand events over while holding its lock.
type eventQueue struct {
	mu     sync.Mutex
	events []broadcast.Event
	closed bool
	signal chan struct{} // buffered, size 1
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]broadcast.Event, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends ev. It returns false once the queue is closed.
func (q *eventQueue) Enqueue(ev broadcast.Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.events = append(q.events, ev)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue pops the front event without blocking.
func (q *eventQueue) TryDequeue() (broadcast.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return broadcast.Event{}, false
	}
	ev := q.events[0]
	// Release the payload pointers held by the backing array.
	q.events[0] = broadcast.Event{}
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return ev, true
}

// Wait signals that events may be available. It is closed by Close.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

func (q *eventQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
