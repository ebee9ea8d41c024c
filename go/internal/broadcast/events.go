package broadcast

import (
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/aln/go/internal/ledger"
	"github.com/mcdev12/aln/go/internal/models"
)

// EventType names a committed state change.
type EventType string

const (
	EventTypeTransactionNew EventType = "transaction:new"
	EventTypeSessionUpdate  EventType = "session:update"
	EventTypeGroupCompleted EventType = "group:completed"

	// EventTypeResync is sent to a subscriber that fell behind, right before
	// its stream is closed. It carries no payload.
	EventTypeResync EventType = "sync:resync"
)

// Event is a delta produced by one commit. Events of the same commit share a
// sequence number.
type Event struct {
	ID          uuid.UUID               `json:"id"`
	Type        EventType               `json:"type"`
	SessionID   uuid.UUID               `json:"sessionId"`
	Seq         uint64                  `json:"seq"`
	Timestamp   time.Time               `json:"timestamp"`
	Transaction *models.Transaction     `json:"transaction,omitempty"`
	TeamScore   *models.TeamScore       `json:"teamScore,omitempty"`
	Session     *models.Session         `json:"session,omitempty"`
	Group       *ledger.GroupCompletion `json:"group,omitempty"`
}

// NewEvent stamps a fresh event id.
func NewEvent(typ EventType, sessionID uuid.UUID, seq uint64, ts time.Time) Event {
	return Event{
		ID:        uuid.New(),
		Type:      typ,
		SessionID: sessionID,
		Seq:       seq,
		Timestamp: ts,
	}
}
