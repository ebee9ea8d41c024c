// Package store is the durable journal of sessions and their ledgers. It is
// written behind the outbox relay and read back on startup.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/aln/go/internal/models"
)

// ErrNotFound is returned when a session is not in the store.
var ErrNotFound = errors.New("not found")

// SessionRecord is one persisted session with its ledger in sequence order.
type SessionRecord struct {
	Session      models.Session
	Seq          uint64
	Transactions []models.Transaction
}

// Store persists sessions and committed transactions.
type Store interface {
	// SaveSession upserts the session record. seq is the commit sequence of
	// the change; older sequences never overwrite newer ones.
	SaveSession(ctx context.Context, session models.Session, seq uint64) error
	// SaveTransaction inserts a committed transaction. Writing the same id
	// twice is a no-op.
	SaveTransaction(ctx context.Context, tx models.Transaction) error
	LoadSession(ctx context.Context, id uuid.UUID) (SessionRecord, error)
	// LoadSessions returns every session in start order.
	LoadSessions(ctx context.Context) ([]SessionRecord, error)
	Ping(ctx context.Context) error
	Close() error
}

func duplicateRef(id *uuid.UUID, team string, ts *time.Time) *models.DuplicateRef {
	if id == nil {
		return nil
	}
	ref := &models.DuplicateRef{TransactionID: *id, TeamID: team}
	if ts != nil {
		ref.ServerTimestamp = *ts
	}
	return ref
}
