// Package ledger holds the authoritative per-session transaction log and the
// team totals derived from it.
//
// Neither type is safe for concurrent use. The session manager owns one of
// each per session and only touches them inside the session's exclusive
// section.
package ledger

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mcdev12/aln/go/internal/models"
)

var (
	// ErrOutOfOrder is returned when an append would break the sequence or
	// timestamp ordering of the ledger.
	ErrOutOfOrder = errors.New("transaction out of ledger order")
	// ErrNotCommittable is returned for transactions that cannot be stored.
	ErrNotCommittable = errors.New("transaction cannot be committed")
)

type claimKey struct {
	tokenID string
	mode    models.Mode
}

// Ledger is an append-only transaction log keyed for deduplication.
type Ledger struct {
	entries []models.Transaction
	byID    map[uuid.UUID]int
	claims  map[claimKey]int
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		byID:   make(map[uuid.UUID]int),
		claims: make(map[claimKey]int),
	}
}

// Claim returns the accepted transaction holding the scoring claim on
// tokenID in mode. Non-scoring modes never hold claims.
func (l *Ledger) Claim(tokenID string, mode models.Mode) (models.Transaction, bool) {
	if !mode.Scoring() {
		return models.Transaction{}, false
	}
	idx, ok := l.claims[claimKey{tokenID, mode}]
	if !ok {
		return models.Transaction{}, false
	}
	return l.entries[idx], true
}

// Append commits tx. An accepted scoring transaction whose token is already
// claimed is stored as a duplicate with zero points and a reference to the
// claiming transaction. The stored record is returned.
func (l *Ledger) Append(tx models.Transaction) (models.Transaction, error) {
	if tx.ID == uuid.Nil {
		return models.Transaction{}, fmt.Errorf("%w: missing id", ErrNotCommittable)
	}
	if _, exists := l.byID[tx.ID]; exists {
		return models.Transaction{}, fmt.Errorf("%w: id %s already in ledger", ErrNotCommittable, tx.ID)
	}
	if tx.Status != models.TransactionStatusAccepted && tx.Status != models.TransactionStatusDuplicate {
		return models.Transaction{}, fmt.Errorf("%w: status %q", ErrNotCommittable, tx.Status)
	}
	if n := len(l.entries); n > 0 {
		last := l.entries[n-1]
		if tx.Seq <= last.Seq {
			return models.Transaction{}, fmt.Errorf("%w: seq %d after %d", ErrOutOfOrder, tx.Seq, last.Seq)
		}
		if tx.ServerTimestamp.Before(last.ServerTimestamp) {
			return models.Transaction{}, fmt.Errorf("%w: server timestamp moved backwards", ErrOutOfOrder)
		}
	}

	key := claimKey{tx.TokenID, tx.Mode}
	if tx.Status == models.TransactionStatusAccepted && tx.Mode.Scoring() {
		if idx, claimed := l.claims[key]; claimed {
			orig := l.entries[idx]
			tx.Status = models.TransactionStatusDuplicate
			tx.Points = 0
			tx.DuplicateOf = &models.DuplicateRef{
				TransactionID:   orig.ID,
				TeamID:          orig.TeamID,
				ServerTimestamp: orig.ServerTimestamp,
			}
		}
	}
	if tx.Status == models.TransactionStatusDuplicate {
		tx.Points = 0
	}

	l.entries = append(l.entries, tx)
	idx := len(l.entries) - 1
	l.byID[tx.ID] = idx
	if tx.Scored() {
		l.claims[key] = idx
	}
	return tx, nil
}

// Get returns a transaction by id.
func (l *Ledger) Get(id uuid.UUID) (models.Transaction, bool) {
	idx, ok := l.byID[id]
	if !ok {
		return models.Transaction{}, false
	}
	return l.entries[idx], true
}

// Len returns the number of committed transactions.
func (l *Ledger) Len() int {
	return len(l.entries)
}

// Transactions returns a copy of the ledger in commit order.
func (l *Ledger) Transactions() []models.Transaction {
	out := make([]models.Transaction, len(l.entries))
	copy(out, l.entries)
	return out
}
